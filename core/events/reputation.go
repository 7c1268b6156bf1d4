package events

import (
	"strconv"

	"repcollateral/core/types"
)

const (
	TypeReputationUpdated          = "reputation.updated"
	TypeReputationScorerAuthorized = "reputation.scorerAuthorized"
	TypeReputationScorerRevoked    = "reputation.scorerRevoked"
	TypeReputationOwnerChanged     = "reputation.ownerChanged"
)

// ReputationUpdated is emitted whenever a scorer changes a category score.
type ReputationUpdated struct {
	User     [20]byte
	Scorer   [20]byte
	Category string
	Delta    int64
	NewTotal uint64
	Reason   string
}

// EventType implements the Event interface.
func (ReputationUpdated) EventType() string { return TypeReputationUpdated }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e ReputationUpdated) Event() *types.Event {
	attrs := map[string]string{
		"user":     formatAddress(e.User),
		"scorer":   formatAddress(e.Scorer),
		"category": e.Category,
		"delta":    strconv.FormatInt(e.Delta, 10),
		"newTotal": strconv.FormatUint(e.NewTotal, 10),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeReputationUpdated, Attributes: attrs}
}

// ScorerAuthorized is emitted when the owner admits a new scorer.
type ScorerAuthorized struct {
	Scorer [20]byte
}

// EventType implements the Event interface.
func (ScorerAuthorized) EventType() string { return TypeReputationScorerAuthorized }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e ScorerAuthorized) Event() *types.Event {
	return &types.Event{
		Type:       TypeReputationScorerAuthorized,
		Attributes: map[string]string{"scorer": formatAddress(e.Scorer)},
	}
}

// ScorerRevoked is emitted when the owner removes a scorer.
type ScorerRevoked struct {
	Scorer [20]byte
}

// EventType implements the Event interface.
func (ScorerRevoked) EventType() string { return TypeReputationScorerRevoked }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e ScorerRevoked) Event() *types.Event {
	return &types.Event{
		Type:       TypeReputationScorerRevoked,
		Attributes: map[string]string{"scorer": formatAddress(e.Scorer)},
	}
}

// OwnerChanged is emitted when ledger ownership moves to a new address.
type OwnerChanged struct {
	Previous [20]byte
	Owner    [20]byte
}

// EventType implements the Event interface.
func (OwnerChanged) EventType() string { return TypeReputationOwnerChanged }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e OwnerChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeReputationOwnerChanged,
		Attributes: map[string]string{
			"previous": formatAddress(e.Previous),
			"owner":    formatAddress(e.Owner),
		},
	}
}
