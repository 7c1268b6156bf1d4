package reputation

import (
	"errors"
	"fmt"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte) ([][]byte, error)
}

var (
	recordPrefix    = []byte("reputation/record/")
	scorerPrefix    = []byte("reputation/scorer/")
	scorerIndexKey  = []byte("reputation/scorers")
	ownerKey        = []byte("reputation/owner")
	errNilLedger    = errors.New("reputation: ledger not initialised")
	errNilStorage   = errors.New("reputation: storage unavailable")
	errZeroIdentity = errors.New("reputation: zero address")
)

var (
	// ErrNotAuthorized marks mutations attempted by an address that is neither
	// the owner nor an authorized scorer.
	ErrNotAuthorized = errors.New("reputation: not authorized")
	// ErrInvalidCategory is returned for category identifiers outside the
	// fixed enumeration.
	ErrInvalidCategory = errors.New("reputation: invalid category")
	// ErrInvalidUser rejects updates addressed to the zero address.
	ErrInvalidUser = errors.New("reputation: invalid user")
	// ErrOwnerNotSet is returned by owner-gated calls before the ledger has
	// been initialised with an owner.
	ErrOwnerNotSet = errors.New("reputation: owner not set")
)

func recordKey(user [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", recordPrefix, user))
}

func scorerKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", scorerPrefix, addr))
}

// Ledger persists per-user reputation records and the authorized scorer set.
// It performs no authorization itself; Engine gates every mutation.
type Ledger struct {
	store storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) ready() error {
	if l == nil {
		return errNilLedger
	}
	if l.store == nil {
		return errNilStorage
	}
	return nil
}

// Record loads the record for user. Absent users yield an all-zero,
// inactive record and ok=false.
func (l *Ledger) Record(user [20]byte) (*Record, bool, error) {
	if err := l.ready(); err != nil {
		return nil, false, err
	}
	record := newRecord()
	ok, err := l.store.KVGet(recordKey(user), record)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return newRecord(), false, nil
	}
	record.normalize()
	return record, true, nil
}

// PutRecord stores the record for user.
func (l *Ledger) PutRecord(user [20]byte, record *Record) error {
	if err := l.ready(); err != nil {
		return err
	}
	if record == nil {
		return errors.New("reputation: record required")
	}
	return l.store.KVPut(recordKey(user), record)
}

// Owner returns the configured owner, ok=false when none has been set.
func (l *Ledger) Owner() ([20]byte, bool, error) {
	var owner [20]byte
	if err := l.ready(); err != nil {
		return owner, false, err
	}
	ok, err := l.store.KVGet(ownerKey, &owner)
	if err != nil {
		return owner, false, err
	}
	return owner, ok && owner != ([20]byte{}), nil
}

// SetOwner replaces the owner.
func (l *Ledger) SetOwner(owner [20]byte) error {
	if err := l.ready(); err != nil {
		return err
	}
	if owner == ([20]byte{}) {
		return errZeroIdentity
	}
	return l.store.KVPut(ownerKey, owner)
}

// IsScorer reports whether addr belongs to the authorized scorer set.
func (l *Ledger) IsScorer(addr [20]byte) (bool, error) {
	if err := l.ready(); err != nil {
		return false, err
	}
	var authorized bool
	ok, err := l.store.KVGet(scorerKey(addr), &authorized)
	if err != nil {
		return false, err
	}
	return ok && authorized, nil
}

// SetScorer adds or removes addr from the scorer set and keeps the sorted
// index in sync.
func (l *Ledger) SetScorer(addr [20]byte, authorized bool) error {
	if err := l.ready(); err != nil {
		return err
	}
	if addr == ([20]byte{}) {
		return errZeroIdentity
	}
	if err := l.store.KVPut(scorerKey(addr), authorized); err != nil {
		return err
	}
	if authorized {
		return l.store.KVAppend(scorerIndexKey, addr[:])
	}
	return l.store.KVRemove(scorerIndexKey, addr[:])
}

// Scorers lists the authorized scorers in byte order.
func (l *Ledger) Scorers() ([][20]byte, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	list, err := l.store.KVGetList(scorerIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(list))
	for _, raw := range list {
		if len(raw) != 20 {
			return nil, fmt.Errorf("reputation: corrupt scorer index entry of %d bytes", len(raw))
		}
		var addr [20]byte
		copy(addr[:], raw)
		out = append(out, addr)
	}
	return out, nil
}
