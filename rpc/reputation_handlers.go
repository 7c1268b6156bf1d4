package rpc

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"repcollateral/native/reputation"
)

type reputationUserParams struct {
	User string `json:"user"`
}

type reputationUpdateParams struct {
	Caller   string `json:"caller"`
	User     string `json:"user"`
	Category string `json:"category"`
	Delta    int64  `json:"delta"`
	Reason   string `json:"reason,omitempty"`
}

type reputationScorerParams struct {
	Caller string `json:"caller"`
	Scorer string `json:"scorer"`
}

type reputationOwnerParams struct {
	Caller string `json:"caller"`
	Owner  string `json:"owner"`
}

type reputationUpdateResult struct {
	User     string `json:"user"`
	Category string `json:"category"`
	Delta    int64  `json:"delta"`
	NewTotal uint64 `json:"newTotal"`
	Tier     string `json:"tier"`
}

type scorerResult struct {
	Scorer     string `json:"scorer"`
	Authorized bool   `json:"authorized"`
}

type scorersResult struct {
	Owner   string   `json:"owner"`
	Scorers []string `json:"scorers"`
}

// parseCategory accepts a category name or its numeric identifier.
func parseCategory(value string) (reputation.Category, error) {
	trimmed := strings.TrimSpace(value)
	if n, err := strconv.ParseUint(trimmed, 10, 8); err == nil {
		category := reputation.Category(n)
		if !category.Valid() {
			return 0, fmt.Errorf("%w: %d", reputation.ErrInvalidCategory, n)
		}
		return category, nil
	}
	return reputation.ParseCategory(trimmed)
}

func (s *Server) handleGetUserReputation(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params reputationUserParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	snapshot, err := s.node.GetUserReputation(r.Context(), user)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatReputation(user, snapshot))
}

func (s *Server) handleGetReputationTier(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params reputationUserParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	tier, err := s.node.GetReputationTier(r.Context(), user)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, tierJSON{User: formatAddress(user), Tier: tier.String(), Level: uint8(tier)})
}

func (s *Server) handleUpdateReputation(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params reputationUpdateParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("user: %w", err))
		return
	}
	category, err := parseCategory(params.Category)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	total, err := s.node.UpdateReputation(r.Context(), caller, user, category, params.Delta, params.Reason)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, reputationUpdateResult{
		User:     formatAddress(user),
		Category: category.String(),
		Delta:    params.Delta,
		NewTotal: total,
		Tier:     reputation.Classify(total).String(),
	})
}

func (s *Server) handleAuthorizeScorer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleScorerChange(w, r, req, true)
}

func (s *Server) handleRevokeScorer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleScorerChange(w, r, req, false)
}

func (s *Server) handleScorerChange(w http.ResponseWriter, r *http.Request, req *RPCRequest, authorize bool) {
	var params reputationScorerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	scorer, err := parseAddress(params.Scorer)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("scorer: %w", err))
		return
	}
	if authorize {
		err = s.node.AuthorizeScorer(r.Context(), caller, scorer)
	} else {
		err = s.node.RevokeScorer(r.Context(), caller, scorer)
	}
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, scorerResult{Scorer: formatAddress(scorer), Authorized: authorize})
}

func (s *Server) handleIsAuthorizedScorer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params struct {
		Scorer string `json:"scorer"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	scorer, err := parseAddress(params.Scorer)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	ok, err := s.node.IsAuthorizedScorer(r.Context(), scorer)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, scorerResult{Scorer: formatAddress(scorer), Authorized: ok})
}

func (s *Server) handleListScorers(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	owner, err := s.node.Owner(r.Context())
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	scorers, err := s.node.Scorers(r.Context())
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	out := make([]string, 0, len(scorers))
	for _, scorer := range scorers {
		out = append(out, formatAddress(scorer))
	}
	writeResult(w, req.ID, scorersResult{Owner: formatAddress(owner), Scorers: out})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params reputationOwnerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	next, err := parseAddress(params.Owner)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("owner: %w", err))
		return
	}
	if err := s.node.TransferOwnership(r.Context(), caller, next); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"owner": formatAddress(next)})
}
