package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"repcollateral/native/access"
)

type accessTermsParams struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type lendingRequestParams struct {
	Borrower   string `json:"borrower"`
	Amount     string `json:"amount"`
	Collateral string `json:"collateral"`
}

type lendingBorrowerParams struct {
	Borrower string `json:"borrower"`
}

type lendingLiquidateParams struct {
	Caller   string `json:"caller"`
	Borrower string `json:"borrower"`
}

type lendingSupplyParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type pauseParams struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (s *Server) handleGetUserAccessLevel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
	level, err := s.node.GetUserAccessLevel(r.Context(), user)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAccessLevel(user, level))
}

func (s *Server) handleCalculateLoanTerms(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params accessTermsParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	terms, err := s.node.CalculateLoanTerms(r.Context(), user, amount)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatLoanTerms(user, terms))
}

func (s *Server) handleGetTiers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	rows := access.Tiers()
	out := make([]accessLevelJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, formatAccessTier(row))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleRequestLoan(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lendingRequestParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("borrower: %w", err))
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if amount.Sign() == 0 {
		writeInvalidParams(w, req.ID, errors.New("amount must be positive"))
		return
	}
	collateral, err := parseAmount("collateral", params.Collateral)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	loan, err := s.node.RequestLoan(r.Context(), borrower, amount, collateral)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatLoan(borrower, loan))
}

func (s *Server) handleRepayLoan(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lendingBorrowerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("borrower: %w", err))
		return
	}
	loan, err := s.node.RepayLoan(r.Context(), borrower)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatLoan(borrower, loan))
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lendingLiquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("borrower: %w", err))
		return
	}
	loan, err := s.node.Liquidate(r.Context(), caller, borrower)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatLoan(borrower, loan))
}

func (s *Server) handleGetLoanDetails(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lendingBorrowerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	loan, err := s.node.GetLoanDetails(r.Context(), borrower)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatLoan(borrower, loan))
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	pool, err := s.node.Pool(r.Context())
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatPool(pool))
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lendingSupplyParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if amount.Sign() == 0 {
		writeInvalidParams(w, req.ID, errors.New("amount must be positive"))
		return
	}
	available, err := s.node.SupplyLiquidity(r.Context(), caller, amount)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"available": formatAmount(available)})
}

func (s *Server) handleSetPaused(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pauseParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	module := strings.ToLower(strings.TrimSpace(params.Module))
	switch module {
	case "reputation", "lending":
	default:
		writeInvalidParams(w, req.ID, fmt.Errorf("unknown module %q", params.Module))
		return
	}
	s.node.SetPaused(module, params.Paused)
	s.logger.Warn("module pause toggled", "module", module, "paused", params.Paused)
	writeResult(w, req.ID, map[string][]string{"paused": s.node.Paused()})
}

func (s *Server) handleGetPaused(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, map[string][]string{"paused": s.node.Paused()})
}
