package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"repcollateral/core"
	"repcollateral/crypto"
	"repcollateral/native/lending"
	"repcollateral/native/reputation"
	"repcollateral/storage"
)

const testAuthToken = "rpc-test-token"

type testEnv struct {
	server *Server
	node   *core.Node
	owner  [20]byte
	scorer [20]byte
}

type rpcTestResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func newAddress(t *testing.T) [20]byte {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address().Raw()
}

func wei(tokens int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(tokens), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	owner := newAddress(t)
	scorer := newAddress(t)
	cfg := lending.DefaultConfig()
	cfg.InitialLiquidityWei = wei(1_000_000)
	node, err := core.NewNode(storage.NewMemDB(), core.Options{
		Owner:       owner,
		Scorers:     [][20]byte{scorer},
		Coordinator: crypto.ModuleAddress("lending").Raw(),
		Lending:     cfg,
	})
	require.NoError(t, err)
	t.Cleanup(node.Close)
	fixed := time.Unix(1_700_000_000, 0)
	node.SetTimeSource(func() time.Time { return fixed })

	server := NewServer(node, ServerConfig{AuthToken: testAuthToken, Registry: prometheus.NewRegistry()})
	return &testEnv{server: server, node: node, owner: owner, scorer: scorer}
}

func (e *testEnv) call(t *testing.T, method string, params interface{}, auth bool) (int, rpcTestResponse) {
	t.Helper()
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	if auth {
		req.Header.Set("Authorization", "Bearer "+testAuthToken)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	var resp rpcTestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func (e *testEnv) seed(t *testing.T, user [20]byte, category reputation.Category, delta int64) {
	t.Helper()
	_, err := e.node.UpdateReputation(context.Background(), e.owner, user, category, delta, "seed")
	require.NoError(t, err)
}

func TestHandleRejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("  ")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "-32700")

	status, resp := env.call(t, "reputation_doesNotExist", nil, false)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestHandleRejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t)
	body := bytes.Repeat([]byte("a"), maxRequestBytes+1)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMutationsRequireBearerToken(t *testing.T) {
	env := newTestEnv(t)
	params := reputationUpdateParams{
		Caller:   formatAddress(env.scorer),
		User:     formatAddress(newAddress(t)),
		Category: "LoanRepayment",
		Delta:    10,
	}
	status, resp := env.call(t, "reputation_update", params, false)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	unconfigured := NewServer(env.node, ServerConfig{Registry: prometheus.NewRegistry()})
	require.NotNil(t, unconfigured.requireAuth(httptest.NewRequest(http.MethodPost, "/rpc", nil)))
}

func TestReputationUpdateAndQuery(t *testing.T) {
	env := newTestEnv(t)
	user := newAddress(t)

	status, resp := env.call(t, "reputation_update", reputationUpdateParams{
		Caller:   formatAddress(env.scorer),
		User:     formatAddress(user),
		Category: "LoanRepayment",
		Delta:    100,
		Reason:   "repaid on time",
	}, true)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)
	var update reputationUpdateResult
	require.NoError(t, json.Unmarshal(resp.Result, &update))
	require.Equal(t, uint64(40), update.NewTotal)
	require.Equal(t, "Unrated", update.Tier)

	// Numeric category identifiers are accepted too.
	status, _ = env.call(t, "reputation_update", reputationUpdateParams{
		Caller:   formatAddress(env.scorer),
		User:     formatAddress(user),
		Category: "5",
		Delta:    50,
	}, true)
	require.Equal(t, http.StatusOK, status)

	status, resp = env.call(t, "reputation_getUserReputation", reputationUserParams{User: formatAddress(user)}, false)
	require.Equal(t, http.StatusOK, status)
	var snapshot reputationJSON
	require.NoError(t, json.Unmarshal(resp.Result, &snapshot))
	require.Equal(t, uint64(100), snapshot.Scores["LoanRepayment"])
	require.Equal(t, uint64(50), snapshot.Scores["CommunityContribution"])
	require.Equal(t, uint64(50), snapshot.Total)
	require.True(t, snapshot.Active)

	status, resp = env.call(t, "reputation_getTier", reputationUserParams{User: formatAddress(user)}, false)
	require.Equal(t, http.StatusOK, status)
	var tier tierJSON
	require.NoError(t, json.Unmarshal(resp.Result, &tier))
	require.Equal(t, "Unrated", tier.Tier)
}

func TestReputationUpdateErrors(t *testing.T) {
	env := newTestEnv(t)
	user := formatAddress(newAddress(t))

	status, resp := env.call(t, "reputation_update", reputationUpdateParams{
		Caller:   formatAddress(newAddress(t)),
		User:     user,
		Category: "LoanRepayment",
		Delta:    10,
	}, true)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = env.call(t, "reputation_update", reputationUpdateParams{
		Caller:   formatAddress(env.scorer),
		User:     user,
		Category: "9",
		Delta:    10,
	}, true)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = env.call(t, "reputation_getUserReputation", map[string]string{"user": user, "extra": "x"}, false)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestScorerAdministration(t *testing.T) {
	env := newTestEnv(t)
	candidate := newAddress(t)

	status, resp := env.call(t, "reputation_authorizeScorer", reputationScorerParams{
		Caller: formatAddress(env.scorer),
		Scorer: formatAddress(candidate),
	}, true)
	require.Equal(t, http.StatusForbidden, status, "only the owner may authorize scorers")

	status, _ = env.call(t, "reputation_authorizeScorer", reputationScorerParams{
		Caller: formatAddress(env.owner),
		Scorer: formatAddress(candidate),
	}, true)
	require.Equal(t, http.StatusOK, status)

	status, resp = env.call(t, "reputation_isScorer", map[string]string{"scorer": formatAddress(candidate)}, false)
	require.Equal(t, http.StatusOK, status)
	var check scorerResult
	require.NoError(t, json.Unmarshal(resp.Result, &check))
	require.True(t, check.Authorized)

	status, resp = env.call(t, "reputation_listScorers", nil, false)
	require.Equal(t, http.StatusOK, status)
	var list scorersResult
	require.NoError(t, json.Unmarshal(resp.Result, &list))
	require.Equal(t, formatAddress(env.owner), list.Owner)
	require.Contains(t, list.Scorers, formatAddress(candidate))

	status, _ = env.call(t, "reputation_revokeScorer", reputationScorerParams{
		Caller: formatAddress(env.owner),
		Scorer: formatAddress(candidate),
	}, true)
	require.Equal(t, http.StatusOK, status)
	ok, err := env.node.IsAuthorizedScorer(context.Background(), candidate)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAccessQueries(t *testing.T) {
	env := newTestEnv(t)
	user := newAddress(t)
	env.seed(t, user, reputation.CategoryLoanRepayment, 1000)

	status, resp := env.call(t, "access_getUserAccessLevel", reputationUserParams{User: formatAddress(user)}, false)
	require.Equal(t, http.StatusOK, status)
	var level accessLevelJSON
	require.NoError(t, json.Unmarshal(resp.Result, &level))
	require.Equal(t, "Silver", level.Tier)
	require.Equal(t, wei(50_000).String(), level.MaxLoan)
	require.Equal(t, uint64(13_000), level.CollateralBps)

	status, resp = env.call(t, "access_calculateLoanTerms", accessTermsParams{
		User:   formatAddress(user),
		Amount: wei(50_000).String(),
	}, false)
	require.Equal(t, http.StatusOK, status)
	var terms loanTermsJSON
	require.NoError(t, json.Unmarshal(resp.Result, &terms))
	require.True(t, terms.Approved)
	require.Equal(t, uint64(450), terms.InterestRateBps)
	require.Equal(t, wei(65_000).String(), terms.RequiredCollateral)

	status, resp = env.call(t, "access_calculateLoanTerms", accessTermsParams{
		User:   formatAddress(user),
		Amount: "-5",
	}, false)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = env.call(t, "access_getTiers", nil, false)
	require.Equal(t, http.StatusOK, status)
	var rows []accessLevelJSON
	require.NoError(t, json.Unmarshal(resp.Result, &rows))
	require.Len(t, rows, 4)
}

func TestLoanLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t)
	user := newAddress(t)
	env.seed(t, user, reputation.CategoryLoanRepayment, 1000)

	status, resp := env.call(t, "lending_requestLoan", lendingRequestParams{
		Borrower:   formatAddress(user),
		Amount:     wei(40_000).String(),
		Collateral: wei(52_000).String(),
	}, true)
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	var loan loanJSON
	require.NoError(t, json.Unmarshal(resp.Result, &loan))
	require.True(t, loan.Active)
	require.Equal(t, uint64(450), loan.InterestRateBps)
	require.Equal(t, wei(1_800).String(), loan.Interest)
	require.Equal(t, wei(41_800).String(), loan.AmountDue)

	status, resp = env.call(t, "lending_requestLoan", lendingRequestParams{
		Borrower:   formatAddress(user),
		Amount:     wei(1_000).String(),
		Collateral: wei(2_000).String(),
	}, true)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeRejected, resp.Error.Code)

	status, resp = env.call(t, "lending_getPool", nil, false)
	require.Equal(t, http.StatusOK, status)
	var pool poolJSON
	require.NoError(t, json.Unmarshal(resp.Result, &pool))
	require.Equal(t, uint64(1), pool.ActiveLoans)
	require.Equal(t, wei(40_000).String(), pool.Borrowed)

	later := time.Unix(1_700_000_000+2*3600, 0)
	env.node.SetTimeSource(func() time.Time { return later })
	status, resp = env.call(t, "lending_repayLoan", lendingBorrowerParams{Borrower: formatAddress(user)}, true)
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, &loan))
	require.False(t, loan.Active)
	require.Equal(t, lending.OutcomeRepaid, loan.Outcome)

	status, resp = env.call(t, "lending_getLoanDetails", lendingBorrowerParams{Borrower: formatAddress(user)}, false)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Result, &loan))
	require.False(t, loan.Active)
	require.Equal(t, "0", loan.AmountDue)
}

func TestRequestLoanRejectedForUnratedBorrower(t *testing.T) {
	env := newTestEnv(t)
	status, resp := env.call(t, "lending_requestLoan", lendingRequestParams{
		Borrower:   formatAddress(newAddress(t)),
		Amount:     wei(1).String(),
		Collateral: wei(2).String(),
	}, true)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeRejected, resp.Error.Code)

	status, resp = env.call(t, "lending_requestLoan", lendingRequestParams{
		Borrower:   formatAddress(newAddress(t)),
		Amount:     "0",
		Collateral: "0",
	}, true)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestPausedModuleReturnsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.call(t, "admin_setPaused", pauseParams{Module: "reputation", Paused: true}, true)
	require.Equal(t, http.StatusOK, status)

	status, resp := env.call(t, "reputation_update", reputationUpdateParams{
		Caller:   formatAddress(env.owner),
		User:     formatAddress(newAddress(t)),
		Category: "StakingReward",
		Delta:    10,
	}, true)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, codeModulePaused, resp.Error.Code)

	status, resp = env.call(t, "admin_setPaused", pauseParams{Module: "mempool", Paused: true}, true)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	env.call(t, "lending_getPool", nil, false)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "repd_http_requests_total")
}
