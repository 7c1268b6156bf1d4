package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"repcollateral/core"
	"repcollateral/observability/metrics"
	"repcollateral/rpc/middleware"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeModulePaused   = -32003
	codeRejected       = -32010
	codeRateLimited    = -32020
)

// ServerConfig tunes the HTTP surface of the node.
type ServerConfig struct {
	// AuthToken guards every mutating method. An empty token disables
	// mutations entirely.
	AuthToken         string
	RateLimitPerMin   float64
	RateLimitBurst    int
	TrustProxyHeaders bool
	ServiceName       string
	LogRequests       bool
	ReadHeaderTimeout time.Duration
	Logger            *slog.Logger
	Metrics           *metrics.ReputationMetrics
	// Registry backs /metrics. Nil uses the process default registry.
	Registry *prometheus.Registry
}

type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	metrics *metrics.ReputationMetrics
	handler http.Handler
	methods map[string]method

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(node *core.Node, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "repd"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	s := &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger.With("component", "rpc"),
		metrics: cfg.Metrics,
	}
	s.methods = s.methodTable()
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if s.cfg.Registry != nil {
		registerer = s.cfg.Registry
		gatherer = s.cfg.Registry
	}
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: s.cfg.ServiceName,
		LogRequests: s.cfg.LogRequests,
		Registerer:  registerer,
	}, s.logger)
	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerMinute: s.cfg.RateLimitPerMin,
		Burst:             s.cfg.RateLimitBurst,
	}, s.cfg.TrustProxyHeaders, s.logger)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Group(func(gr chi.Router) {
		gr.Use(limiter.Middleware)
		gr.With(obs.Middleware("rpc")).Post("/", s.handle)
		gr.With(obs.Middleware("rpc")).Post("/rpc", s.handle)
		gr.With(obs.Middleware("ws")).Get("/ws", s.handleEventsWS)
	})
	return otelhttp.NewHandler(r, s.cfg.ServiceName)
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("JSON-RPC server listening", slog.String("address", listener.Addr().String()))
	return srv.Serve(listener)
}

// Start listens on addr and serves until shutdown.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type methodHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

type method struct {
	handler methodHandler
	auth    bool
}

func (s *Server) methodTable() map[string]method {
	return map[string]method{
		"reputation_getUserReputation": {handler: s.handleGetUserReputation},
		"reputation_getTier":           {handler: s.handleGetReputationTier},
		"reputation_isScorer":          {handler: s.handleIsAuthorizedScorer},
		"reputation_listScorers":       {handler: s.handleListScorers},
		"reputation_update":            {handler: s.handleUpdateReputation, auth: true},
		"reputation_authorizeScorer":   {handler: s.handleAuthorizeScorer, auth: true},
		"reputation_revokeScorer":      {handler: s.handleRevokeScorer, auth: true},
		"reputation_transferOwnership": {handler: s.handleTransferOwnership, auth: true},
		"access_getUserAccessLevel":    {handler: s.handleGetUserAccessLevel},
		"access_calculateLoanTerms":    {handler: s.handleCalculateLoanTerms},
		"access_getTiers":              {handler: s.handleGetTiers},
		"lending_getLoanDetails":       {handler: s.handleGetLoanDetails},
		"lending_getPool":              {handler: s.handleGetPool},
		"lending_supply":               {handler: s.handleSupply, auth: true},
		"lending_requestLoan":          {handler: s.handleRequestLoan, auth: true},
		"lending_repayLoan":            {handler: s.handleRepayLoan, auth: true},
		"lending_liquidate":            {handler: s.handleLiquidate, auth: true},
		"admin_setPaused":              {handler: s.handleSetPaused, auth: true},
		"admin_getPaused":              {handler: s.handleGetPaused},
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	m, ok := s.methods[req.Method]
	if !ok {
		s.metrics.ObserveRPC("unknown", "not_found")
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
		return
	}
	if m.auth {
		if authErr := s.requireAuth(r); authErr != nil {
			s.metrics.ObserveRPC(req.Method, "unauthorized")
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	if s.node == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "node unavailable", nil)
		return
	}

	recorder := &outcomeRecorder{ResponseWriter: w, status: http.StatusOK}
	m.handler(recorder, r, req)
	outcome := "ok"
	if recorder.status >= http.StatusBadRequest {
		outcome = "error"
	}
	s.metrics.ObserveRPC(req.Method, outcome)
	s.logger.Debug("rpc call",
		slog.String("method", req.Method),
		slog.Int("status", recorder.status),
		slog.String("requestId", middleware.RequestID(r.Context())))
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.cfg.AuthToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// decodeParams unmarshals the single parameter object every method takes.
func decodeParams(req *RPCRequest, dst interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("exactly one parameter object expected")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", err.Error())
}

type outcomeRecorder struct {
	http.ResponseWriter
	status int
}

func (o *outcomeRecorder) WriteHeader(code int) {
	o.status = code
	o.ResponseWriter.WriteHeader(code)
}
