package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/piotr-stec/multiple-txs-one-block/internal/batch"
	"github.com/piotr-stec/multiple-txs-one-block/internal/chain"
	"github.com/piotr-stec/multiple-txs-one-block/internal/config"
	"github.com/piotr-stec/multiple-txs-one-block/internal/hmacauth"
	"github.com/piotr-stec/multiple-txs-one-block/internal/metrics"
	"github.com/piotr-stec/multiple-txs-one-block/internal/store"
)

const (
	idempotencyHeader = "X-Idempotency-Key"
	defaultListLimit  = 20
	maxListLimit      = 200
	saveTimeout       = 10 * time.Second
)

// Runner executes one batch per call.
type Runner interface {
	Run(ctx context.Context) (batch.Result, error)
	Address() common.Address
}

type Server struct {
	cfg         *config.Config
	runner      Runner
	store       store.Store
	hmac        *hmacauth.Verifier
	metrics     *metrics.Metrics
	logger      *zap.Logger
	httpServer  *http.Server
	running     sync.Mutex
	now         func() time.Time
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

// NewServer wires the batch API. node may be nil when there is no node to ping.
func NewServer(
	logger *zap.Logger,
	cfg *config.Config,
	runner Runner,
	st store.Store,
	m *metrics.Metrics,
	node chain.HealthChecker,
) *Server {
	s := &Server{
		cfg:    cfg,
		runner: runner,
		store:  st,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
			Logger:  logger,
		},
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}

	if checker, ok := st.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if node != nil {
		s.rpcHealthFn = node.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/batches", s.hmac.Middleware(http.HandlerFunc(s.handleCreateBatch)))
	mux.HandleFunc("GET /api/v1/batches", s.handleListBatches)
	mux.HandleFunc("GET /api/v1/batches/{id}", s.handleGetBatch)
	mux.Handle("GET /api/v1/metrics", m.Handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info("API listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type batchFailure struct {
	Error     string `json:"error"`
	State     string `json:"state"`
	Target    int    `json:"target"`
	Submitted int    `json:"submitted"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		http.Error(w, "missing X-Idempotency-Key header", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	existing, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Error("report lookup failed", zap.String("id", key), zap.Error(err))
		http.Error(w, "report store unavailable", http.StatusServiceUnavailable)
		return
	}
	if existing != nil {
		s.metrics.IncRequest("cached")
		writeJSON(w, http.StatusCreated, existing)
		return
	}

	// One batch at a time: concurrent batches would share the account nonce.
	if !s.running.TryLock() {
		s.metrics.IncRequest("conflict")
		http.Error(w, "a batch is already running", http.StatusConflict)
		return
	}
	defer s.running.Unlock()

	logger := s.logger.With(
		zap.String("batch_id", key),
		zap.String("request_id", r.Header.Get("X-Request-Id")))
	logger.Info("batch requested")

	started := s.now()
	res, err := s.runner.Run(context.WithoutCancel(ctx))
	if err != nil {
		s.metrics.IncRequest("failed")
		writeJSON(w, statusFor(err), batchFailure{
			Error:     err.Error(),
			State:     res.State.String(),
			Target:    res.Target,
			Submitted: res.Submitted,
		})
		return
	}

	report := res.Report(key, s.runner.Address(), started, s.now())

	// The batch is on chain; store it even if the caller has gone away so a
	// retry with the same key replays instead of running again.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := s.store.Save(saveCtx, report); err != nil {
		logger.Error("save report failed", zap.Error(err))
	}

	s.metrics.IncRequest("created")
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	report, err := s.store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "report store unavailable", http.StatusServiceUnavailable)
		return
	}
	if report == nil {
		http.Error(w, "batch not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	reports, err := s.store.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "report store unavailable", http.StatusServiceUnavailable)
		return
	}
	if reports == nil {
		reports = []store.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

// statusFor maps a batch error onto the response code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chain.ErrSubmissionRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, chain.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	busy := !s.running.TryLock()
	if !busy {
		s.running.Unlock()
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status       string `json:"status"`
		RPC          any    `json:"rpc"`
		Database     any    `json:"database"`
		BatchRunning bool   `json:"batch_running"`
	}{
		Status:       status,
		RPC:          rpcInfo,
		Database:     dbInfo,
		BatchRunning: busy,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		next.ServeHTTP(w, r)
	})
}
