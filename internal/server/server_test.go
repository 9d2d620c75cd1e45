package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/piotr-stec/multiple-txs-one-block/internal/batch"
	"github.com/piotr-stec/multiple-txs-one-block/internal/chain"
	"github.com/piotr-stec/multiple-txs-one-block/internal/config"
	"github.com/piotr-stec/multiple-txs-one-block/internal/hmacauth"
	"github.com/piotr-stec/multiple-txs-one-block/internal/metrics"
	"github.com/piotr-stec/multiple-txs-one-block/internal/store"
	"github.com/piotr-stec/multiple-txs-one-block/internal/testutil"
)

const testSecret = "test-secret"

type stubRunner struct {
	calls   atomic.Int32
	result  batch.Result
	err     error
	started chan struct{}
	release chan struct{}
	onRun   func()
}

func (s *stubRunner) Run(ctx context.Context) (batch.Result, error) {
	s.calls.Add(1)
	if s.onRun != nil {
		s.onRun()
	}
	if s.started != nil {
		close(s.started)
		<-s.release
	}
	return s.result, s.err
}

func (s *stubRunner) Address() common.Address {
	return testutil.AccountAddr
}

// ctxStore fails writes on a done context the way a database driver does.
type ctxStore struct {
	*store.MemoryStore
}

func (c ctxStore) Save(ctx context.Context, r store.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryStore.Save(ctx, r)
}

type stubNode struct{ err error }

func (n stubNode) Ping(context.Context) error { return n.err }

func finishedResult() batch.Result {
	return batch.Result{
		Target:       4,
		Submitted:    4,
		StartHeight:  100,
		SyncHeight:   102,
		BlockTxCount: 4,
		Nonces:       []uint64{7, 8, 9, 10},
		StopReason:   batch.StopTargetReached,
		State:        batch.Done,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{
			HMACSecret:    testSecret,
			HMACClockSkew: time.Minute,
		},
	}
}

func newTestServer(t *testing.T, runner Runner, st store.Store, node chain.HealthChecker) *Server {
	t.Helper()
	return NewServer(testutil.GetTestLogger(t), testConfig(), runner, st, metrics.New(), node)
}

func signedBatchRequest(key string) *http.Request {
	body := []byte("{}")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader(body))
	ts, sig := hmacauth.Sign(testSecret, time.Now(), body)
	req.Header.Set(hmacauth.DefaultTimestampHeader, ts)
	req.Header.Set(hmacauth.DefaultSignatureHeader, sig)
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateBatchIdempotency(t *testing.T) {
	runner := &stubRunner{result: finishedResult()}
	st := store.NewMemoryStore()
	srv := newTestServer(t, runner, st, nil)

	rec := serve(srv, signedBatchRequest("batch-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var report store.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "batch-1", report.ID)
	require.Equal(t, testutil.AccountAddr.Hex(), report.Account)
	require.Equal(t, 4, report.Submitted)
	require.Equal(t, uint64(7), report.FirstNonce)
	require.Equal(t, uint64(10), report.LastNonce)
	require.Equal(t, "target_reached", report.StopReason)

	first := rec.Body.Bytes()

	rec2 := serve(srv, signedBatchRequest("batch-1"))
	require.Equal(t, http.StatusCreated, rec2.Code)
	require.Equal(t, first, rec2.Body.Bytes())
	require.Equal(t, int32(1), runner.calls.Load(), "repeated key must not run a second batch")
}

func TestCreateBatchRequiresIdempotencyKey(t *testing.T) {
	runner := &stubRunner{result: finishedResult()}
	srv := newTestServer(t, runner, store.NewMemoryStore(), nil)

	rec := serve(srv, signedBatchRequest(""))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, runner.calls.Load())
}

func TestCreateBatchRequiresSignature(t *testing.T) {
	runner := &stubRunner{result: finishedResult()}
	srv := newTestServer(t, runner, store.NewMemoryStore(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader([]byte("{}")))
	req.Header.Set(idempotencyHeader, "batch-1")

	rec := serve(srv, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, runner.calls.Load())
}

func TestCreateBatchFailureIsNotStored(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"rejected", fmt.Errorf("submission 2: %w", chain.Rejected("nonce too low")), http.StatusUnprocessableEntity},
		{"unavailable", fmt.Errorf("read pending nonce: %w", chain.ErrNodeUnavailable), http.StatusBadGateway},
		{"confirmation timeout", fmt.Errorf("confirm submission 1: %w", chain.ErrConfirmationTimeout), http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{
				result: batch.Result{Target: 5, Submitted: 1, State: batch.Submitting},
				err:    tt.err,
			}
			st := store.NewMemoryStore()
			srv := newTestServer(t, runner, st, nil)

			rec := serve(srv, signedBatchRequest("batch-err"))
			require.Equal(t, tt.code, rec.Code)

			var failure batchFailure
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failure))
			require.Equal(t, "submitting", failure.State)
			require.Equal(t, 1, failure.Submitted)

			stored, err := st.Get(t.Context(), "batch-err")
			require.NoError(t, err)
			require.Nil(t, stored)

			// A retry with the same key runs again.
			serve(srv, signedBatchRequest("batch-err"))
			require.Equal(t, int32(2), runner.calls.Load())
		})
	}
}

func TestCreateBatchStoredAfterClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	runner := &stubRunner{result: finishedResult(), onRun: cancel}
	st := ctxStore{store.NewMemoryStore()}
	srv := newTestServer(t, runner, st, nil)

	serve(srv, signedBatchRequest("batch-gone").WithContext(ctx))

	stored, err := st.Get(t.Context(), "batch-gone")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, 4, stored.Submitted)

	rec := serve(srv, signedBatchRequest("batch-gone"))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, int32(1), runner.calls.Load(), "retry after disconnect must replay the stored report")
}

func TestCreateBatchConflictWhileRunning(t *testing.T) {
	runner := &stubRunner{
		result:  finishedResult(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	srv := newTestServer(t, runner, store.NewMemoryStore(), nil)

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- serve(srv, signedBatchRequest("batch-a")) }()
	<-runner.started

	rec := serve(srv, signedBatchRequest("batch-b"))
	require.Equal(t, http.StatusConflict, rec.Code)

	health := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Contains(t, health.Body.String(), `"batch_running":true`)

	close(runner.release)
	require.Equal(t, http.StatusCreated, (<-done).Code)
	require.Equal(t, int32(1), runner.calls.Load())
}

func TestGetBatch(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Save(t.Context(), store.Report{ID: "batch-1", Submitted: 3}))
	srv := newTestServer(t, &stubRunner{}, st, nil)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches/batch-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report store.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 3, report.Submitted)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches/unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBatches(t *testing.T) {
	st := store.NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, st.Save(t.Context(), store.Report{
			ID:         fmt.Sprintf("batch-%d", i),
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	srv := newTestServer(t, &stubRunner{}, st, nil)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var reports []store.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports, 2)
	require.Equal(t, "batch-2", reports[0].ID)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches?limit=zero", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, store.NewMemoryStore(), stubNode{})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"healthy"`)

	srv = newTestServer(t, &stubRunner{}, store.NewMemoryStore(), stubNode{err: errors.New("connection refused")})
	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	runner := &stubRunner{result: finishedResult()}
	srv := newTestServer(t, runner, store.NewMemoryStore(), nil)
	serve(srv, signedBatchRequest("batch-1"))

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `batchsync_batch_requests_total{result="created"} 1`)
}
