package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	registry         *prometheus.Registry
	batchesTotal     *prometheus.CounterVec
	submissionsTotal *prometheus.CounterVec
	heightPollsTotal prometheus.Counter
	observedHeight   prometheus.Gauge
	lastNonce        prometheus.Gauge
	batchTarget      prometheus.Gauge
	blockTxCount     prometheus.Gauge
	requestsTotal    *prometheus.CounterVec
	confirmations    *prometheus.CounterVec
}

func New() *Metrics {
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_batches_total",
		Help: "Batches finished, by outcome",
	}, []string{"outcome"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_submissions_total",
		Help: "Transaction submissions, by result",
	}, []string{"result"})

	polls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "batchsync_height_polls_total",
		Help: "Block height reads issued to the node",
	})

	height := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "batchsync_observed_block_height",
		Help: "Most recent block height seen by the observer",
	})

	nonce := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "batchsync_last_nonce",
		Help: "Nonce used by the most recent submission",
	})

	target := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "batchsync_batch_target",
		Help: "Target submission count of the current batch",
	})

	txCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "batchsync_block_tx_count",
		Help: "Transaction count of the last verified block",
	})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_batch_requests_total",
		Help: "Batch requests served over HTTP, by result",
	}, []string{"result"})

	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_confirmations_total",
		Help: "Inclusion waits for accepted submissions, by result",
	}, []string{"result"})

	r := prometheus.NewRegistry()
	r.MustRegister(batches, submissions, polls, height, nonce, target, txCount, requests, confirmations)

	return &Metrics{
		registry:         r,
		batchesTotal:     batches,
		submissionsTotal: submissions,
		heightPollsTotal: polls,
		observedHeight:   height,
		lastNonce:        nonce,
		batchTarget:      target,
		blockTxCount:     txCount,
		requestsTotal:    requests,
		confirmations:    confirmations,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncBatch(outcome string) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSubmission(result string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordHeight(height uint64) {
	if m == nil {
		return
	}
	m.heightPollsTotal.Inc()
	m.observedHeight.Set(float64(height))
}

func (m *Metrics) RecordNonce(nonce uint64) {
	if m == nil {
		return
	}
	m.lastNonce.Set(float64(nonce))
}

func (m *Metrics) RecordTarget(target int) {
	if m == nil {
		return
	}
	m.batchTarget.Set(float64(target))
}

func (m *Metrics) RecordBlockTxCount(count uint64) {
	if m == nil {
		return
	}
	m.blockTxCount.Set(float64(count))
}

func (m *Metrics) IncRequest(result string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncConfirmation(result string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(result).Inc()
}
