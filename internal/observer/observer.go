package observer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/piotr-stec/multiple-txs-one-block/internal/chain"
	"github.com/piotr-stec/multiple-txs-one-block/internal/metrics"
)

const DefaultPollInterval = 500 * time.Millisecond

// Observer tracks the node's block height.
type Observer struct {
	provider chain.Provider
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func New(logger *zap.Logger, provider chain.Provider, interval time.Duration, m *metrics.Metrics) *Observer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Observer{
		provider: provider,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
}

func (o *Observer) PollInterval() time.Duration {
	return o.interval
}

// CurrentHeight reads the latest block height. Provider failures are returned
// as chain.ErrNodeUnavailable.
func (o *Observer) CurrentHeight(ctx context.Context) (uint64, error) {
	h, err := o.provider.BlockNumber(ctx)
	if err != nil {
		return 0, chain.AsUnavailable("block number", err)
	}
	o.metrics.RecordHeight(h)
	return h, nil
}

// WaitForHeightIncrease blocks until the observed height is strictly greater
// than baseline and returns it. Heights may jump by more than one.
func (o *Observer) WaitForHeightIncrease(ctx context.Context, baseline uint64) (uint64, error) {
	var observed uint64
	polls := 0
	err := WaitUntil(ctx, o.interval, func(ctx context.Context) (bool, error) {
		h, err := o.CurrentHeight(ctx)
		if err != nil {
			return false, err
		}
		polls++
		observed = h
		return h > baseline, nil
	})
	if err != nil {
		return 0, err
	}

	o.logger.Debug("observed block height increase",
		zap.Uint64("baseline", baseline),
		zap.Uint64("height", observed),
		zap.Int("polls", polls))

	return observed, nil
}
