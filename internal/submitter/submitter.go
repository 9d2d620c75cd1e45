package submitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/piotr-stec/multiple-txs-one-block/internal/chain"
	"github.com/piotr-stec/multiple-txs-one-block/internal/metrics"
)

// Result is the node's acknowledgement of a dispatched transaction.
type Result struct {
	TxHash   common.Hash
	Accepted bool
}

// Submitter dispatches calls with caller-chosen nonces. It never retries.
type Submitter struct {
	account        chain.Account
	waiter         chain.ConfirmationWaiter
	confirmTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

type Option func(*Submitter)

// WithConfirmation makes Confirm wait for inclusion through waiter, bounded by timeout.
func WithConfirmation(waiter chain.ConfirmationWaiter, timeout time.Duration) Option {
	return func(s *Submitter) {
		s.waiter = waiter
		s.confirmTimeout = timeout
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) {
		s.metrics = m
	}
}

func New(logger *zap.Logger, account chain.Account, opts ...Option) *Submitter {
	s := &Submitter{
		account: account,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit sends call with nonce and returns once the node accepted or refused it.
// Errors are chain.ErrSubmissionRejected or chain.ErrNodeUnavailable.
func (s *Submitter) Submit(ctx context.Context, call chain.Call, nonce uint64) (Result, error) {
	s.logger.Info("nonce before tx", zap.Uint64("nonce", nonce), zap.String("method", call.Method))

	hash, err := s.account.Execute(ctx, call, nonce)
	if err != nil {
		err = normalize(err)
		s.metrics.IncSubmission(resultLabel(err))
		s.logger.Error("submission failed",
			zap.Uint64("nonce", nonce),
			zap.Error(err))
		return Result{}, err
	}

	s.metrics.IncSubmission("accepted")
	s.metrics.RecordNonce(nonce)
	s.logger.Info("nonce after tx",
		zap.Uint64("nonce", nonce+1),
		zap.String("tx_hash", hash.Hex()))

	return Result{TxHash: hash, Accepted: true}, nil
}

// ConfirmationEnabled reports whether Confirm actually waits.
func (s *Submitter) ConfirmationEnabled() bool {
	return s.waiter != nil
}

// Confirm waits for res to be included. Without a configured waiter it returns
// immediately. A wait exceeding the timeout fails with chain.ErrConfirmationTimeout.
func (s *Submitter) Confirm(ctx context.Context, res Result) error {
	if s.waiter == nil {
		return nil
	}

	waitCtx := ctx
	if s.confirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.confirmTimeout)
		defer cancel()
	}

	err := s.waiter.WaitForInclusion(waitCtx, res.TxHash)
	if err == nil {
		s.metrics.IncConfirmation("included")
		s.logger.Debug("transaction included", zap.String("tx_hash", res.TxHash.Hex()))
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		s.metrics.IncConfirmation("timeout")
		return fmt.Errorf("tx %s: %w", res.TxHash.Hex(), chain.ErrConfirmationTimeout)
	}
	s.metrics.IncConfirmation("failed")
	return err
}

// normalize keeps the taxonomy closed: anything the account did not classify
// is treated as a refusal of this transaction.
func normalize(err error) error {
	if errors.Is(err, chain.ErrSubmissionRejected) || errors.Is(err, chain.ErrNodeUnavailable) {
		return err
	}
	return &chain.SubmissionRejectedError{Reason: err.Error()}
}

func resultLabel(err error) string {
	if errors.Is(err, chain.ErrNodeUnavailable) {
		return "unavailable"
	}
	return "rejected"
}
