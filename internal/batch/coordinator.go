package batch

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/piotr-stec/multiple-txs-one-block/internal/chain"
	"github.com/piotr-stec/multiple-txs-one-block/internal/metrics"
	"github.com/piotr-stec/multiple-txs-one-block/internal/nonce"
	"github.com/piotr-stec/multiple-txs-one-block/internal/observer"
	"github.com/piotr-stec/multiple-txs-one-block/internal/submitter"
)

const (
	DefaultMinTarget = 3
	DefaultMaxTarget = 10
)

type State int

const (
	AwaitingCleanBlock State = iota
	Submitting
	AwaitingBoundary
	Verifying
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingCleanBlock:
		return "awaiting_clean_block"
	case Submitting:
		return "submitting"
	case AwaitingBoundary:
		return "awaiting_boundary"
	case Verifying:
		return "verifying"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type StopReason string

const (
	StopTargetReached StopReason = "target_reached"
	StopNewBlock      StopReason = "new_block"
)

// Result describes a finished or aborted batch. On error, Submitted counts only
// the submissions the node accepted and State is where the batch stopped.
type Result struct {
	Target       int
	Submitted    int
	StartHeight  uint64
	CleanHeight  uint64
	SyncHeight   uint64
	BlockTxCount uint64
	Nonces       []uint64
	StopReason   StopReason
	State        State
}

type Config struct {
	MinTarget int
	MaxTarget int
}

func (c Config) Validate() error {
	if c.MinTarget < 1 {
		return fmt.Errorf("min target must be positive, got %d", c.MinTarget)
	}
	if c.MaxTarget < c.MinTarget {
		return fmt.Errorf("max target %d below min target %d", c.MaxTarget, c.MinTarget)
	}
	return nil
}

func DefaultConfig() Config {
	return Config{MinTarget: DefaultMinTarget, MaxTarget: DefaultMaxTarget}
}

// Coordinator runs batches of identical calls for one account, starting on a
// fresh block and stopping at the next block boundary or the target count.
// A Coordinator is not safe for concurrent Run calls.
type Coordinator struct {
	cfg       Config
	call      chain.Call
	account   chain.Account
	provider  chain.Provider
	observer  *observer.Observer
	submitter *submitter.Submitter
	rng       *rand.Rand
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewCoordinator(
	logger *zap.Logger,
	cfg Config,
	call chain.Call,
	account chain.Account,
	provider chain.Provider,
	obs *observer.Observer,
	sub *submitter.Submitter,
	rng *rand.Rand,
	m *metrics.Metrics,
) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	return &Coordinator{
		cfg:       cfg,
		call:      call,
		account:   account,
		provider:  provider,
		observer:  obs,
		submitter: sub,
		rng:       rng,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Address is the account the batches are submitted from.
func (c *Coordinator) Address() common.Address {
	return c.account.Address()
}

// PickTarget draws a target count uniformly from [MinTarget, MaxTarget].
func (c *Coordinator) PickTarget() int {
	return c.cfg.MinTarget + c.rng.Intn(c.cfg.MaxTarget-c.cfg.MinTarget+1)
}

// Run executes one batch. Every error is fatal to the batch.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	res, err := c.run(ctx)
	if err != nil {
		c.metrics.IncBatch("failed")
		c.logger.Error("batch aborted",
			zap.String("state", res.State.String()),
			zap.Int("submitted", res.Submitted),
			zap.Int("target", res.Target),
			zap.Error(err))
		return res, err
	}
	c.metrics.IncBatch(string(res.StopReason))
	c.metrics.RecordBlockTxCount(res.BlockTxCount)
	c.logger.Info("batch finished",
		zap.Int("submitted", res.Submitted),
		zap.Int("target", res.Target),
		zap.Uint64("block", res.SyncHeight),
		zap.Uint64("block_tx_count", res.BlockTxCount),
		zap.String("stop_reason", string(res.StopReason)))
	return res, nil
}

func (c *Coordinator) run(ctx context.Context) (Result, error) {
	res := Result{State: AwaitingCleanBlock, Target: c.PickTarget()}
	c.metrics.RecordTarget(res.Target)

	initial, err := c.observer.CurrentHeight(ctx)
	if err != nil {
		return res, fmt.Errorf("read initial height: %w", err)
	}
	res.StartHeight = initial

	c.logger.Info("waiting for a fresh block",
		zap.Uint64("height", initial),
		zap.Int("target", res.Target),
		zap.Duration("poll_interval", c.observer.PollInterval()),
		zap.Bool("wait_for_inclusion", c.submitter.ConfirmationEnabled()))

	sync, err := c.observer.WaitForHeightIncrease(ctx, initial)
	if err != nil {
		return res, fmt.Errorf("wait for clean block: %w", err)
	}
	res.CleanHeight = sync
	res.SyncHeight = sync
	res.State = Submitting

	start, err := c.provider.Nonce(ctx, chain.Pending, c.account.Address())
	if err != nil {
		return res, fmt.Errorf("read pending nonce: %w", chain.AsUnavailable("nonce", err))
	}
	var tracker nonce.Tracker
	if err := tracker.Initialize(start); err != nil {
		return res, err
	}

	needWait := false
	for {
		n, err := tracker.Next()
		if err != nil {
			return res, err
		}
		res.Nonces = append(res.Nonces, n)

		sub, err := c.submitter.Submit(ctx, c.call, n)
		if err != nil {
			return res, fmt.Errorf("submission %d: %w", len(res.Nonces), err)
		}
		if err := c.submitter.Confirm(ctx, sub); err != nil {
			return res, fmt.Errorf("confirm submission %d: %w", len(res.Nonces), err)
		}
		res.Submitted++

		h, err := c.observer.CurrentHeight(ctx)
		if err != nil {
			return res, fmt.Errorf("read height after submission %d: %w", res.Submitted, err)
		}
		if h > res.SyncHeight {
			res.SyncHeight = h
			res.StopReason = StopNewBlock
			break
		}
		if res.Submitted >= res.Target {
			res.StopReason = StopTargetReached
			needWait = true
			break
		}
	}

	c.logger.Debug("submission loop stopped",
		zap.String("stop_reason", string(res.StopReason)),
		zap.Int("submitted", res.Submitted),
		zap.Uint64("next_nonce", tracker.Peek()))

	res.State = AwaitingBoundary
	if needWait {
		h, err := c.observer.WaitForHeightIncrease(ctx, res.SyncHeight)
		if err != nil {
			return res, fmt.Errorf("wait for block boundary: %w", err)
		}
		res.SyncHeight = h
	}

	res.State = Verifying
	count, err := c.provider.BlockTransactionCount(ctx, chain.AtHeight(res.SyncHeight))
	if err != nil {
		return res, fmt.Errorf("verify block %d: %w", res.SyncHeight, chain.AsUnavailable("transaction count", err))
	}
	res.BlockTxCount = count
	res.State = Done

	return res, nil
}
