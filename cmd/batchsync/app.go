package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/piotr-stec/multiple-txs-one-block/internal/batch"
	"github.com/piotr-stec/multiple-txs-one-block/internal/chain"
	"github.com/piotr-stec/multiple-txs-one-block/internal/config"
	"github.com/piotr-stec/multiple-txs-one-block/internal/contracts"
	"github.com/piotr-stec/multiple-txs-one-block/internal/logging"
	"github.com/piotr-stec/multiple-txs-one-block/internal/metrics"
	"github.com/piotr-stec/multiple-txs-one-block/internal/observer"
	"github.com/piotr-stec/multiple-txs-one-block/internal/store"
	"github.com/piotr-stec/multiple-txs-one-block/internal/submitter"
)

// simulatedAccount signs for the in-memory chain.
var simulatedAccount = common.HexToAddress("0x000000000000000000000000000000000000b175")

// chainClient is what a batch needs from the node.
type chainClient interface {
	chain.Account
	chain.Provider
	chain.ConfirmationWaiter
	chain.HealthChecker
}

type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	metrics     *metrics.Metrics
	client      chainClient
	coordinator *batch.Coordinator
	store       store.Store
	closers     []func()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log, nil)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	contractABI, err := contracts.Load(cfg.Call.ABIPath)
	if err != nil {
		return nil, err
	}
	args, err := chain.ParseArgs(contractABI, cfg.Call.Method, cfg.Call.Args)
	if err != nil {
		return nil, fmt.Errorf("call args: %w", err)
	}

	if cfg.Simulated() {
		logger.Warn("no private key configured, using the simulated chain",
			zap.Duration("block_time", cfg.Chain.SimulatedBlockTime))
		a.client = chain.NewSimulatedClient(simulatedAccount, 1, cfg.Chain.SimulatedBlockTime)
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.RPCTimeout)
		defer cancel()
		eth, err := chain.NewEthClient(dialCtx, chain.EthClientConfig{
			RPCURL:        cfg.Chain.RPCURL,
			PrivateKeyHex: cfg.Chain.PrivateKey,
			ABI:           contractABI,
			ReceiptPoll:   cfg.Batch.PollInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("chain client: %w", err)
		}
		logger.Info("connected to node",
			zap.String("rpc_url", cfg.Chain.RPCURL),
			zap.String("chain_id", eth.ChainID().String()),
			zap.String("account", eth.Address().Hex()))
		a.client = eth
		a.closers = append(a.closers, eth.Close)
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st

	call := chain.NewCall(common.HexToAddress(cfg.Call.Contract), cfg.Call.Method, args...)
	obs := observer.New(logger, a.client, cfg.Batch.PollInterval, a.metrics)

	opts := []submitter.Option{submitter.WithMetrics(a.metrics)}
	if cfg.Batch.WaitForInclusion {
		opts = append(opts, submitter.WithConfirmation(a.client, cfg.Batch.ConfirmationTimeout))
	}
	sub := submitter.New(logger, a.client, opts...)

	seed := cfg.Batch.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger.Debug("batch target seed", zap.Int64("seed", seed))

	coord, err := batch.NewCoordinator(
		logger,
		batch.Config{MinTarget: cfg.Batch.MinTarget, MaxTarget: cfg.Batch.MaxTarget},
		call,
		a.client,
		a.client,
		obs,
		sub,
		rand.New(rand.NewSource(seed)),
		a.metrics,
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.coordinator = coord
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "file":
		return store.NewFileStore(cfg.Path)
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return store.NewMemoryStore(), nil
	}
}

func (a *app) Close() {
	if pg, ok := a.store.(*store.PostgresStore); ok {
		pg.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}
