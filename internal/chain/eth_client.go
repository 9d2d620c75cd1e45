package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const defaultReceiptPoll = 2 * time.Second

// EthClient is an Account, Provider and ConfirmationWaiter backed by a JSON-RPC node.
type EthClient struct {
	client      *ethclient.Client
	abi         abi.ABI
	from        common.Address
	chainID     *big.Int
	transacts   *bind.TransactOpts
	receiptPoll time.Duration
}

type EthClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
	ABI           abi.ABI
	// ReceiptPoll is the interval between receipt lookups in WaitForInclusion.
	ReceiptPoll time.Duration
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for submitting transactions")
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, unavailable("dial rpc", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, unavailable("fetch chain id", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("transactor: %w", err)
	}

	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = defaultReceiptPoll
	}

	return &EthClient{
		client:      cli,
		abi:         cfg.ABI,
		from:        txOpts.From,
		chainID:     chainID,
		transacts:   txOpts,
		receiptPoll: poll,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) Address() common.Address {
	return c.from
}

func (c *EthClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *EthClient) Close() {
	c.client.Close()
}

func (c *EthClient) Ping(ctx context.Context) error {
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, unavailable("block number", err)
	}
	return n, nil
}

func (c *EthClient) Nonce(ctx context.Context, block BlockID, addr common.Address) (uint64, error) {
	var (
		n   uint64
		err error
	)
	if block.Tag == TagPending {
		n, err = c.client.PendingNonceAt(ctx, addr)
	} else {
		n, err = c.client.NonceAt(ctx, addr, block.BigNumber())
	}
	if err != nil {
		return 0, unavailable(fmt.Sprintf("nonce at %s", block), err)
	}
	return n, nil
}

func (c *EthClient) BlockTransactionCount(ctx context.Context, block BlockID) (uint64, error) {
	if block.Tag == TagPending {
		n, err := c.client.PendingTransactionCount(ctx)
		if err != nil {
			return 0, unavailable("pending transaction count", err)
		}
		return uint64(n), nil
	}

	header, err := c.client.HeaderByNumber(ctx, block.BigNumber())
	if err != nil {
		return 0, unavailable(fmt.Sprintf("header %s", block), err)
	}
	n, err := c.client.TransactionCount(ctx, header.Hash())
	if err != nil {
		return 0, unavailable(fmt.Sprintf("transaction count %s", block), err)
	}
	return uint64(n), nil
}

// Execute builds, signs and sends call with an explicit nonce. Fees and gas are
// estimated by the node, so estimation failures surface as rejections.
func (c *EthClient) Execute(ctx context.Context, call Call, nonce uint64) (common.Hash, error) {
	data, err := c.abi.Pack(call.Method, call.Args()...)
	if err != nil {
		return common.Hash{}, Rejected("pack %s: %v", call.Method, err)
	}

	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, classify("latest header", err)
	}

	to := call.To
	msg := ethereum.CallMsg{From: c.from, To: &to, Data: data}

	var tx *types.Transaction
	if head.BaseFee == nil {
		gasPrice, err := c.client.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, classify("suggest gas price", err)
		}
		msg.GasPrice = gasPrice
		gas, err := c.client.EstimateGas(ctx, msg)
		if err != nil {
			return common.Hash{}, classify("estimate gas", err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &to,
			Data:     data,
		})
	} else {
		tip, err := c.client.SuggestGasTipCap(ctx)
		if err != nil {
			return common.Hash{}, classify("suggest gas tip", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		msg.GasTipCap = tip
		msg.GasFeeCap = feeCap
		gas, err := c.client.EstimateGas(ctx, msg)
		if err != nil {
			return common.Hash{}, classify("estimate gas", err)
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Data:      data,
		})
	}

	signed, err := c.transacts.Signer(c.from, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, classify("send transaction", err)
	}
	return signed.Hash(), nil
}

// WaitForInclusion polls until the transaction has a receipt or ctx is done.
func (c *EthClient) WaitForInclusion(ctx context.Context, txHash common.Hash) error {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		if receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return Rejected("transaction %s reverted in block %s", txHash.Hex(), receipt.BlockNumber)
			}
			return nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return unavailable("transaction receipt", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// classify separates node-level refusals (JSON-RPC error objects) from transport failures.
func classify(op string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return Rejected("%s: %s (code %d)", op, rpcErr.Error(), rpcErr.ErrorCode())
	}
	return unavailable(op, err)
}
