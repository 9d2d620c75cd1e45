package chain

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// FakeClient is an in-memory node used for dry runs and tests. Heights either
// follow a script (one entry consumed per BlockNumber call, the last entry
// repeating) or advance with wall-clock time at a fixed block interval.
// Executed transactions land in the block after the most recently observed height.
type FakeClient struct {
	// ExecuteErrs injects an error into the n-th Execute call (1-based).
	ExecuteErrs map[int]error
	// HeightErrs injects an error into the n-th BlockNumber call (1-based).
	HeightErrs map[int]error
	NonceErr   error
	CountErr   error
	WaitErr    error

	mu           sync.Mutex
	address      common.Address
	script       []uint64
	blockTime    time.Duration
	genesis      time.Time
	baseHeight   uint64
	heightCalls  int
	execCalls    int
	lastHeight   uint64
	pendingNonce uint64
	nonces       []uint64
	blockTxs     map[uint64]uint64
	waited       []common.Hash
}

// NewScriptedClient returns a FakeClient whose heights follow heights in order.
func NewScriptedClient(address common.Address, pendingNonce uint64, heights ...uint64) *FakeClient {
	f := newFake(address, pendingNonce)
	f.script = append([]uint64(nil), heights...)
	if len(heights) > 0 {
		f.lastHeight = heights[0]
	}
	return f
}

// NewSimulatedClient returns a FakeClient producing a block every blockTime.
func NewSimulatedClient(address common.Address, startHeight uint64, blockTime time.Duration) *FakeClient {
	f := newFake(address, 0)
	f.blockTime = blockTime
	f.genesis = time.Now()
	f.baseHeight = startHeight
	f.lastHeight = startHeight
	return f
}

func newFake(address common.Address, pendingNonce uint64) *FakeClient {
	return &FakeClient{
		address:      address,
		pendingNonce: pendingNonce,
		blockTxs:     make(map[uint64]uint64),
	}
}

func (f *FakeClient) Address() common.Address {
	return f.address
}

func (f *FakeClient) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (f *FakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("block number", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.heightCalls++
	if err, ok := f.HeightErrs[f.heightCalls]; ok && err != nil {
		return 0, unavailable("block number", err)
	}
	f.lastHeight = f.heightLocked()
	return f.lastHeight, nil
}

func (f *FakeClient) heightLocked() uint64 {
	if f.blockTime > 0 {
		return f.baseHeight + uint64(time.Since(f.genesis)/f.blockTime)
	}
	if len(f.script) == 0 {
		return 0
	}
	idx := f.heightCalls - 1
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	return f.script[idx]
}

func (f *FakeClient) Nonce(_ context.Context, block BlockID, addr common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NonceErr != nil {
		return 0, unavailable("nonce at "+block.String(), f.NonceErr)
	}
	if addr != f.address {
		return 0, nil
	}
	if block.Tag == TagPending {
		return f.pendingNonce, nil
	}
	return f.pendingNonce - uint64(f.pendingCountLocked()), nil
}

func (f *FakeClient) pendingCountLocked() int {
	return int(f.blockTxs[f.lastHeight+1])
}

func (f *FakeClient) BlockTransactionCount(_ context.Context, block BlockID) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CountErr != nil {
		return 0, unavailable("transaction count "+block.String(), f.CountErr)
	}
	switch block.Tag {
	case TagPending:
		return f.blockTxs[f.lastHeight+1], nil
	case TagNumber:
		return f.blockTxs[block.Number], nil
	default:
		return f.blockTxs[f.lastHeight], nil
	}
}

// Execute mimics a node's pending-nonce check: only the next expected nonce is accepted.
func (f *FakeClient) Execute(ctx context.Context, call Call, nonce uint64) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, unavailable("send transaction", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.execCalls++
	f.nonces = append(f.nonces, nonce)
	if err, ok := f.ExecuteErrs[f.execCalls]; ok && err != nil {
		return common.Hash{}, err
	}
	if nonce != f.pendingNonce {
		return common.Hash{}, Rejected("invalid transaction nonce: expected %d, got %d", f.pendingNonce, nonce)
	}

	if f.blockTime > 0 {
		f.lastHeight = f.heightLocked()
	}
	f.pendingNonce++
	f.blockTxs[f.lastHeight+1]++

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return crypto.Keccak256Hash(f.address.Bytes(), call.To.Bytes(), []byte(call.Method), buf[:]), nil
}

func (f *FakeClient) WaitForInclusion(ctx context.Context, txHash common.Hash) error {
	f.mu.Lock()
	f.waited = append(f.waited, txHash)
	err := f.WaitErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// SubmittedNonces returns the nonce of every Execute call, accepted or not.
func (f *FakeClient) SubmittedNonces() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.nonces...)
}

func (f *FakeClient) HeightCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heightCalls
}

func (f *FakeClient) Waited() []common.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.Hash(nil), f.waited...)
}
