package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Account signs and dispatches calls on behalf of a single address.
type Account interface {
	Address() common.Address
	// Execute signs call with the given nonce and hands it to the node.
	// It returns once the node accepted or refused the transaction.
	Execute(ctx context.Context, call Call, nonce uint64) (common.Hash, error)
}

// Provider is the read side of the node RPC.
type Provider interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Nonce(ctx context.Context, block BlockID, addr common.Address) (uint64, error)
	BlockTransactionCount(ctx context.Context, block BlockID) (uint64, error)
}

// ConfirmationWaiter blocks until a dispatched transaction is included in a block.
type ConfirmationWaiter interface {
	WaitForInclusion(ctx context.Context, txHash common.Hash) error
}

// HealthChecker is implemented by clients that can cheaply check the node is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Call is a contract invocation reused verbatim across a batch.
type Call struct {
	To     common.Address
	Method string
	args   []any
}

// NewCall copies args so later mutation by the caller cannot leak into the batch.
func NewCall(to common.Address, method string, args ...any) Call {
	cp := make([]any, len(args))
	copy(cp, args)
	return Call{To: to, Method: method, args: cp}
}

// Args returns a copy of the call arguments.
func (c Call) Args() []any {
	cp := make([]any, len(c.args))
	copy(cp, c.args)
	return cp
}

func (c Call) String() string {
	return fmt.Sprintf("%s.%s%v", c.To.Hex(), c.Method, c.args)
}

type BlockTag int

const (
	TagLatest BlockTag = iota
	TagPending
	TagNumber
)

// BlockID selects the block a Provider read is evaluated against.
type BlockID struct {
	Tag    BlockTag
	Number uint64
}

var (
	Latest  = BlockID{Tag: TagLatest}
	Pending = BlockID{Tag: TagPending}
)

func AtHeight(height uint64) BlockID {
	return BlockID{Tag: TagNumber, Number: height}
}

// BigNumber returns the block number in the form ethclient expects; nil means latest.
func (b BlockID) BigNumber() *big.Int {
	if b.Tag != TagNumber {
		return nil
	}
	return new(big.Int).SetUint64(b.Number)
}

func (b BlockID) String() string {
	switch b.Tag {
	case TagPending:
		return "pending"
	case TagNumber:
		return fmt.Sprintf("%d", b.Number)
	default:
		return "latest"
	}
}
