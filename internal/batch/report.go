package batch

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/piotr-stec/multiple-txs-one-block/internal/store"
)

// Report converts a successful result into its persisted form.
func (r Result) Report(id string, account common.Address, startedAt, finishedAt time.Time) store.Report {
	rep := store.Report{
		ID:           id,
		Account:      account.Hex(),
		Target:       r.Target,
		Submitted:    r.Submitted,
		StartHeight:  r.StartHeight,
		SyncHeight:   r.SyncHeight,
		BlockTxCount: r.BlockTxCount,
		StopReason:   string(r.StopReason),
		StartedAt:    startedAt.UTC().Truncate(time.Microsecond),
		FinishedAt:   finishedAt.UTC().Truncate(time.Microsecond),
	}
	if len(r.Nonces) > 0 {
		rep.FirstNonce = r.Nonces[0]
		rep.LastNonce = r.Nonces[len(r.Nonces)-1]
	}
	return rep
}
