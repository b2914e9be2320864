package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"creditScope/internal/model"
)

// DedupKey marks one exact observation as folded in, so a replayed batch
// cannot double count.
type DedupKey struct {
	User        string
	Protocol    model.Protocol
	RoleToken   common.Address
	BlockHeight uint64
}

// BalanceKey addresses the last-known-balance cache. Underlying is the zero
// address for scalar positions (Aave-shaped); Compound collateral positions
// carry the specific collateral asset as a secondary key.
type BalanceKey struct {
	User       string
	Protocol   model.Protocol
	RoleToken  common.Address
	Underlying common.Address
}

// ChangeSet is the buffered output of one ingest: the updated records, the
// dedup marks, and the new position baselines. Order lists the Balances keys
// in first-write order.
type ChangeSet struct {
	Record    model.ActivityRecord
	Aggregate model.AggregateRecord
	Marks     []DedupKey
	Balances  map[BalanceKey]*big.Int
	Order     []BalanceKey
}

// Store is the durable keyed state behind the ledger. Apply must be atomic:
// either the whole change set is durable or none of it is. A record written
// without its dedup marks would let a retried batch double count.
type Store interface {
	GetRecord(ctx context.Context, user string, protocol model.Protocol) (model.ActivityRecord, bool, error)
	GetAggregate(ctx context.Context, user string) (model.AggregateRecord, bool, error)

	SeenObservation(ctx context.Context, key DedupKey) (bool, error)
	LastBalance(ctx context.Context, key BalanceKey) (*big.Int, bool, error)

	Apply(ctx context.Context, changes ChangeSet) error
}
