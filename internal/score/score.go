// Package score maps accumulated lending activity to a deterministic credit
// score and tier. Everything is integer arithmetic on a base-100 scale; there
// is no floating point and no external input beyond the record and the
// reference block height.
package score

import (
	"creditScope/internal/model"
)

// BlocksPerDay converts block heights to days, from the target chain's
// average block time.
const BlocksPerDay = 43200

// Factor weights in basis points; they sum to 10000.
const (
	weightRepayRate   = 3500
	weightUtilization = 3000
	weightCushion     = 1500
	weightHistory     = 1000
	weightRecency     = 1000
)

// liquidatedScore is the fixed score for any record with a liquidation.
const liquidatedScore = 10

// Tier is the coarse credit band.
type Tier uint8

const (
	TierD Tier = iota
	TierC
	TierB
	TierA
)

func (t Tier) String() string {
	switch t {
	case TierA:
		return "A"
	case TierB:
		return "B"
	case TierC:
		return "C"
	default:
		return "D"
	}
}

// MarshalText encodes the tier as its letter.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Inputs are the scoring inputs, extracted from a protocol or aggregate
// record plus the current reference height.
type Inputs struct {
	BorrowedUSD           uint64
	SuppliedUSD           uint64
	RepaidUSD             uint64
	FirstActivityHeight   uint64
	LatestProcessedHeight uint64
	LiquidationCount      uint64
	CurrentHeight         uint64
}

// FromRecord builds scoring inputs from a per-protocol record.
func FromRecord(record model.ActivityRecord, currentHeight uint64) Inputs {
	return Inputs{
		BorrowedUSD:           record.BorrowedTotal,
		SuppliedUSD:           record.SuppliedTotal,
		RepaidUSD:             record.RepaidTotal,
		FirstActivityHeight:   record.FirstActivityHeight,
		LatestProcessedHeight: record.LatestProcessedHeight,
		LiquidationCount:      record.LiquidationCount,
		CurrentHeight:         currentHeight,
	}
}

// FromAggregate builds scoring inputs from a cross-protocol record.
func FromAggregate(record model.AggregateRecord, currentHeight uint64) Inputs {
	return Inputs{
		BorrowedUSD:           record.BorrowedTotal,
		SuppliedUSD:           record.SuppliedTotal,
		RepaidUSD:             record.RepaidTotal,
		FirstActivityHeight:   record.FirstActivityHeight,
		LatestProcessedHeight: record.LatestProcessedHeight,
		LiquidationCount:      record.LiquidationCount,
		CurrentHeight:         currentHeight,
	}
}

// Compute returns the credit score in [0, 100] and its tier. Any liquidation
// overrides every other factor.
func Compute(in Inputs) (uint64, Tier) {
	if in.LiquidationCount > 0 {
		return liquidatedScore, tierFor(liquidatedScore)
	}

	repayRate := uint64(100)
	if in.BorrowedUSD > 0 {
		repayRate = in.RepaidUSD * 100 / in.BorrowedUSD
		if repayRate > 100 {
			repayRate = 100
		}
	}

	utilization := in.BorrowedUSD * 100 / (in.BorrowedUSD + in.SuppliedUSD + 1)
	if utilization > 100 {
		utilization = 100
	}

	cushion := uint64(100)
	if in.BorrowedUSD > 0 {
		c := in.SuppliedUSD * 100 / in.BorrowedUSD
		if c >= 200 {
			cushion = 100
		} else {
			cushion = c / 2
		}
	}

	history := factorFromDays(ageDays(in.FirstActivityHeight, in.CurrentHeight))
	recency := recencyFromDays(ageDays(in.LatestProcessedHeight, in.CurrentHeight))

	weighted := repayRate*weightRepayRate +
		(100-utilization)*weightUtilization +
		cushion*weightCushion +
		history*weightHistory +
		recency*weightRecency

	value := weighted / 10000
	if value > 100 {
		value = 100
	}
	return value, tierFor(value)
}

// ageDays converts the elapsed blocks since a reference height to whole
// days. The subtraction saturates at zero, and a zero reference height means
// no activity.
func ageDays(height, currentHeight uint64) uint64 {
	if height == 0 || currentHeight <= height {
		return 0
	}
	return (currentHeight - height) / BlocksPerDay
}

func factorFromDays(days uint64) uint64 {
	if days >= 365 {
		return 100
	}
	return days * 100 / 365
}

func recencyFromDays(days uint64) uint64 {
	if days >= 90 {
		return 0
	}
	return 100 - days*100/90
}

func tierFor(value uint64) Tier {
	switch {
	case value >= 85:
		return TierA
	case value >= 70:
		return TierB
	case value >= 50:
		return TierC
	default:
		return TierD
	}
}
