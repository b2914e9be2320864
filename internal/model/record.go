package model

// ActivityRecord is the per-(user, protocol) aggregate of observed activity.
// All USD totals and event counts only ever grow; FirstActivityHeight is set
// once and never changes; LatestProcessedHeight never decreases.
type ActivityRecord struct {
	User     string   `json:"user"`
	Protocol Protocol `json:"protocol"`

	BorrowedTotal uint64 `json:"borrowed_total"`
	SuppliedTotal uint64 `json:"supplied_total"`
	RepaidTotal   uint64 `json:"repaid_total"`

	BorrowCount uint64 `json:"borrow_count"`
	SupplyCount uint64 `json:"supply_count"`
	RepayCount  uint64 `json:"repay_count"`

	LatestProcessedHeight uint64 `json:"latest_processed_height"`
	// FirstActivityHeight is zero while the record has never seen activity.
	FirstActivityHeight uint64 `json:"first_activity_height"`
	LiquidationCount    uint64 `json:"liquidation_count"`
}

// AggregateRecord is the cross-protocol roll-up for one user. Totals are the
// sums of the per-protocol records; FirstActivityHeight is the minimum and
// LatestProcessedHeight the maximum across protocols.
type AggregateRecord struct {
	User string `json:"user"`

	BorrowedTotal uint64 `json:"borrowed_total"`
	SuppliedTotal uint64 `json:"supplied_total"`
	RepaidTotal   uint64 `json:"repaid_total"`

	BorrowCount uint64 `json:"borrow_count"`
	SupplyCount uint64 `json:"supply_count"`
	RepayCount  uint64 `json:"repay_count"`

	LatestProcessedHeight uint64 `json:"latest_processed_height"`
	FirstActivityHeight   uint64 `json:"first_activity_height"`
	LiquidationCount      uint64 `json:"liquidation_count"`
}

// ObserveHeight advances LatestProcessedHeight if the height is newer.
func (r *ActivityRecord) ObserveHeight(height uint64) {
	if height > r.LatestProcessedHeight {
		r.LatestProcessedHeight = height
	}
}

// ObserveHeight advances LatestProcessedHeight if the height is newer.
func (a *AggregateRecord) ObserveHeight(height uint64) {
	if height > a.LatestProcessedHeight {
		a.LatestProcessedHeight = height
	}
}

// ObserveFirstActivity records the first activity height. The protocol record
// sets it exactly once; the aggregate only takes it when unset or earlier.
func (r *ActivityRecord) ObserveFirstActivity(height uint64) {
	if r.FirstActivityHeight == 0 {
		r.FirstActivityHeight = height
	}
}

// ObserveFirstActivity lowers the aggregate first-activity height when the
// incoming height improves on it.
func (a *AggregateRecord) ObserveFirstActivity(height uint64) {
	if height == 0 {
		return
	}
	if a.FirstActivityHeight == 0 || height < a.FirstActivityHeight {
		a.FirstActivityHeight = height
	}
}
