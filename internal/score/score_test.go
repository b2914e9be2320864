package score

import (
	"testing"

	"creditScope/internal/model"
)

func TestComputeHealthyBorrower(t *testing.T) {
	current := uint64(20_000_000)
	in := Inputs{
		BorrowedUSD:           1000,
		SuppliedUSD:           3000,
		RepaidUSD:             1000,
		FirstActivityHeight:   current - 365*BlocksPerDay,
		LatestProcessedHeight: current,
		CurrentHeight:         current,
	}

	// repayRate 100, utilization floor(100000/4001)=24, cushion 100 (c=300),
	// history 100, recency 100 -> floor(928000/10000) = 92.
	value, tier := Compute(in)
	if value != 92 {
		t.Fatalf("score = %d, want 92", value)
	}
	if tier != TierA {
		t.Fatalf("tier = %s, want A", tier)
	}
}

func TestComputeLiquidationOverride(t *testing.T) {
	current := uint64(20_000_000)
	in := Inputs{
		BorrowedUSD:           1000,
		SuppliedUSD:           3000,
		RepaidUSD:             1000,
		FirstActivityHeight:   current - 365*BlocksPerDay,
		LatestProcessedHeight: current,
		LiquidationCount:      1,
		CurrentHeight:         current,
	}

	value, tier := Compute(in)
	if value != 10 {
		t.Fatalf("score = %d, want 10", value)
	}
	if tier != TierD {
		t.Fatalf("tier = %s, want D", tier)
	}
}

func TestComputeBounds(t *testing.T) {
	cases := []Inputs{
		{},
		{BorrowedUSD: 1, SuppliedUSD: 0, RepaidUSD: 0},
		{BorrowedUSD: 1 << 40, SuppliedUSD: 1, RepaidUSD: 1 << 50, CurrentHeight: 1 << 40},
		{SuppliedUSD: 1 << 50, FirstActivityHeight: 1, LatestProcessedHeight: 1, CurrentHeight: 1 << 40},
		{BorrowedUSD: 500, SuppliedUSD: 700, RepaidUSD: 200, FirstActivityHeight: 100, LatestProcessedHeight: 100, CurrentHeight: 100 + 40*BlocksPerDay},
	}
	for i, in := range cases {
		value, tier := Compute(in)
		if value > 100 {
			t.Fatalf("case %d: score %d out of range", i, value)
		}
		if tier != tierFor(value) {
			t.Fatalf("case %d: tier %s does not match score %d", i, tier, value)
		}
	}
}

func TestComputeNeverActive(t *testing.T) {
	// No borrows, no supplies, zero heights: all age factors read as day zero.
	value, tier := Compute(Inputs{CurrentHeight: 10 * BlocksPerDay})
	// repayRate 100, utilization 0, cushion 100, history 0, recency 100.
	if value != 90 {
		t.Fatalf("score = %d, want 90", value)
	}
	if tier != TierA {
		t.Fatalf("tier = %s, want A", tier)
	}
}

func TestAgeDaysSaturates(t *testing.T) {
	if got := ageDays(100, 50); got != 0 {
		t.Fatalf("future height should saturate to 0, got %d", got)
	}
	if got := ageDays(0, 1<<40); got != 0 {
		t.Fatalf("zero height has no age, got %d", got)
	}
	if got := ageDays(1, 1+3*BlocksPerDay); got != 3 {
		t.Fatalf("ageDays = %d, want 3", got)
	}
}

func TestRecencyDecay(t *testing.T) {
	cases := []struct {
		days uint64
		want uint64
	}{
		{0, 100},
		{45, 50},
		{89, 2},
		{90, 0},
		{400, 0},
	}
	for _, tc := range cases {
		if got := recencyFromDays(tc.days); got != tc.want {
			t.Fatalf("recencyFromDays(%d) = %d, want %d", tc.days, got, tc.want)
		}
	}
}

func TestTierBands(t *testing.T) {
	cases := []struct {
		score uint64
		want  Tier
	}{
		{100, TierA},
		{85, TierA},
		{84, TierB},
		{70, TierB},
		{69, TierC},
		{50, TierC},
		{49, TierD},
		{0, TierD},
	}
	for _, tc := range cases {
		if got := tierFor(tc.score); got != tc.want {
			t.Fatalf("tierFor(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestFromRecord(t *testing.T) {
	record := model.ActivityRecord{
		User:                  "0x00000000000000000000000000000000000000A1",
		Protocol:              model.ProtocolAave,
		BorrowedTotal:         10,
		SuppliedTotal:         20,
		RepaidTotal:           5,
		FirstActivityHeight:   100,
		LatestProcessedHeight: 200,
		LiquidationCount:      1,
	}
	in := FromRecord(record, 300)
	want := Inputs{
		BorrowedUSD:           10,
		SuppliedUSD:           20,
		RepaidUSD:             5,
		FirstActivityHeight:   100,
		LatestProcessedHeight: 200,
		LiquidationCount:      1,
		CurrentHeight:         300,
	}
	if in != want {
		t.Fatalf("inputs mismatch: %+v != %+v", in, want)
	}
}
