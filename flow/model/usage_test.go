package model

import (
	"math"
	"testing"
)

func TestUsageTracker(t *testing.T) {
	tracker := NewUsageTracker()

	tracker.Record("generate_trd", Response{
		Model: "claude-3-5-sonnet-20241022", TokensIn: 1000, TokensOut: 2000,
	})
	tracker.Record("validate_trd", Response{
		Model: "gpt-4o-mini", TokensIn: 500, TokensOut: 100,
	})

	// 1000/1M*3.00 + 2000/1M*15.00 + 500/1M*0.15 + 100/1M*0.60
	want := 0.003 + 0.030 + 0.000075 + 0.00006
	if got := tracker.TotalCost(); math.Abs(got-want) > 1e-9 {
		t.Errorf("expected cost %f, got %f", want, got)
	}

	in, out := tracker.Tokens()
	if in != 1500 || out != 2100 {
		t.Errorf("expected 1500/2100 tokens, got %d/%d", in, out)
	}

	calls := tracker.Calls()
	if len(calls) != 2 || calls[0].Stage != "generate_trd" {
		t.Errorf("unexpected call log: %+v", calls)
	}
}

func TestUsageTracker_UnknownModelZeroCost(t *testing.T) {
	tracker := NewUsageTracker()
	tracker.Record("analyze", Response{Model: "mock", TokensIn: 100, TokensOut: 100})

	if got := tracker.TotalCost(); got != 0 {
		t.Errorf("unknown model should cost 0, got %f", got)
	}
	if in, _ := tracker.Tokens(); in != 100 {
		t.Errorf("tokens still tracked, got %d", in)
	}
}

func TestUsageTracker_NilSafe(t *testing.T) {
	var tracker *UsageTracker
	tracker.Record("analyze", Response{Model: "mock"}) // must not panic
}
