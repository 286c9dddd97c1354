package model

import (
	"sync"
	"time"
)

// Pricing defines per-model token costs in USD per million tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing for the models the orchestrator commonly runs on.
// Prices change; update as providers adjust them.
var defaultPricing = map[string]Pricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// Call records one LLM invocation.
type Call struct {
	Model        string
	Stage        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// UsageTracker accumulates token usage and estimated cost per session.
// Safe for concurrent use.
type UsageTracker struct {
	mu           sync.RWMutex
	pricing      map[string]Pricing
	calls        []Call
	totalCost    float64
	inputTokens  int64
	outputTokens int64
}

// NewUsageTracker creates a tracker with the built-in pricing table.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{pricing: defaultPricing}
}

// Record adds one call. Unknown models are tracked with zero cost.
func (t *UsageTracker) Record(stage string, resp Response) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var cost float64
	if p, ok := t.pricing[resp.Model]; ok {
		cost = float64(resp.TokensIn)/1e6*p.InputPer1M +
			float64(resp.TokensOut)/1e6*p.OutputPer1M
	}
	t.calls = append(t.calls, Call{
		Model:        resp.Model,
		Stage:        stage,
		InputTokens:  resp.TokensIn,
		OutputTokens: resp.TokensOut,
		CostUSD:      cost,
		Timestamp:    time.Now().UTC(),
	})
	t.totalCost += cost
	t.inputTokens += int64(resp.TokensIn)
	t.outputTokens += int64(resp.TokensOut)
}

// TotalCost returns the accumulated cost estimate in USD.
func (t *UsageTracker) TotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCost
}

// Tokens returns total input and output tokens.
func (t *UsageTracker) Tokens() (in, out int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inputTokens, t.outputTokens
}

// Calls returns a copy of the call log.
func (t *UsageTracker) Calls() []Call {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}
