// Package cost prices LLM token usage and totals it across a run.
package cost

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps model IDs to pricing.
type Rates map[string]ModelRate

// DefaultRates returns the default Anthropic pricing.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
	}
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator. Configured rates are layered over
// DefaultRates; model keys are case-insensitive.
func NewCalculator(rates Rates) *Calculator {
	merged := Rates{}
	for k, v := range DefaultRates() {
		merged[strings.ToLower(k)] = v
	}
	for k, v := range rates {
		merged[strings.ToLower(k)] = v
	}
	return &Calculator{rates: merged}
}

// Claude computes the cost of one call. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output int64) float64 {
	rate, ok := c.rates[strings.ToLower(model)]
	if !ok {
		return 0
	}
	return float64(input)/1e6*rate.Input + float64(output)/1e6*rate.Output
}

// Summary is the accumulated usage of a Tracker.
type Summary struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	USD          float64 `json:"usd"`
}

// Tracker accumulates usage across concurrent calls.
type Tracker struct {
	calc *Calculator

	mu  sync.Mutex
	sum Summary
}

// NewTracker returns a tracker pricing through calc; nil uses DefaultRates.
func NewTracker(calc *Calculator) *Tracker {
	if calc == nil {
		calc = NewCalculator(nil)
	}
	return &Tracker{calc: calc}
}

// Add records one call and returns its cost.
func (t *Tracker) Add(model string, input, output int64) float64 {
	usd := t.calc.Claude(model, input, output)

	t.mu.Lock()
	t.sum.Calls++
	t.sum.InputTokens += input
	t.sum.OutputTokens += output
	t.sum.USD += usd
	t.mu.Unlock()

	return usd
}

// Summary returns the totals so far. A nil Tracker reports zero.
func (t *Tracker) Summary() Summary {
	if t == nil {
		return Summary{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sum
}

// Log writes the totals at info level when any call was recorded.
func (t *Tracker) Log(phase string) {
	s := t.Summary()
	if s.Calls == 0 {
		return
	}
	zap.L().Info("cost: usage",
		zap.String("phase", phase),
		zap.Int("calls", s.Calls),
		zap.Int64("input_tokens", s.InputTokens),
		zap.Int64("output_tokens", s.OutputTokens),
		zap.Float64("usd", s.USD),
	)
}
