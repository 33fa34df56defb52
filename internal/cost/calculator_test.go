package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Rates{
		"custom":                    {Input: 2.00, Output: 8.00},
		"CLAUDE-HAIKU-4-5-20251001": {Input: 0.80, Output: 4.00},
	})

	tests := []struct {
		name   string
		model  string
		input  int64
		output int64
		want   float64
	}{
		{name: "custom model", model: "custom", input: 1_000_000, output: 100_000, want: 2.00 + 0.80},
		{name: "override wins over default", model: "claude-haiku-4-5-20251001", input: 1_000_000, output: 100_000, want: 0.80 + 0.40},
		{name: "default kept", model: "claude-sonnet-4-5-20250929", input: 500_000, output: 100_000, want: 1.50 + 1.50},
		{name: "unknown model", model: "gpt", input: 1_000_000, output: 1_000_000, want: 0},
		{name: "zero tokens", model: "custom", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Claude(tt.model, tt.input, tt.output), 1e-9)
		})
	}
}

func TestTracker(t *testing.T) {
	t.Parallel()
	tr := NewTracker(nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add("claude-haiku-4-5-20251001", 1000, 200)
		}()
	}
	wg.Wait()

	s := tr.Summary()
	assert.Equal(t, 50, s.Calls)
	assert.Equal(t, int64(50_000), s.InputTokens)
	assert.Equal(t, int64(10_000), s.OutputTokens)
	// 50 * (1000/1e6*1 + 200/1e6*5) = 50 * 0.002
	assert.InDelta(t, 0.1, s.USD, 1e-9)
	assert.NotPanics(t, func() { tr.Log("push") })
}

func TestTracker_Nil(t *testing.T) {
	t.Parallel()
	var tr *Tracker
	assert.Equal(t, Summary{}, tr.Summary())
	assert.NotPanics(t, func() { tr.Log("push") })
}
