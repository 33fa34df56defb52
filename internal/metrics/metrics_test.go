package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInit_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Init()
		Init()
	})
}

func TestUnknownFormulaCounter(t *testing.T) {
	before := testutil.ToFloat64(UnknownFormula.WithLabelValues("mystery"))
	UnknownFormula.WithLabelValues("mystery").Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(UnknownFormula.WithLabelValues("mystery")), 1e-9)
}
