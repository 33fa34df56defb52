package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrFloat64(v float64) *float64 { return &v }

func TestBalance_ProxyWhenAbsent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  ClientFeatures
		want float64
	}{
		{"reported balance", ClientFeatures{AvgMonthlyBalance: ptrFloat64(2_000_000), SumIn: 10, SumOut: 5}, 2_000_000},
		{"net inflow proxy", ClientFeatures{SumIn: 500_000, SumOut: 200_000}, 300_000},
		{"negative net flow floors at zero", ClientFeatures{SumIn: 100, SumOut: 900}, 0},
		{"empty record", ClientFeatures{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, tt.rec.Balance(), 1e-9)
		})
	}
}

func TestSpend(t *testing.T) {
	t.Parallel()

	rec := ClientFeatures{TotalSpend: 100_000}
	rec.Shares[CategoryTravel] = 0.5

	assert.InDelta(t, 50_000, rec.Spend(CategoryTravel), 1e-9)
	assert.Zero(t, rec.Spend(CategoryHealth))
	assert.Zero(t, rec.Spend(Category(42)))
}

func TestGetSet_KnownFeatures(t *testing.T) {
	t.Parallel()

	var rec ClientFeatures
	require.NoError(t, rec.Set("total_spend", 1234.5))
	require.NoError(t, rec.Set("pct_online", 0.25))
	require.NoError(t, rec.Set("transfers_count", 7))
	require.NoError(t, rec.Set("avg_monthly_balance_kzt", 99))

	assert.InDelta(t, 1234.5, rec.TotalSpend, 1e-9)
	assert.InDelta(t, 0.25, rec.Shares[CategoryOnline], 1e-9)
	assert.Equal(t, 7, rec.TransfersCount)
	require.NotNil(t, rec.AvgMonthlyBalance)
	assert.InDelta(t, 99, *rec.AvgMonthlyBalance, 1e-9)

	v, err := rec.Get("pct_online")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, v, 1e-9)
}

func TestGetSet_UnknownFeature(t *testing.T) {
	t.Parallel()

	var rec ClientFeatures
	err := rec.Set("pct_tarvel", 0.3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownFeature)

	_, err = rec.Get("total_spent")
	assert.ErrorIs(t, err, ErrUnknownFeature)
}

func TestSet_RejectsInvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		feature string
		value   float64
	}{
		{"count overflows int", "transfers_count", 1e20},
		{"negative count", "transfers_count", -1},
		{"fractional count", "txn_count", 2.9},
		{"NaN count", "transfers_count", math.NaN()},
		{"infinite count", "transfers_count", math.Inf(1)},
		{"negative days since last tx", "days_since_last_tx", -3},
		{"huge days since last tx", "days_since_last_tx", 1e300},
		{"NaN spend", "total_spend", math.NaN()},
		{"infinite spend", "total_spend", math.Inf(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := ClientFeatures{ClientCode: "C1", TotalSpend: 100, TransfersCount: 4}
			before := rec
			err := rec.Set(tt.feature, tt.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidFeature)
			assert.Equal(t, before, rec)
		})
	}
}

func TestSet_AcceptsWholeCounts(t *testing.T) {
	t.Parallel()

	var rec ClientFeatures
	require.NoError(t, rec.Set("transfers_count", 3.0))
	require.NoError(t, rec.Set("txn_count", 1<<40))
	require.NoError(t, rec.Set("days_since_last_tx", 0))

	assert.Equal(t, 3, rec.TransfersCount)
	assert.Equal(t, 1<<40, rec.TxnCount)
	require.NotNil(t, rec.DaysSinceLastTx)
	assert.Equal(t, 0, *rec.DaysSinceLastTx)
}

func TestGet_AbsentOptionalDefaultsToZero(t *testing.T) {
	t.Parallel()

	var rec ClientFeatures
	v, err := rec.Get("avg_monthly_balance_kzt")
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.Equal(t, "", rec.FormatFeature("avg_monthly_balance_kzt"))
	assert.Equal(t, "0", rec.FormatFeature("total_spend"))
}

func TestFeatureNames_CoverEveryCategory(t *testing.T) {
	t.Parallel()

	names := FeatureNames()
	for _, cat := range Categories() {
		assert.Contains(t, names, cat.ShareFeature())
	}
	assert.Equal(t, "total_spend", names[0])
}

func TestUnmarshalJSON(t *testing.T) {
	t.Parallel()

	var rec ClientFeatures
	err := json.Unmarshal([]byte(`{"client_code": 17, "name": "Айгерим", "total_spend": 100000, "pct_travel": 0.5, "avg_monthly_balance_kzt": null}`), &rec)
	require.NoError(t, err)

	assert.Equal(t, "17", rec.ClientCode)
	assert.Equal(t, "Айгерим", rec.Name)
	assert.InDelta(t, 50_000, rec.Spend(CategoryTravel), 1e-9)
	assert.Nil(t, rec.AvgMonthlyBalance)
}

func TestUnmarshalJSON_RejectsUnknownKey(t *testing.T) {
	t.Parallel()

	var rec ClientFeatures
	err := json.Unmarshal([]byte(`{"client_code": "C1", "totl_spend": 5}`), &rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownFeature)
}

func TestUnmarshalJSON_RejectsOverflowingCount(t *testing.T) {
	t.Parallel()

	var rec ClientFeatures
	err := json.Unmarshal([]byte(`{"client_code": "1", "transfers_count": 1e20, "total_spend": 1000}`), &rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFeature)
}

func TestMarshalJSON_OmitsAbsentOptional(t *testing.T) {
	t.Parallel()

	rec := ClientFeatures{ClientCode: "C9", TotalSpend: 10}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "C9", out["client_code"])
	assert.NotContains(t, out, "avg_monthly_balance_kzt")
	assert.NotContains(t, out, "days_since_last_tx")
	assert.Contains(t, out, "pct_other")
}
