package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexconsult/consult-control-plane/internal/model"
)

func TestCost_FlatRateScenario(t *testing.T) {
	p := NewPolicy(model.PricingFlat, 10, 0)
	assert.Equal(t, 1.67, p.Cost(130))
}

func TestCost_FixedFeeScenario(t *testing.T) {
	p := NewPolicy(model.PricingFixedFee, 10, 20)
	assert.Equal(t, 21.67, p.Cost(130))
}

func TestCost_TrialWindowIsBaselineOnly(t *testing.T) {
	flat := NewPolicy(model.PricingFlat, 45, 0)
	fixed := NewPolicy(model.PricingFixedFee, 45, 20)
	for elapsed := 0; elapsed <= FreeTrialSeconds; elapsed++ {
		require.Zero(t, flat.Cost(elapsed), "flat elapsed=%d", elapsed)
		require.Equal(t, 20.0, fixed.Cost(elapsed), "fixed elapsed=%d", elapsed)
	}
	assert.Greater(t, flat.Cost(FreeTrialSeconds+1), 0.0)
}

func TestCost_MonotonicInElapsed(t *testing.T) {
	for _, p := range []Policy{
		NewPolicy(model.PricingFlat, 7.5, 0),
		NewPolicy(model.PricingFixedFee, 13, 5),
	} {
		prev := p.Cost(0)
		for elapsed := 1; elapsed < 3600; elapsed++ {
			c := p.Cost(elapsed)
			require.GreaterOrEqual(t, c, prev, "mode=%s elapsed=%d", p.Mode, elapsed)
			prev = c
		}
	}
}

func TestLowBalance(t *testing.T) {
	p := NewPolicy(model.PricingFlat, 10, 0)
	tests := []struct {
		name      string
		remaining float64
		want      bool
	}{
		{name: "plenty", remaining: 50, want: false},
		{name: "exactly two minutes", remaining: 20, want: false},
		{name: "under two minutes", remaining: 19.99, want: true},
		{name: "zero", remaining: 0, want: false},
		{name: "negative", remaining: -1, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.LowBalance(tt.remaining))
		})
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "00:00", FormatClock(0))
	assert.Equal(t, "02:10", FormatClock(130))
	assert.Equal(t, "61:01", FormatClock(3661))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "₹1.67", FormatAmount(DefaultCurrency, 1.666666))
	assert.Equal(t, "$0.00", FormatAmount("$", 0))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("fixed-fee")
	require.NoError(t, err)
	assert.Equal(t, model.PricingFixedFee, mode)

	mode, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, model.PricingFlat, mode)

	_, err = ParseMode("tiered")
	assert.Error(t, err)
}

func TestTrialLabel(t *testing.T) {
	assert.Equal(t, "Free Intro", NewPolicy(model.PricingFlat, 1, 0).TrialLabel())
	assert.Equal(t, "Base Charge Active", NewPolicy(model.PricingFixedFee, 1, 1).TrialLabel())
}
