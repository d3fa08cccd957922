package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresbot/src/model"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func defaultLimits() Limits {
	return Limits{
		MinOrderSize:      d("0.001"),
		MaxPositionSize:   d("1000"),
		MaxOpenPositions:  5,
		QuoteAsset:        "USDT",
		QuantityPrecision: 3,
		PricePrecision:    1,
	}
}

func TestValidate(t *testing.T) {
	limits := defaultLimits()

	tests := []struct {
		name     string
		intent   model.OrderIntent
		ref      decimal.Decimal
		exposure Exposure
		wantErr  string
	}{
		{
			name:   "market order within limits",
			intent: model.OrderIntent{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: d("0.002")},
			ref:    d("120000"),
		},
		{
			name:    "below minimum",
			intent:  model.OrderIntent{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: d("0.0005")},
			ref:     d("120000"),
			wantErr: "below minimum",
		},
		{
			name:    "notional too large",
			intent:  model.OrderIntent{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: d("0.01")},
			ref:     d("120000"),
			wantErr: "exceeds max position size",
		},
		{
			name:   "limit price overrides reference",
			intent: model.OrderIntent{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: d("0.01"), Price: d("90000")},
			ref:    d("120000"),
			// 900 notional
		},
		{
			name:    "no price at all",
			intent:  model.OrderIntent{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: d("0.01")},
			ref:     decimal.Zero,
			wantErr: "no reference price",
		},
		{
			name:     "too many positions",
			intent:   model.OrderIntent{Symbol: "ETHUSDT", Side: model.SideBuy, Quantity: d("0.01")},
			ref:      d("3000"),
			exposure: Exposure{OpenPositions: 5},
			wantErr:  "max open positions",
		},
		{
			name:     "existing position on symbol does not count",
			intent:   model.OrderIntent{Symbol: "ETHUSDT", Side: model.SideBuy, Quantity: d("0.01")},
			ref:      d("3000"),
			exposure: Exposure{OpenPositions: 5, SymbolOpen: true},
		},
		{
			name:     "reduce only skips position count",
			intent:   model.OrderIntent{Symbol: "ETHUSDT", Side: model.SideSell, Quantity: d("0.01"), ReduceOnly: true},
			ref:      d("3000"),
			exposure: Exposure{OpenPositions: 5},
		},
		{
			name:    "missing quote suffix",
			intent:  model.OrderIntent{Symbol: "BTCBUSD", Side: model.SideBuy, Quantity: d("0.002")},
			ref:     d("120000"),
			wantErr: "invalid symbol",
		},
		{
			name:    "lower case symbol",
			intent:  model.OrderIntent{Symbol: "btcusdt", Side: model.SideBuy, Quantity: d("0.002")},
			ref:     d("120000"),
			wantErr: "invalid symbol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.intent, tt.ref, tt.exposure, limits)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.Is(err, model.ErrValidation))
		})
	}
}

func TestValidateOrderOfChecks(t *testing.T) {
	// fails every check, the first one wins
	intent := model.OrderIntent{Symbol: "bad", Quantity: d("0.0001")}
	err := Validate(intent, decimal.Zero, Exposure{OpenPositions: 100}, defaultLimits())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below minimum")
}

func TestValidSymbolOtherQuote(t *testing.T) {
	assert.True(t, ValidSymbol("BTCUSDC", "USDC"))
	assert.False(t, ValidSymbol("BTCUSDT", "USDC"))
	assert.True(t, ValidSymbol("ETHUSDT", ""))
	assert.False(t, ValidSymbol("XUSDT", "USDT"))
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", NormalizeSymbol(" btcusdt "))
	assert.Equal(t, "ETHUSDT", NormalizeSymbol("ethusd"))
	assert.Equal(t, "BTCEUR", NormalizeSymbol("btceur"))
	assert.Equal(t, "", NormalizeSymbol(""))
}

func TestParseQuantity(t *testing.T) {
	q, err := ParseQuantity("quantity", "0.010")
	require.NoError(t, err)
	assert.True(t, q.Equal(d("0.01")))

	_, err = ParseQuantity("quantity", "-1")
	require.Error(t, err)
	assert.True(t, model.IsUserError(err))

	_, err = ParseQuantity("quantity", "abc")
	require.Error(t, err)
}

func TestLimitsRounding(t *testing.T) {
	l := defaultLimits()
	assert.Equal(t, "0.003", l.TruncateQuantity(d("0.0039")).String())
	assert.Equal(t, "115555.6", l.RoundPrice(d("115555.55")).String())
}

func TestCheckSymbol(t *testing.T) {
	require.NoError(t, CheckSymbol("BTCUSDT", defaultLimits()))

	err := CheckSymbol("BTC-USD", defaultLimits())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))
	assert.Contains(t, err.Error(), `invalid symbol "BTC-USD"`)
}
