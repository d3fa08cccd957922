package marketdata

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// KlineSource reads recent candles to derive a trading range.
type KlineSource struct {
	exchange goex.API
	lookback int
}

func NewKlineSource(cfg Config) *KlineSource {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   cfg.Endpoint,
	}
	return NewKlineSourceWithAPI(binance.NewWithConfig(apiConfig), cfg.Lookback)
}

func NewKlineSourceWithAPI(api goex.API, lookback int) *KlineSource {
	if lookback <= 0 {
		lookback = 24
	}
	return &KlineSource{exchange: api, lookback: lookback}
}

// SuggestRange returns the lowest low and highest high of the last lookback hourly candles.
func (k *KlineSource) SuggestRange(symbol, quote string) (decimal.Decimal, decimal.Decimal, error) {
	quote = strings.ToUpper(quote)
	base := strings.TrimSuffix(strings.ToUpper(symbol), quote)
	if base == "" || base == symbol {
		return decimal.Zero, decimal.Zero, fmt.Errorf("symbol %s does not end with %s", symbol, quote)
	}
	pair := goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: quote})

	klines, err := k.exchange.GetKlineRecords(pair, goex.KLINE_PERIOD_1H, k.lookback)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}
	if len(klines) == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("no klines returned for %s", symbol)
	}

	lower := decimal.NewFromFloat(klines[0].Low)
	upper := decimal.NewFromFloat(klines[0].High)
	for _, kl := range klines[1:] {
		if l := decimal.NewFromFloat(kl.Low); l.LessThan(lower) {
			lower = l
		}
		if h := decimal.NewFromFloat(kl.High); h.GreaterThan(upper) {
			upper = h
		}
	}

	logger.WithFields(map[string]interface{}{
		"symbol":  symbol,
		"candles": len(klines),
		"lower":   lower.String(),
		"upper":   upper.String(),
	}).Info("Suggested grid range from recent candles")

	if !lower.LessThan(upper) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("flat price history for %s, cannot derive range", symbol)
	}
	return lower, upper, nil
}
