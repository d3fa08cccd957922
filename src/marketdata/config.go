package marketdata

type Config struct {
	Endpoint string `envconfig:"KLINE_ENDPOINT" default:"https://api.binance.com"`
	// number of 1h candles used for the grid auto range
	Lookback int `envconfig:"AUTO_RANGE_LOOKBACK" default:"24"`
}
