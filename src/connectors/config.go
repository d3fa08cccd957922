package connectors

import "time"

// Config holds the Binance USDT-M futures connection settings.
type Config struct {
	APIKey    string `envconfig:"BINANCE_API_KEY"`
	APISecret string `envconfig:"BINANCE_API_SECRET"`
	Testnet   bool   `envconfig:"BINANCE_TESTNET" default:"true"`

	BaseURL          string `envconfig:"BASE_URL" default:"https://fapi.binance.com"`
	TestnetURL       string `envconfig:"TESTNET_URL" default:"https://testnet.binancefuture.com"`
	StreamURL        string `envconfig:"STREAM_URL" default:"wss://fstream.binance.com/ws"`
	TestnetStreamURL string `envconfig:"TESTNET_STREAM_URL" default:"wss://stream.binancefuture.com/ws"`

	RecvWindow  int64         `envconfig:"RECV_WINDOW" default:"5000"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
	HTTPRetries int           `envconfig:"HTTP_RETRIES" default:"3"`
}

// RESTURL returns the REST endpoint for the selected environment.
func (c Config) RESTURL() string {
	if c.Testnet {
		return c.TestnetURL
	}
	return c.BaseURL
}

// WSURL returns the websocket endpoint for the selected environment.
func (c Config) WSURL() string {
	if c.Testnet {
		return c.TestnetStreamURL
	}
	return c.StreamURL
}
