package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"futuresbot/src/connectors"
	"futuresbot/src/database"
	"futuresbot/src/marketdata"
	"futuresbot/src/model"
	"futuresbot/src/risk"
	"futuresbot/src/security"
	"futuresbot/src/server"
)

// Risk holds the pre-trade limits.
type Risk struct {
	MinOrderSize     decimal.Decimal `envconfig:"MIN_ORDER_SIZE" default:"0.001"`
	MaxPositionSize  decimal.Decimal `envconfig:"MAX_POSITION_SIZE" default:"1000"`
	MaxOpenPositions int             `envconfig:"MAX_OPEN_POSITIONS" default:"5"`
	DefaultLeverage  int             `envconfig:"DEFAULT_LEVERAGE" default:"1"`
	// informational, not enforced
	MaxDailyLoss      decimal.Decimal `envconfig:"MAX_DAILY_LOSS" default:"100"`
	QuoteAsset        string          `envconfig:"QUOTE_ASSET" default:"USDT"`
	QuantityPrecision int32           `envconfig:"QUANTITY_PRECISION" default:"3"`
	PricePrecision    int32           `envconfig:"PRICE_PRECISION" default:"1"`
}

type Runtime struct {
	RateLimitPerSecond float64       `envconfig:"RATE_LIMIT_PER_SECOND" default:"10"`
	RateLimitBurst     int           `envconfig:"RATE_LIMIT_BURST" default:"5"`
	RateLimitRetries   int           `envconfig:"RATE_LIMIT_RETRIES" default:"5"`
	PollInterval       time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	ShutdownGrace      time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`
	EnableUserStream   bool          `envconfig:"ENABLE_USER_STREAM" default:"true"`
	BatchConcurrency   int           `envconfig:"BATCH_CONCURRENCY" default:"4"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogFile   string `envconfig:"LOG_FILE" default:"bot.log"`
}

// Config is the whole process configuration. It is loaded once and passed down by value.
type Config struct {
	Exchange   connectors.Config
	Database   database.Config
	Server     server.Config
	MarketData marketdata.Config
	Security   security.Config
	Risk       Risk
	Runtime    Runtime
}

// Load reads every section from the environment and checks the limits.
func Load() (Config, error) {
	var c Config
	sections := []interface{}{&c.Exchange, &c.Database, &c.Server, &c.MarketData, &c.Security, &c.Risk, &c.Runtime}
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return Config{}, model.ConfigError("config.load", "%v", err)
		}
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func GetConfig() Config {
	c, err := Load()
	if err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return c
}

func (c Config) validate() error {
	const op = "config.validate"
	r := c.Risk
	switch {
	case !r.MinOrderSize.IsPositive():
		return model.ConfigError(op, "MIN_ORDER_SIZE must be positive, got %s", r.MinOrderSize)
	case r.MaxPositionSize.LessThan(r.MinOrderSize):
		return model.ConfigError(op, "MAX_POSITION_SIZE %s is below MIN_ORDER_SIZE %s", r.MaxPositionSize, r.MinOrderSize)
	case r.MaxOpenPositions < 1:
		return model.ConfigError(op, "MAX_OPEN_POSITIONS must be at least 1, got %d", r.MaxOpenPositions)
	case r.DefaultLeverage < 1 || r.DefaultLeverage > 125:
		return model.ConfigError(op, "DEFAULT_LEVERAGE must be between 1 and 125, got %d", r.DefaultLeverage)
	case r.QuantityPrecision < 0 || r.PricePrecision < 0:
		return model.ConfigError(op, "precisions must not be negative")
	case c.Runtime.RateLimitPerSecond <= 0 || c.Runtime.RateLimitBurst < 1:
		return model.ConfigError(op, "rate limit must be positive")
	}
	return nil
}

// Limits converts the risk section into validator limits.
func (c Config) Limits() risk.Limits {
	return risk.Limits{
		MinOrderSize:      c.Risk.MinOrderSize,
		MaxPositionSize:   c.Risk.MaxPositionSize,
		MaxOpenPositions:  c.Risk.MaxOpenPositions,
		DefaultLeverage:   c.Risk.DefaultLeverage,
		QuoteAsset:        c.Risk.QuoteAsset,
		QuantityPrecision: c.Risk.QuantityPrecision,
		PricePrecision:    c.Risk.PricePrecision,
	}
}

// Refine narrows the configured precisions to the exchange filters of a symbol.
func Refine(limits risk.Limits, info model.SymbolInfo) risk.Limits {
	if info.QuantityPrecision >= 0 && info.QuantityPrecision < limits.QuantityPrecision {
		limits.QuantityPrecision = info.QuantityPrecision
	}
	if info.PricePrecision >= 0 && info.PricePrecision < limits.PricePrecision {
		limits.PricePrecision = info.PricePrecision
	}
	if info.MinQty.GreaterThan(limits.MinOrderSize) {
		limits.MinOrderSize = info.MinQty
	}
	if info.QuoteAsset != "" {
		limits.QuoteAsset = info.QuoteAsset
	}
	return limits
}
