package database

type Config struct {
	EnableDB bool `envconfig:"ENABLE_DB" default:"true"`
	// a postgres:// URL, or a sqlite file path
	DatabaseURL  string `envconfig:"DATABASE_URL" default:"futuresbot.db"`
	GormLogLevel int    `envconfig:"GORM_LOG_LEVEL" default:"2"`
}
