package server

type Config struct {
	// empty disables the webhook relay
	Port  string `envconfig:"WEBHOOK_PORT"`
	Token string `envconfig:"WEBHOOK_TOKEN"`
}
