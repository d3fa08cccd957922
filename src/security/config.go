package security

type Config struct {
	// base64 encoded 32 byte key for nacl secretbox
	ExchangeCRKey string `envconfig:"EXCHANGE_CREDENTIALS_KEY"`
}
