package keys

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	logger "github.com/sirupsen/logrus"

	"futuresbot/src/security"
)

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Available commands:")
	fmt.Fprintln(out, "  help                             Show this help message")
	fmt.Fprintln(out, "  new_key                          Print a fresh EXCHANGE_CREDENTIALS_KEY")
	fmt.Fprintln(out, "  set_key API_KEY API_SECRET       Print the encrypted env lines for a key pair")
	fmt.Fprintln(out, "  shutdown                         Exit")
	fmt.Fprintln(out)
}

// EnvLines returns the env assignments for an encrypted key pair.
func EnvLines(apiKey, apiSecret, encodedKey string) ([]string, error) {
	encryptKey, err := security.EncryptString(apiKey, encodedKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt key: %w", err)
	}
	encryptSecret, err := security.EncryptString(apiSecret, encodedKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}
	return []string{
		"BINANCE_API_KEY=" + security.EncryptedPrefix + encryptKey,
		"BINANCE_API_SECRET=" + security.EncryptedPrefix + encryptSecret,
	}, nil
}

// Run reads commands from in until shutdown or EOF. When encodedKey is empty a new key is
// generated and printed first, so the output can be pasted into the environment as is.
func Run(in io.Reader, out io.Writer, encodedKey string) error {
	if encodedKey == "" {
		k, err := security.GenerateKey()
		if err != nil {
			return err
		}
		encodedKey = k
		fmt.Fprintln(out, "EXCHANGE_CREDENTIALS_KEY="+encodedKey)
	}

	reader := bufio.NewScanner(in)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	for reader.Scan() {
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		switch parts[0] {

		case "shutdown":
			return nil

		case "help":
			printUsage(out)

		case "new_key":
			k, err := security.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "EXCHANGE_CREDENTIALS_KEY="+k)

		case "set_key":
			if len(parts) != 3 {
				printUsage(out)
				continue
			}
			lines, err := EnvLines(parts[1], parts[2], encodedKey)
			if err != nil {
				logger.WithError(err).Error("Failed to encrypt credentials")
				return err
			}
			for _, l := range lines {
				fmt.Fprintln(out, l)
			}

		default:
			fmt.Fprintln(out, "Unknown command:", parts[0])
			printUsage(out)
		}
	}
	return reader.Err()
}
