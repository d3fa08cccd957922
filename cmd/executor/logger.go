package executor

import (
	"io"
	"os"
	"strings"

	logger "github.com/sirupsen/logrus"

	"futuresbot/src/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogger configures the global logger from the runtime section. Every line goes to stderr
// and, when LOG_FILE is set, is appended to that file too. The returned closer releases the file.
func SetupLogger(rt config.Runtime) (io.Closer, error) {
	level, err := logger.ParseLevel(strings.ToLower(rt.LogLevel))
	if err != nil {
		level = logger.DebugLevel // fallback seguro
	}
	logger.SetLevel(level)

	if strings.EqualFold(rt.LogFormat, "json") {
		logger.SetFormatter(&logger.JSONFormatter{})
	} else {
		logger.SetFormatter(&logger.TextFormatter{
			FullTimestamp: true,
		})
	}

	if rt.LogFile == "" {
		logger.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(rt.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.SetOutput(os.Stderr)
		return nopCloser{}, err
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}
