package common

import (
	"fmt"
	"io"
	"os"
	"strings"

	"amplifi/internal/config"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide structured logger. NewLogger replaces it at startup.
var Log logrus.FieldLogger = logrus.StandardLogger()

func NewLogger(cfg config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	out, err := logOutput(cfg.OutputPath)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(out)

	Log = logger
	return logger, nil
}

func logOutput(path string) (io.Writer, error) {
	switch path {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return f, nil
	}
}
