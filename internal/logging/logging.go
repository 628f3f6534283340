package logging

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// New builds the process logger. Development gets coloured text, every
// other environment gets JSON lines.
func New(level, env string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	if env != "development" {
		logger.SetFormatter(log.JSONFormatter)
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
		logger.Warn("unknown log level, using info", "level", level)
	}
	logger.SetLevel(parsed)
	return logger
}
