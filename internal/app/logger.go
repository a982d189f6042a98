package app

import (
	"strings"

	"github.com/charlesng35/greentrace/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level, defaulting to info.
// An optional format selects "json" (default) or "console" output.
func ConfigureLogging(level string, format ...string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	if len(format) > 0 && strings.TrimSpace(format[0]) != "" {
		return logger.InitWithFormat(level, strings.TrimSpace(format[0]))
	}
	return logger.Init(level)
}
