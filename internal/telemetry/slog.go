package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the global slog default logger from the configured
// format and level strings.
//
// format: "json" → JSONHandler (production); anything else → TextHandler.
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to
// "info". Source locations are attached only at debug level.
//
// Installing the default means the rest of the application can call
// slog.Info/Warn/Error directly without threading a *slog.Logger around.
func SetupLogger(format, level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}
