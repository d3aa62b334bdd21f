package logger

import (
	"log/slog"
	"os"

	slogotel "github.com/remychantenay/slog-otel"
)

// LogLevel is shared by every handler built from this package so the level
// can be adjusted once config has been loaded.
var LogLevel = new(slog.LevelVar)

var jsonHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	AddSource: true,
	Level:     LogLevel,
})
var otelHandler = slogotel.NewOtelHandler(slogotel.WithNoTraceEvents(true))

var Handler = otelHandler(jsonHandler)

var Logger = slog.New(Handler)

func InitSlog() {
	slog.SetDefault(Logger)
	LogLevel.Set(slog.LevelInfo)
}
