package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a JSON logger in production-like environments and a text
// logger everywhere else.
func New(env string) *slog.Logger {
	return newWithWriter(os.Stdout, env)
}

// NewWithServiceContext adds service, version and environment to every record.
func NewWithServiceContext(serviceName, version, env string) *slog.Logger {
	return New(env).With(
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("environment", env),
	)
}

func newWithWriter(w io.Writer, env string) *slog.Logger {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" || env == "prod" || env == "production" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: true,
		}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
