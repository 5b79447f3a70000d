package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/linemk/storefront/internal/lib/logger/handlers/slogpretty"
)

// switching logger
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

const serviceName = "storefront"

// SetupLogger инициализирует логгер в зависимости от окружения:
// local — цветной вывод (pretty), dev — JSON с уровнем debug, prod и прочие — JSON с уровнем info.
// Созданный логгер становится логгером по умолчанию для пакета slog.
func SetupLogger(env string) *slog.Logger {
	return setup(env, os.Stdout)
}

func setup(env string, out io.Writer) *slog.Logger {
	var log *slog.Logger

	switch env {
	case EnvLocal:
		log = setupPrettySlog(out)
	case EnvDev:
		log = slog.New(
			slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	log = log.With(slog.String("service", serviceName), slog.String("env", env))
	slog.SetDefault(log)
	return log
}

func setupPrettySlog(out io.Writer) *slog.Logger {
	color.NoColor = false

	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(out)
	return slog.New(handler)
}
