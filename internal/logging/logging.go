package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process. Development gets a console
// writer at debug level; other environments log JSON at info level.
func Setup(env string) zerolog.Logger {
	return SetupWithWriter(env, nil)
}

// SetupWithWriter is Setup with an explicit output, used by tests.
func SetupWithWriter(env string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if env == "dev" || env == "development" {
		level = zerolog.DebugLevel
	}

	if w == nil {
		if level == zerolog.DebugLevel {
			w = zerolog.ConsoleWriter{Out: os.Stdout}
		} else {
			w = os.Stdout
		}
	}

	logger := zerolog.New(w).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
