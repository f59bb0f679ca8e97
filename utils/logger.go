// Package utils holds small cross-cutting helpers shared by cmd/ and the
// internal packages: logger setup and CLI-facing formatting, generalized
// from the teacher's own utils package.
package utils

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger sets the global zerolog level and console writer, exactly as
// the teacher's utils.InitLogger does.
func InitLogger(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// GetLogger returns a component-scoped logger, as the teacher does for
// every package ("queue", "fetch", "input", ...).
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
