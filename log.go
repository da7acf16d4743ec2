// Package-level structured logger, grounded on the pack's zerolog usage
// (cuemby-warren pkg/log). Consumers embedding this package configure the
// global zerolog level/writer the same way; SetLogger below is there
// for callers that want to route output to their own zerolog instance.
package engine

import (
	"os"

	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "engine").Logger()

// SetLogger replaces the package logger — callers embedding this engine
// in a larger service typically pass their own configured zerolog.Logger
// here at startup.
func SetLogger(l zerolog.Logger) {
	log = l
}
