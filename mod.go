// Package fedchain holds the process-wide logger and metric collectors shared
// by the federation components.
//
// The log level can be changed with the LLVL environment variable, which
// accepts the zerolog level names (trace, debug, info, warn, error).
package fedchain

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// EnvLogLevel is the name of the environment variable to set the log level.
const EnvLogLevel = "LLVL"

const defaultLevel = zerolog.InfoLevel

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance.
var Logger = zerolog.New(logout).
	With().Timestamp().Logger().
	With().Caller().Logger().
	Level(ParseLogLevel(os.Getenv(EnvLogLevel)))

// PromCollectors exposes the Prometheus collectors of the components. A
// process willing to export the metrics registers them once on its registry.
var PromCollectors []prometheus.Collector

// ParseLogLevel returns the zerolog level of the text, or the default level
// if the text is empty or unknown.
func ParseLogLevel(text string) zerolog.Level {
	if text == "" {
		return defaultLevel
	}

	lvl, err := zerolog.ParseLevel(text)
	if err != nil {
		return defaultLevel
	}

	return lvl
}
