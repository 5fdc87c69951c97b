// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger: human-readable output on stderr plus, when
// tail is non-nil, plain lines into tail for the web log view. Unknown levels
// fall back to info.
func Setup(level string, tail io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	if tail != nil {
		plain := zerolog.ConsoleWriter{Out: tail, NoColor: true, TimeFormat: time.RFC3339}
		w = zerolog.MultiLevelWriter(w, plain)
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return log.Logger
}
