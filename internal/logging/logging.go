// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var debugEnabled bool

// Options control logger output.
type Options struct {
	Debug bool
	// JSON switches from the console writer to raw JSON lines.
	JSON bool
	Out  io.Writer
}

// Init initializes the global logger with console output on stderr.
func Init(debug bool) {
	Configure(Options{Debug: debug})
}

// Configure sets the global level and writer.
func Configure(opts Options) {
	debugEnabled = opts.Debug
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.JSON {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	})
}

// DebugEnabled reports whether debug logging is enabled.
func DebugEnabled() bool {
	return debugEnabled
}
