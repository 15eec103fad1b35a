// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/ponder/errors"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// New returns a console logger writing to w. Verbose enables debug output;
// otherwise only warnings and errors are written.
func New(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: w, NoColor: !isTerminal(w), TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// Install makes logger the global logger used by zerolog/log.
func Install(logger zerolog.Logger) {
	zlog.Logger = logger
	zerolog.DefaultContextLogger = &logger
}

// OpenTrace opens (appending) a trace file for modes where stdout and
// stderr belong to a protocol peer. The caller closes it.
func OpenTrace(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "could not create trace directory")
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open trace file %s", path)
	}
	return f, nil
}

// Nop discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// isTerminal reports whether w is a terminal that can render colour.
func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
