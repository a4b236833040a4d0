// Package logging configures the global zerolog logger from command line
// settings.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Settings struct {
	Level      string `mapstructure:"log-level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format     string `mapstructure:"log-format" validate:"oneof=auto text json"`
	File       string `mapstructure:"log-file"`
	WithCaller bool   `mapstructure:"with-caller"`
}

var Defaults = map[string]any{
	"log-level":   "info",
	"log-format":  "auto",
	"log-file":    "",
	"with-caller": false,
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init replaces log.Logger. The returned closer releases the log file, if any.
func Init(s Settings) (io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s.Level)))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", s.Level)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
		isTTY            = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	)
	if s.File != "" {
		if err := os.MkdirAll(filepath.Dir(s.File), 0o700); err != nil {
			return nil, errors.Wrap(err, "create log directory")
		}
		f, err := os.OpenFile(s.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", s.File)
		}
		out, closer, isTTY = f, f, false
	}

	switch s.Format {
	case "text":
		out = zerolog.ConsoleWriter{Out: out, NoColor: !isTTY}
	case "json":
	default:
		if isTTY {
			out = zerolog.ConsoleWriter{Out: out}
		}
	}

	zerolog.SetGlobalLevel(level)
	ctx := zerolog.New(out).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return closer, nil
}
