// Package logging builds the logr.Logger used across scanstream, backed by
// logrus.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/bombsimon/logrusr/v3"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"
)

// Options configures a logger
type Options struct {
	Level  string // logrus level name; V(1) logs appear at debug
	Format string // "text" or "json"
	Output io.Writer
}

// New returns a logr.Logger writing through logrus
func New(opts Options) (logr.Logger, error) {
	logrusLog := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logrusLog.SetOutput(out)

	switch opts.Format {
	case "", "text":
		logrusLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrusLog.SetFormatter(&logrus.JSONFormatter{})
	default:
		return logr.Discard(), fmt.Errorf("unknown log format %q", opts.Format)
	}

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return logr.Discard(), fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}
	logrusLog.SetLevel(level)

	return logrusr.New(logrusLog), nil
}
