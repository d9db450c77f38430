// Package logging centralizes logrus setup so every component logs with
// the same field conventions and level handling.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger configured from a textual level name
// ("debug", "info", "warn", "error"; unrecognized values fall back to
// "info"). Output goes to stderr so stdout stays free for interactive
// client sessions.
func New(level string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(parseLevel(level))
	return l
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Component returns an Entry tagged with a "component" field, the
// convention pkg/node and the cmd binaries use for the entries they hand
// to each component (rendezvous, session, keyer, diag).
func Component(l *logrus.Logger, name string) *logrus.Entry {
	return l.WithField("component", name)
}
