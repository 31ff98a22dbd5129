// Package plog is the structured logging wrapper used throughout this
// module: one *logrus.Entry per StateRoot, exposed through
// StateRoot.Logger.
//
// Scaled down from firestige-Otus/otus-packet/pkg/log's multi-method
// wrapper and its separate Logger interface: this module has a single
// caller (the State Root and its components), so there is no need for a
// swappable backend, just a thin constructor around *logrus.Logger.
package plog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a fresh *logrus.Entry configured at level, writing to w (or
// stderr if w is nil). Every StateRoot owns one; the reassembly engines,
// flow table, and dispatcher are not handed it and do not log.
func New(level logrus.Level, w io.Writer) *logrus.Entry {
	l := logrus.New()
	l.SetLevel(level)
	if w != nil {
		l.SetOutput(w)
	} else {
		l.SetOutput(os.Stderr)
	}
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(l)
}

// ParseLevel wraps logrus.ParseLevel so callers (e.g. config) don't need a
// direct logrus import just to validate a level string.
func ParseLevel(s string) (logrus.Level, error) {
	return logrus.ParseLevel(s)
}
