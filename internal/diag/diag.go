// Copyright 2026 The libtcgcfg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diag hands out loggers for the analysis packages. It generalizes
// the teacher's package-level "silent unless enabled" logger
// (wasm/log.go, validate/log.go) to a library that has many independent
// callers instead of one global VM: each component holds its own
// *logrus.Entry instead of reaching for a package-level var.
package diag

import "github.com/sirupsen/logrus"

// Discard is a logger that drops everything, the default for every
// component that isn't explicitly wired to a more verbose one.
var Discard = newDiscard()

func newDiscard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return logrus.NewEntry(l)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// NewDebug returns a logger at DebugLevel, used when the CLI's --debug
// flag is set.
func NewDebug() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(l)
}

// WithComponent tags entries from one subsystem, mirroring the teacher's
// per-package logger identity (wasm.logger vs validate.logger) as a field
// instead of a second global.
func WithComponent(e *logrus.Entry, name string) *logrus.Entry {
	return e.WithField("component", name)
}
