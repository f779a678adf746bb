// Package logging builds the zap loggers shared by every service.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns a sugared logger named after the service. Debug selects the
// development encoder and level.
func New(service string, debug bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("can't initialize zap logger: %w", err)
	}
	return l.Named(service).Sugar(), nil
}

// Must is New that panics; meant for main packages.
func Must(service string, debug bool) *zap.SugaredLogger {
	l, err := New(service, debug)
	if err != nil {
		panic(err)
	}
	return l
}

// Nop discards everything. Used as the default in constructors and tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return Nop()
	}
	return l
}
