// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package logging implements the Logger collaborators used by monitor.Monitor.
package logging

import (
	"log"
	"os"
)

// Standard logs to stderr via the standard library logger.
type Standard struct {
	log *log.Logger
}

// NewStandard creates a new standard logger.
func NewStandard() *Standard {
	return &Standard{log: log.New(os.Stderr, "", log.LstdFlags)}
}

func (s *Standard) Debugf(tag, format string, args ...interface{}) {
	s.log.Printf("[debug] "+tag+": "+format, args...)
}

func (s *Standard) Infof(tag, format string, args ...interface{}) {
	s.log.Printf("[info] "+tag+": "+format, args...)
}

func (s *Standard) Warningf(tag, format string, args ...interface{}) {
	s.log.Printf("[warn] "+tag+": "+format, args...)
}

func (s *Standard) Errorf(tag, format string, args ...interface{}) {
	s.log.Printf("[error] "+tag+": "+format, args...)
}

// Noop discards every log line. Used in tests.
type Noop struct{}

// NewNoop creates a logger that discards everything.
func NewNoop() *Noop { return &Noop{} }

func (Noop) Debugf(tag, format string, args ...interface{})   {}
func (Noop) Infof(tag, format string, args ...interface{})    {}
func (Noop) Warningf(tag, format string, args ...interface{}) {}
func (Noop) Errorf(tag, format string, args ...interface{})   {}
