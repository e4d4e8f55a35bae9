// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package monitor provides the structured logging and metrics facade used
// throughout the normalize pipeline.
package monitor

import (
	"time"
)

// Logger represents a sink for structured log lines.
type Logger interface {
	Debugf(tag, format string, args ...interface{})
	Infof(tag, format string, args ...interface{})
	Warningf(tag, format string, args ...interface{})
	Errorf(tag, format string, args ...interface{})
}

// Statsd represents a sink for counters, gauges and timers.
type Statsd interface {
	Count1(tag, key string, rate ...string)
	Count(tag, key string, n int64, rate ...string)
	Gauge(tag, key string, value float64, rate ...string)
	Duration(tag, key string, since time.Time, rate ...string)
}

// Monitor combines logging and metrics behind a single dependency, so
// every component takes one collaborator instead of two.
type Monitor interface {
	Debug(tag, msg string, args ...interface{})
	Info(tag, msg string, args ...interface{})
	Warning(tag string, err error)
	Error(err error)
	Count1(tag, key string, rate ...string)
	Count(tag, key string, n int64, rate ...string)
	Gauge(tag, key string, value float64, rate ...string)
	Duration(tag, key string, since time.Time, rate ...string)
}

// client is the default Monitor implementation, composing a Logger and a
// Statsd client tagged with host/app identity.
type client struct {
	logger Logger
	stats  Statsd
	host   string
	app    string
}

// New creates a new monitor client from a logger and a statsd client.
func New(logger Logger, stats Statsd, host, app string) Monitor {
	return &client{
		logger: logger,
		stats:  stats,
		host:   host,
		app:    app,
	}
}

// NewNoop creates a monitor that discards everything, for tests.
func NewNoop() Monitor {
	return new(client)
}

func (c *client) Debug(tag, msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debugf(tag, msg, args...)
	}
}

func (c *client) Info(tag, msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Infof(tag, msg, args...)
	}
}

func (c *client) Warning(tag string, err error) {
	if err == nil || c.logger == nil {
		return
	}
	c.logger.Warningf(tag, "%v", err)
}

func (c *client) Error(err error) {
	if err == nil || c.logger == nil {
		return
	}
	c.logger.Errorf("error", "%v", err)
}

func (c *client) Count1(tag, key string, rate ...string) {
	if c.stats != nil {
		c.stats.Count1(tag, key, rate...)
	}
}

func (c *client) Count(tag, key string, n int64, rate ...string) {
	if c.stats != nil {
		c.stats.Count(tag, key, n, rate...)
	}
}

func (c *client) Gauge(tag, key string, value float64, rate ...string) {
	if c.stats != nil {
		c.stats.Gauge(tag, key, value, rate...)
	}
}

func (c *client) Duration(tag, key string, since time.Time, rate ...string) {
	if c.stats != nil {
		c.stats.Duration(tag, key, since, rate...)
	}
}
