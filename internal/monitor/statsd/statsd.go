// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package statsd implements the Statsd collaborators used by monitor.Monitor.
package statsd

import (
	"time"

	dogstatsd "github.com/DataDog/datadog-go/statsd"
)

// Client reports metrics to a DogStatsD agent.
type Client struct {
	client *dogstatsd.Client
}

// New dials a DogStatsD agent at addr and tags every metric.
func New(addr string, tags ...string) (*Client, error) {
	c, err := dogstatsd.New(addr, dogstatsd.WithTags(tags))
	if err != nil {
		return nil, err
	}
	return &Client{client: c}, nil
}

func (c *Client) Count1(tag, key string, rate ...string) {
	_ = c.client.Incr(tag+"."+key, rate, 1)
}

func (c *Client) Count(tag, key string, n int64, rate ...string) {
	_ = c.client.Count(tag+"."+key, n, rate, 1)
}

func (c *Client) Gauge(tag, key string, value float64, rate ...string) {
	_ = c.client.Gauge(tag+"."+key, value, rate, 1)
}

func (c *Client) Duration(tag, key string, since time.Time, rate ...string) {
	_ = c.client.Timing(tag+"."+key, time.Since(since), rate, 1)
}

// Noop discards every metric. Used in tests and for hosts with no agent
// configured.
type Noop struct{}

// NewNoop creates a statsd client that discards everything.
func NewNoop() *Noop { return &Noop{} }

func (Noop) Count1(tag, key string, rate ...string)                    {}
func (Noop) Count(tag, key string, n int64, rate ...string)            {}
func (Noop) Gauge(tag, key string, value float64, rate ...string)      {}
func (Noop) Duration(tag, key string, since time.Time, rate ...string) {}
