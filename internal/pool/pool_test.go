// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounded_RunsJobAndReturnsOutcome(t *testing.T) {
	p := New(2)
	defer p.Close()

	task := p.Go(func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	v, err := task.Outcome()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestBounded_PropagatesError(t *testing.T) {
	p := New(1)
	defer p.Close()

	task := p.Go(func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	_, err := task.Outcome()
	assert.EqualError(t, err, "boom")
}

func TestNull_RunsSynchronously(t *testing.T) {
	p := NewNull()
	ran := false
	task := p.Go(func(ctx context.Context) (interface{}, error) {
		ran = true
		return "done", nil
	})
	assert.True(t, ran)
	v, err := task.Outcome()
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}
