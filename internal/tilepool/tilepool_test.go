package tilepool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExecutesAllTasks(t *testing.T) {
	pool := New(context.Background(), 4)
	defer pool.StopAndWait()

	var count int32
	tasks := make([]func() error, 10)
	for i := range tasks {
		tasks[i] = func() error {
			atomic.AddInt32(&count, 1)
			return nil
		}
	}
	require.NoError(t, pool.Run(tasks...))
	assert.EqualValues(t, 10, count)
}

func TestRunCollectsAllErrors(t *testing.T) {
	pool := New(context.Background(), 2)
	defer pool.StopAndWait()

	errA := errors.New("tile a failed")
	errB := errors.New("tile b failed")
	err := pool.Run(
		func() error { return errA },
		func() error { return nil },
		func() error { return errB },
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTilePool)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}
