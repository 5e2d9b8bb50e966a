package vstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mwantia/vstore/log"
	"github.com/mwantia/vstore/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Order(t *testing.T) {
	r := newRecorder(log.NewDiscard(), 1, 0, 4)
	ctx := t.Context()

	var mu sync.Mutex
	order := make([]int, 0)
	for i := range 10 {
		require.NoError(t, r.submit(ctx, "op", "/", false, func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
			return nil
		}))
	}

	require.NoError(t, r.flush(ctx))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
	require.NoError(t, r.close(ctx))
}

func TestRecorder_Retry(t *testing.T) {
	r := newRecorder(log.NewDiscard(), 3, time.Millisecond, 0)
	ctx := t.Context()

	attempts := 0
	err := r.submit(ctx, "op", "/a", true, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = r.submit(ctx, "op", "/b", true, func(ctx context.Context) error {
		attempts++
		return metadata.ErrRecordExists
	})
	require.ErrorIs(t, err, metadata.ErrRecordExists)
	assert.Equal(t, 1, attempts)

	require.NoError(t, r.close(ctx))
}

func TestRecorder_DetachedContext(t *testing.T) {
	r := newRecorder(log.NewDiscard(), 1, 0, 1)

	ctx, cancel := context.WithCancel(t.Context())
	started := make(chan struct{})
	release := make(chan struct{})
	var taskErr error

	require.NoError(t, r.submit(ctx, "op", "/", false, func(ctx context.Context) error {
		close(started)
		<-release
		taskErr = ctx.Err()
		return nil
	}))

	<-started
	cancel()
	close(release)

	require.NoError(t, r.flush(t.Context()))
	assert.NoError(t, taskErr)
	require.NoError(t, r.close(t.Context()))
}

func TestRecorder_Closed(t *testing.T) {
	r := newRecorder(log.NewDiscard(), 1, 0, 1)
	ctx := t.Context()

	ran := false
	require.NoError(t, r.submit(ctx, "op", "/", false, func(ctx context.Context) error {
		ran = true
		return nil
	}))

	require.NoError(t, r.close(ctx))
	assert.True(t, ran)
	require.NoError(t, r.close(ctx))

	err := r.submit(ctx, "op", "/", false, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrManagerClosed)
}

func TestRecorder_FlushWhileSubmitting(t *testing.T) {
	r := newRecorder(log.NewDiscard(), 1, 0, 8)
	ctx := t.Context()

	// Flushing an idle recorder returns immediately
	require.NoError(t, r.flush(ctx))

	var wg sync.WaitGroup
	var mu sync.Mutex
	written := 0
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 25 {
				assert.NoError(t, r.submit(ctx, "op", "/", false, func(ctx context.Context) error {
					mu.Lock()
					defer mu.Unlock()
					written++
					return nil
				}))
			}
		}()
		go func() {
			defer wg.Done()
			for range 25 {
				assert.NoError(t, r.flush(ctx))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, r.flush(ctx))
	mu.Lock()
	assert.Equal(t, 100, written)
	mu.Unlock()
	require.NoError(t, r.close(ctx))
}

func TestRecorder_FlushCanceled(t *testing.T) {
	r := newRecorder(log.NewDiscard(), 1, 0, 1)
	release := make(chan struct{})

	require.NoError(t, r.submit(t.Context(), "op", "/", false, func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.flush(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, r.flush(t.Context()))
	require.NoError(t, r.close(t.Context()))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(errors.New("database is locked")))
	assert.False(t, retryable(metadata.ErrStoreClosed))
	assert.False(t, retryable(context.Canceled))
}
