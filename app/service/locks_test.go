package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverlapPolicy(t *testing.T) {
	for _, s := range []string{"skip", "queue", "allow"} {
		p, err := ParseOverlapPolicy(s)
		require.NoError(t, err)
		assert.Equal(t, OverlapPolicy(s), p)
	}
	_, err := ParseOverlapPolicy("never")
	assert.EqualError(t, err, `unknown overlap policy "never"`)
}

func TestLocks_Skip(t *testing.T) {
	l := NewLocks("", "")
	assert.Equal(t, OverlapSkip, l.Policy(), "skip by default")

	release, err := l.Acquire(context.Background(), "job1")
	require.NoError(t, err)
	assert.True(t, l.Active("job1"))

	_, err = l.Acquire(context.Background(), "job1")
	assert.ErrorIs(t, err, ErrBusy)

	release2, err := l.Acquire(context.Background(), "job2")
	require.NoError(t, err, "other jobs not affected")
	release2()

	release()
	assert.False(t, l.Active("job1"))
	release, err = l.Acquire(context.Background(), "job1")
	require.NoError(t, err)
	release()
}

func TestLocks_Queue(t *testing.T) {
	l := NewLocks(OverlapQueue, "")

	release, err := l.Acquire(context.Background(), "job1")
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		r, e := l.Acquire(context.Background(), "job1")
		assert.NoError(t, e)
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		r()
	}()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	order = append(order, "first")
	mu.Unlock()
	release()
	<-done
	assert.Equal(t, []string{"first", "second"}, order)

	release, err = l.Acquire(context.Background(), "job1")
	require.NoError(t, err)
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "job1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocks_Allow(t *testing.T) {
	l := NewLocks(OverlapAllow, "")
	r1, err := l.Acquire(context.Background(), "job1")
	require.NoError(t, err)
	r2, err := l.Acquire(context.Background(), "job1")
	require.NoError(t, err)
	assert.False(t, l.Active("job1"), "allow policy doesn't track runs")
	r1()
	r2()
}

func TestLocks_FileLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	l1 := NewLocks(OverlapSkip, dir)
	l2 := NewLocks(OverlapSkip, dir) // stands for another process sharing the lock dir

	release, err := l1.Acquire(context.Background(), "job1")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "job1.lock"))

	_, err = l2.Acquire(context.Background(), "job1")
	require.ErrorIs(t, err, ErrBusy)
	assert.Contains(t, err.Error(), "locked by other process")
	assert.False(t, l2.Active("job1"), "local registration rolled back")

	release()
	release, err = l2.Acquire(context.Background(), "job1")
	require.NoError(t, err)
	release()
}

func TestLocks_FileLockQueue(t *testing.T) {
	dir := t.TempDir()
	l1 := NewLocks(OverlapQueue, dir)
	l2 := NewLocks(OverlapQueue, dir)

	release, err := l1.Acquire(context.Background(), "job1")
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := time.Now()
	release2, err := l2.Acquire(ctx, "job1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(st), 100*time.Millisecond)
	release2()
}
