package conditions

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Check(t *testing.T) {
	checker := NewChecker(0)

	tests := []struct {
		name       string
		conditions Config
		wantOK     bool
		wantReason string
	}{
		{name: "no conditions", conditions: Config{}, wantOK: true},
		{name: "memory below high threshold", conditions: Config{MemoryBelow: intPtr(101)}, wantOK: true},
		{name: "memory below zero threshold", conditions: Config{MemoryBelow: intPtr(0)}, wantOK: false, wantReason: "memory at"},
		{name: "load below zero threshold", conditions: Config{LoadAvgBelow: float64Ptr(0)}, wantOK: false, wantReason: "load at"},
		{name: "disk free above zero", conditions: Config{DiskFreeAbove: intPtr(0), DiskFreePath: "/"}, wantOK: true},
		{name: "disk free default path", conditions: Config{DiskFreeAbove: intPtr(0)}, wantOK: true},
		{name: "disk free bad path", conditions: Config{DiskFreeAbove: intPtr(1), DiskFreePath: "/non/existent/path"},
			wantOK: false, wantReason: "failed to get disk usage"},
		{name: "custom script success", conditions: Config{Custom: "exit 0"}, wantOK: true},
		{name: "custom script failure", conditions: Config{Custom: "exit 1"}, wantOK: false,
			wantReason: `custom check "exit 1" failed: exit status 1`},
		{name: "first failed condition wins", conditions: Config{MemoryBelow: intPtr(101), DiskFreeAbove: intPtr(0), Custom: "false"},
			wantOK: false, wantReason: "custom check"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := checker.Check(tt.conditions)
			assert.Equal(t, tt.wantOK, ok, reason)
			if tt.wantOK {
				assert.Empty(t, reason)
				return
			}
			assert.Contains(t, reason, tt.wantReason)
		})
	}
}

func TestChecker_CPU(t *testing.T) {
	checker := NewChecker(1)
	ok, reason := checker.Check(Config{CPUBelow: intPtr(0)})
	assert.False(t, ok)
	assert.Contains(t, reason, "threshold 0%")

	ok, reason = checker.Check(Config{CPUBelow: intPtr(101)})
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestChecker_CustomScriptMarker(t *testing.T) {
	checker := NewChecker(0)
	tmpDir := t.TempDir()
	marker := filepath.Join(tmpDir, "marker")

	cond := Config{Custom: "test -f " + marker}
	ok, reason := checker.Check(cond)
	assert.False(t, ok)
	assert.Contains(t, reason, "custom check")

	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o600))
	ok, reason = checker.Check(cond)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestChecker_MaxConcurrent(t *testing.T) {
	checker := NewChecker(2)
	var running, maxRunning int32

	// custom script is the only check, so concurrency is observed from the sleep inside the semaphore
	cond := Config{Custom: "sleep 0.1"}
	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checker.sema.Lock()
			cur := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if cur <= m || atomic.CompareAndSwapInt32(&maxRunning, m, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			checker.sema.Unlock()

			ok, _ := checker.Check(cond)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(2))
}

func TestNewChecker_Limits(t *testing.T) {
	tests := []struct {
		limit, expected int
	}{{-1, 10}, {0, 10}, {5, 5}, {1, 1}}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, NewChecker(tt.limit).maxConcurrent)
	}
}

func intPtr(i int) *int { return &i }

func float64Ptr(f float64) *float64 { return &f }
