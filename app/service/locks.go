package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/gofrs/flock"
)

// ErrBusy returned by Locks.Acquire with skip policy if the job is still running
var ErrBusy = errors.New("previous run still active")

// OverlapPolicy defines what happens when a job is triggered while its previous run is active
type OverlapPolicy string

// overlap policies
const (
	OverlapSkip  OverlapPolicy = "skip"  // drop the new trigger
	OverlapQueue OverlapPolicy = "queue" // wait for the previous run
	OverlapAllow OverlapPolicy = "allow" // run concurrently
)

// ParseOverlapPolicy converts string to OverlapPolicy
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch p := OverlapPolicy(s); p {
	case OverlapSkip, OverlapQueue, OverlapAllow:
		return p, nil
	}
	return "", fmt.Errorf("unknown overlap policy %q", s)
}

const lockRetryDelay = 500 * time.Millisecond

// Locks is a registry of in-flight jobs keyed by job id. With dir set, each key is also guarded by
// a file lock in dir, so two scheduler processes sharing the dir don't run the same job together.
type Locks struct {
	policy OverlapPolicy
	dir    string

	mu     sync.Mutex
	active map[string]chan struct{} // closed on release
}

// NewLocks makes Locks for the policy. Empty dir disables file locks.
func NewLocks(policy OverlapPolicy, dir string) *Locks {
	if policy == "" {
		policy = OverlapSkip
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Printf("[WARN] can't make lock dir %s, %v", dir, err)
		}
	}
	return &Locks{policy: policy, dir: dir, active: map[string]chan struct{}{}}
}

// Policy returns the overlap policy
func (l *Locks) Policy() OverlapPolicy { return l.policy }

// Acquire registers key as running. With skip policy returns ErrBusy if key is active,
// with queue policy waits for release or ctx cancellation. Release func must be called when the run is done.
func (l *Locks) Acquire(ctx context.Context, key string) (release func(), err error) {
	if l.policy == OverlapAllow {
		return func() {}, nil
	}

	done, err := l.acquireLocal(ctx, key)
	if err != nil {
		return nil, err
	}
	releaseLocal := func() {
		l.mu.Lock()
		delete(l.active, key)
		l.mu.Unlock()
		close(done)
	}

	if l.dir == "" {
		return releaseLocal, nil
	}

	fl := flock.New(filepath.Join(l.dir, key+".lock"))
	var locked bool
	if l.policy == OverlapQueue {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryLock()
	}
	if err != nil || !locked {
		releaseLocal()
		if err != nil {
			return nil, fmt.Errorf("can't lock %s: %w", fl.Path(), err)
		}
		return nil, fmt.Errorf("%w, locked by other process %s", ErrBusy, fl.Path())
	}

	return func() {
		if e := fl.Unlock(); e != nil {
			log.Printf("[WARN] can't unlock %s, %v", fl.Path(), e)
		}
		releaseLocal()
	}, nil
}

// Active returns true if key is running in this process
func (l *Locks) Active(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[key]
	return ok
}

func (l *Locks) acquireLocal(ctx context.Context, key string) (chan struct{}, error) {
	for {
		l.mu.Lock()
		prev, busy := l.active[key]
		if !busy {
			done := make(chan struct{})
			l.active[key] = done
			l.mu.Unlock()
			return done, nil
		}
		l.mu.Unlock()

		if l.policy == OverlapSkip {
			return nil, ErrBusy
		}
		select {
		case <-prev:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
