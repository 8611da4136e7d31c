// Package lockset implements a combined inter-process/inter-thread named
// lock: a cross-process file lock (flock(2), the same approach diskcache-
// style on-disk caches use) paired with a cross-thread mutex keyed by the
// same path, so that two goroutines in one process serialize correctly
// before either of them touches the filesystem lock.
package lockset

import (
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/fingertip-dev/fingertip/internal/errs"
)

// Lock is the minimal interface the cache-aware executor depends on.
type Lock interface {
	// Acquire blocks until the lock is held or timeout elapses. A
	// non-positive timeout blocks indefinitely.
	Acquire(timeout time.Duration) error
	Release() error
}

// registry keys the in-process semaphore by lock-file path, so that every
// NamedLock for the same path within one process serializes against the
// same channel, on top of the flock that serializes across processes.
// registryMu itself is a deadlock.Mutex purely to guard the map.
var (
	registryMu deadlock.Mutex
	registry   = map[string]chan struct{}{}
)

func semaphoreFor(path string) chan struct{} {
	registryMu.Lock()
	defer registryMu.Unlock()

	sem, ok := registry[path]
	if !ok {
		sem = make(chan struct{}, 1)
		registry[path] = sem
	}
	return sem
}

// NamedLock is the named, cross-process-plus-cross-thread lock. Lock files
// reside beside cache entries as ".<tag>-lock".
type NamedLock struct {
	path  string
	sem   chan struct{}
	inner *fileLock

	heldSem bool
}

// New builds a NamedLock whose file-backed half lives at path.
func New(path string) *NamedLock {
	return &NamedLock{
		path:  path,
		sem:   semaphoreFor(path),
		inner: newFileLock(path),
	}
}

// Acquire acquires the in-process semaphore, then the cross-process file
// lock, in that order, so that release always unwinds both halves cleanly.
// A non-positive timeout blocks indefinitely.
func (l *NamedLock) Acquire(timeout time.Duration) error {
	deadline, hasDeadline := deadlineFrom(timeout)

	if !acquireSemaphore(l.sem, deadline, hasDeadline) {
		return errs.LockTimeout("acquiring in-process lock for %s", l.path)
	}
	l.heldSem = true

	remaining := remainingOrZero(deadline, hasDeadline)
	if err := l.inner.lock(remaining, hasDeadline); err != nil {
		<-l.sem
		l.heldSem = false
		return errs.LockTimeout("acquiring file lock for %s: %v", l.path, err)
	}
	return nil
}

// Release unwinds both lock halves. It is safe to call only after a
// successful Acquire.
func (l *NamedLock) Release() error {
	err := l.inner.unlock()
	if l.heldSem {
		<-l.sem
		l.heldSem = false
	}
	return err
}

func deadlineFrom(timeout time.Duration) (time.Time, bool) {
	if timeout <= 0 {
		return time.Time{}, false
	}
	return time.Now().Add(timeout), true
}

func remainingOrZero(deadline time.Time, has bool) time.Duration {
	if !has {
		return 0
	}
	return time.Until(deadline)
}

// acquireSemaphore blocks on sending into the capacity-1 channel, optionally
// bounded by deadline.
func acquireSemaphore(sem chan struct{}, deadline time.Time, hasDeadline bool) bool {
	if !hasDeadline {
		sem <- struct{}{}
		return true
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// NoLock is a no-op Lock used for transient steps that must not block
// readers.
type NoLock struct{}

// Acquire always succeeds immediately.
func (NoLock) Acquire(time.Duration) error { return nil }

// Release is a no-op.
func (NoLock) Release() error { return nil }
