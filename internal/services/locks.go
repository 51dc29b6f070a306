package services

import (
	"context"
	"sync"
)

// moduleLocks serializes structural writes per module while leaving
// different modules independent. The gate sits above every module lock:
// module writers share it, and registry-wide writes that touch steps of any
// module (asset deletion) hold it exclusively.
type moduleLocks struct {
	gate  sync.RWMutex
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newModuleLocks() *moduleLocks {
	return &moduleLocks{locks: map[string]*lockEntry{}}
}

// lock blocks until the module's lock is held and returns its release func.
// It must not be called while the same goroutine holds another module lock.
func (l *moduleLocks) lock(moduleID string) func() {
	l.gate.RLock()
	l.mu.Lock()
	e, ok := l.locks[moduleID]
	if !ok {
		e = &lockEntry{}
		l.locks[moduleID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, moduleID)
		}
		l.mu.Unlock()
		l.gate.RUnlock()
	}
}

// shared holds the gate for writers that create a module and so have no
// module lock to take yet.
func (l *moduleLocks) shared() func() {
	l.gate.RLock()
	return l.gate.RUnlock
}

// exclusive waits for every module writer to finish and keeps new ones out
// until released.
func (l *moduleLocks) exclusive() func() {
	l.gate.Lock()
	return l.gate.Unlock
}

// lockTaskModule resolves the module owning a task and takes its lock.
// Callers must re-read the records inside their transaction.
func (c *core) lockTaskModule(ctx context.Context, taskID string) (func(), error) {
	t, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, NewNotFoundError("task not found")
	}
	return c.locks.lock(t.ModuleID), nil
}

func (c *core) lockStepModule(ctx context.Context, stepID string) (func(), error) {
	st, err := c.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("step not found")
	}
	return c.locks.lock(st.ModuleID), nil
}
