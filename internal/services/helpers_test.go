package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soaringjerry/Praxis/internal/api"
	"github.com/soaringjerry/Praxis/internal/services"
)

func newServices(t *testing.T, opts services.Options) (*services.Services, *api.MemoryStore) {
	t.Helper()
	store := api.NewMemoryStore()
	svc := services.New(store, opts)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	svc.SetClock(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	})
	t.Cleanup(svc.Close)
	return svc, store
}

func mustModule(t *testing.T, svc *services.Services, title string) *services.Module {
	t.Helper()
	m, err := svc.Modules.Create(context.Background(), services.ModuleInput{Title: title})
	if err != nil {
		t.Fatalf("create module %q: %v", title, err)
	}
	return m
}

func mustTask(t *testing.T, svc *services.Services, moduleID, title string) *services.Task {
	t.Helper()
	task, err := svc.Tasks.Create(context.Background(), services.TaskInput{ModuleID: moduleID, Title: title})
	if err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return task
}

func mustStep(t *testing.T, svc *services.Services, taskID, title string) *services.Step {
	t.Helper()
	st, err := svc.Steps.Create(context.Background(), taskID, title)
	if err != nil {
		t.Fatalf("create step %q: %v", title, err)
	}
	return st
}

func orderIndexes(t *testing.T, svc *services.Services, taskID string) []int {
	t.Helper()
	steps, err := svc.Steps.ListByTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	out := make([]int, len(steps))
	for i, st := range steps {
		out[i] = st.OrderIndex
	}
	return out
}

func stepTitles(t *testing.T, svc *services.Services, taskID string) []string {
	t.Helper()
	steps, err := svc.Steps.ListByTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	out := make([]string, len(steps))
	for i, st := range steps {
		out[i] = st.Title
	}
	return out
}

func ptr[T any](v T) *T { return &v }

var errInjected = errors.New("injected write failure")

// failingStore lets a fixed number of step/task updates through and then fails
// every further update inside the same transaction.
type failingStore struct {
	*api.MemoryStore
	allow int
}

func (f *failingStore) Atomic(ctx context.Context, fn func(tx services.Tx) error) error {
	left := f.allow
	return f.MemoryStore.Atomic(ctx, func(tx services.Tx) error {
		return fn(&failingTx{Tx: tx, left: &left})
	})
}

type failingTx struct {
	services.Tx
	left *int
}

func (t *failingTx) take(what string) error {
	if *t.left <= 0 {
		return fmt.Errorf("%s: %w", what, errInjected)
	}
	*t.left--
	return nil
}

func (t *failingTx) UpdateStep(ctx context.Context, st *services.Step) error {
	if err := t.take("update step"); err != nil {
		return err
	}
	return t.Tx.UpdateStep(ctx, st)
}

func (t *failingTx) UpdateTask(ctx context.Context, task *services.Task) error {
	if err := t.take("update task"); err != nil {
		return err
	}
	return t.Tx.UpdateTask(ctx, task)
}
