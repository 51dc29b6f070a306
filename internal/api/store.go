package api

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/soaringjerry/Praxis/internal/services"
)

// MemoryStore is an in-process services.Store. Readers load the committed
// state without locking; Atomic serializes writers, runs fn against a private
// copy of the state and swaps it in only when fn succeeds.
type MemoryStore struct {
	memView
	mu    sync.Mutex
	state atomic.Pointer[memState]
}

var _ services.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.state.Store(newMemState())
	s.memView = memView{load: s.state.Load}
	return s
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx services.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.Load().clone()
	tx := &memTx{memView: memView{load: func() *memState { return next }}, st: next}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state.Store(next)
	return nil
}

type memState struct {
	modules   map[string]*services.Module
	tasks     map[string]*services.Task
	steps     map[string]*services.Step
	assets    map[string]*services.Asset
	assetSeq  map[string]int
	nextSeq   int
	snapshots map[string][]*services.PublishedSnapshot
}

func newMemState() *memState {
	return &memState{
		modules:   map[string]*services.Module{},
		tasks:     map[string]*services.Task{},
		steps:     map[string]*services.Step{},
		assets:    map[string]*services.Asset{},
		assetSeq:  map[string]int{},
		snapshots: map[string][]*services.PublishedSnapshot{},
	}
}

// clone copies the indexes. Records are never mutated in place, so the
// pointers can be shared between states.
func (st *memState) clone() *memState {
	out := &memState{
		modules:   make(map[string]*services.Module, len(st.modules)),
		tasks:     make(map[string]*services.Task, len(st.tasks)),
		steps:     make(map[string]*services.Step, len(st.steps)),
		assets:    make(map[string]*services.Asset, len(st.assets)),
		assetSeq:  make(map[string]int, len(st.assetSeq)),
		nextSeq:   st.nextSeq,
		snapshots: make(map[string][]*services.PublishedSnapshot, len(st.snapshots)),
	}
	for k, v := range st.modules {
		out.modules[k] = v
	}
	for k, v := range st.tasks {
		out.tasks[k] = v
	}
	for k, v := range st.steps {
		out.steps[k] = v
	}
	for k, v := range st.assets {
		out.assets[k] = v
	}
	for k, v := range st.assetSeq {
		out.assetSeq[k] = v
	}
	for k, v := range st.snapshots {
		out.snapshots[k] = append([]*services.PublishedSnapshot(nil), v...)
	}
	return out
}

type memTx struct {
	memView
	st *memState
}

func (tx *memTx) InsertModule(_ context.Context, m *services.Module) error {
	if err := tx.checkModuleUnique(m); err != nil {
		return err
	}
	tx.st.modules[m.ID] = services.CloneModule(m)
	return nil
}

func (tx *memTx) UpdateModule(_ context.Context, m *services.Module) error {
	if _, ok := tx.st.modules[m.ID]; !ok {
		return errNotStored("module", m.ID)
	}
	if err := tx.checkModuleUnique(m); err != nil {
		return err
	}
	tx.st.modules[m.ID] = services.CloneModule(m)
	return nil
}

func (tx *memTx) checkModuleUnique(m *services.Module) error {
	key := services.TitleKey(m.Title)
	for id, other := range tx.st.modules {
		if id == m.ID {
			continue
		}
		if services.TitleKey(other.Title) == key {
			return &services.ConstraintError{Constraint: services.ConstraintModuleTitle}
		}
		if m.Code != "" && other.Code == m.Code {
			return &services.ConstraintError{Constraint: services.ConstraintModuleCode}
		}
	}
	return nil
}

func (tx *memTx) DeleteModule(_ context.Context, id string) error {
	delete(tx.st.modules, id)
	for tid, t := range tx.st.tasks {
		if t.ModuleID == id {
			delete(tx.st.tasks, tid)
		}
	}
	for sid, s := range tx.st.steps {
		if s.ModuleID == id {
			delete(tx.st.steps, sid)
		}
	}
	delete(tx.st.snapshots, id)
	return nil
}

func (tx *memTx) InsertTask(_ context.Context, t *services.Task) error {
	if err := tx.checkTaskOrder(t); err != nil {
		return err
	}
	tx.st.tasks[t.ID] = services.CloneTask(t)
	return nil
}

func (tx *memTx) UpdateTask(_ context.Context, t *services.Task) error {
	if _, ok := tx.st.tasks[t.ID]; !ok {
		return errNotStored("task", t.ID)
	}
	if err := tx.checkTaskOrder(t); err != nil {
		return err
	}
	tx.st.tasks[t.ID] = services.CloneTask(t)
	return nil
}

// checkTaskOrder mirrors the (module_id, order_index) unique index of the SQL stores.
func (tx *memTx) checkTaskOrder(t *services.Task) error {
	for id, other := range tx.st.tasks {
		if id != t.ID && other.ModuleID == t.ModuleID && other.OrderIndex == t.OrderIndex {
			return errOrderTaken("task", t.ModuleID, t.OrderIndex)
		}
	}
	return nil
}

func (tx *memTx) DeleteTask(_ context.Context, id string) error {
	delete(tx.st.tasks, id)
	for sid, s := range tx.st.steps {
		if s.TaskID == id {
			delete(tx.st.steps, sid)
		}
	}
	return nil
}

func (tx *memTx) InsertStep(_ context.Context, s *services.Step) error {
	if err := tx.checkStepOrder(s); err != nil {
		return err
	}
	tx.st.steps[s.ID] = services.CloneStep(s)
	return nil
}

func (tx *memTx) UpdateStep(_ context.Context, s *services.Step) error {
	if _, ok := tx.st.steps[s.ID]; !ok {
		return errNotStored("step", s.ID)
	}
	if err := tx.checkStepOrder(s); err != nil {
		return err
	}
	tx.st.steps[s.ID] = services.CloneStep(s)
	return nil
}

func (tx *memTx) checkStepOrder(s *services.Step) error {
	for id, other := range tx.st.steps {
		if id != s.ID && other.TaskID == s.TaskID && other.OrderIndex == s.OrderIndex {
			return errOrderTaken("step", s.TaskID, s.OrderIndex)
		}
	}
	return nil
}

func (tx *memTx) DeleteStep(_ context.Context, id string) error {
	delete(tx.st.steps, id)
	return nil
}

func (tx *memTx) InsertAsset(_ context.Context, a *services.Asset) error {
	tx.st.assets[a.ID] = services.CloneAsset(a)
	tx.st.nextSeq++
	tx.st.assetSeq[a.ID] = tx.st.nextSeq
	return nil
}

func (tx *memTx) DeleteAsset(_ context.Context, id string) error {
	delete(tx.st.assets, id)
	delete(tx.st.assetSeq, id)
	return nil
}

func (tx *memTx) InsertSnapshot(_ context.Context, p *services.PublishedSnapshot) error {
	list := tx.st.snapshots[p.ModuleID]
	for _, existing := range list {
		if existing.Version == p.Version {
			return &services.ConstraintError{Constraint: services.ConstraintSnapshotVersion}
		}
	}
	list = append(list, services.CloneSnapshot(p))
	sortSnapshots(list)
	tx.st.snapshots[p.ModuleID] = list
	return nil
}

func (tx *memTx) DeleteSnapshot(_ context.Context, moduleID string, version int) error {
	list := tx.st.snapshots[moduleID]
	out := list[:0:0]
	for _, p := range list {
		if p.Version != version {
			out = append(out, p)
		}
	}
	tx.st.snapshots[moduleID] = out
	return nil
}
