package services

import (
	"sort"
	"sync"
)

type EventKind string

const (
	EventModulePublished EventKind = "module.published"
	EventModuleDeleted   EventKind = "module.deleted"
	EventAssetDeleted    EventKind = "asset.deleted"
	EventSnapshotsPruned EventKind = "snapshots.pruned"
)

type Event struct {
	Kind     EventKind
	ModuleID string
	AssetID  string
	Version  int
	// Cleared lists step and module ids whose references were cleared.
	Cleared []string
}

// Notifier is an observer registry. Handlers run synchronously after the
// change that produced the event has committed.
type Notifier struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(Event)
}

func NewNotifier() *Notifier {
	return &Notifier{handlers: map[int]func(Event){}}
}

// Subscribe registers fn and returns the func that removes it. Calling the
// returned func more than once is harmless.
func (n *Notifier) Subscribe(fn func(Event)) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.handlers[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.handlers, id)
			n.mu.Unlock()
		})
	}
}

func (n *Notifier) Emit(e Event) {
	if n == nil {
		return
	}
	n.mu.RLock()
	ids := make([]int, 0, len(n.handlers))
	for id := range n.handlers {
		ids = append(ids, id)
	}
	fns := make([]func(Event), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, n.handlers[id])
	}
	n.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.handlers)
}
