package runtime

import (
	"fmt"
	"sync"

	"github.com/soaringjerry/Praxis/internal/services"
)

// Session walks one learner through a snapshot. It is safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	doc     *services.SnapshotDocument
	graph   *services.Graph
	current services.Target
	history []string
}

func NewSession(doc *services.SnapshotDocument) (*Session, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	g := services.BuildGraph(doc)
	return &Session{doc: doc, graph: g, current: g.First()}, nil
}

// NewSessionFromBundle starts a session on a loaded bundle.
func NewSessionFromBundle(b *Bundle) (*Session, error) {
	if b == nil {
		return nil, fmt.Errorf("nil bundle")
	}
	return &Session{doc: b.Document, graph: b.Graph, current: b.Graph.First()}, nil
}

// Current is the step being shown, or nil once the session is finished.
func (s *Session) Current() *services.SnapshotStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Finish {
		return nil
	}
	st, _ := s.graph.Step(s.current.StepID)
	return st
}

// Advance completes the current step. choiceLabel selects the branch on a
// question step and is ignored elsewhere.
func (s *Session) Advance(choiceLabel string) (services.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Finish {
		return services.Finish, services.NewInvalidError("the session is already finished")
	}
	next, err := s.graph.Resolve(s.current.StepID, choiceLabel)
	if err != nil {
		return services.Target{}, err
	}
	s.history = append(s.history, s.current.StepID)
	s.current = next
	return next, nil
}

func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Finish
}

// History lists the completed step ids in the order they were completed.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// Progress reports completed steps against the snapshot's step count. With
// branching the learner can finish without visiting every step.
func (s *Session) Progress() (done, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history), s.graph.Len()
}
