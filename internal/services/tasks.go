package services

import (
	"context"
	"strings"

	"github.com/soaringjerry/Praxis/internal/logger"
)

type TaskService struct {
	core *core
	log  *logger.Logger
}

type TaskInput struct {
	ModuleID    string `json:"module_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// OrderIndex inserts the task at that 1-based position; nil appends.
	OrderIndex *int `json:"order_index"`
}

type TaskPatch struct {
	Title       Optional[string] `json:"title"`
	Description Optional[string] `json:"description"`
}

func (s *TaskService) Create(ctx context.Context, in TaskInput) (*Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, NewFieldError("task", "", "title", "title is required")
	}
	unlock := s.core.locks.lock(in.ModuleID)
	defer unlock()

	var created *Task
	err := s.core.store.Atomic(ctx, func(tx Tx) error {
		m, err := tx.GetModule(ctx, in.ModuleID)
		if err != nil {
			return err
		}
		if m == nil {
			return NewNotFoundError("module not found")
		}
		tasks, err := tx.ListTasks(ctx, in.ModuleID)
		if err != nil {
			return err
		}
		pos := len(tasks) + 1
		if in.OrderIndex != nil {
			if *in.OrderIndex < 1 || *in.OrderIndex > len(tasks)+1 {
				return NewFieldError("task", "", "order_index", "must be between 1 and the task count + 1")
			}
			pos = *in.OrderIndex
		}
		now := s.core.now()
		created = &Task{
			ID:          newID(),
			ModuleID:    in.ModuleID,
			OrderIndex:  pos,
			Title:       title,
			Description: in.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if pos == len(tasks)+1 {
			return tx.InsertTask(ctx, created)
		}
		// park on 0 and let the renumbering shift the tail
		created.OrderIndex = 0
		if err := tx.InsertTask(ctx, created); err != nil {
			return err
		}
		ordered := make([]*Task, 0, len(tasks)+1)
		ordered = append(ordered, tasks[:pos-1]...)
		ordered = append(ordered, created)
		ordered = append(ordered, tasks[pos-1:]...)
		return renumberTasks(ctx, tx, ordered, now, true)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("task created", "task_id", created.ID, "module_id", in.ModuleID, "order_index", created.OrderIndex)
	return created, nil
}

func (s *TaskService) Get(ctx context.Context, id string) (*Task, error) {
	t, err := s.core.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, NewNotFoundError("task not found")
	}
	return t, nil
}

func (s *TaskService) List(ctx context.Context, moduleID string) ([]*Task, error) {
	m, err := s.core.store.GetModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, NewNotFoundError("module not found")
	}
	return s.core.store.ListTasks(ctx, moduleID)
}

func (s *TaskService) Update(ctx context.Context, id string, p TaskPatch) (*Task, error) {
	var updated *Task
	err := s.core.store.Atomic(ctx, func(tx Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return NewNotFoundError("task not found")
		}
		p.Title.apply(&t.Title)
		t.Title = strings.TrimSpace(t.Title)
		if t.Title == "" {
			return NewFieldError("task", id, "title", "title is required")
		}
		p.Description.apply(&t.Description)
		t.UpdatedAt = s.core.now()
		if err := tx.UpdateTask(ctx, t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the task and its steps, then renumbers the remaining tasks.
// Choices elsewhere in the module that targeted a removed step fall through.
func (s *TaskService) Delete(ctx context.Context, id string, confirm bool) ([]Warning, error) {
	if !confirm {
		return nil, NewFieldError("task", id, "confirm", "deleting a task and its steps requires confirmation")
	}
	unlock, err := s.core.lockTaskModule(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var warnings []Warning
	err = s.core.store.Atomic(ctx, func(tx Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return NewNotFoundError("task not found")
		}
		steps, err := tx.ListSteps(ctx, id)
		if err != nil {
			return err
		}
		removed := make(map[string]bool, len(steps))
		for _, st := range steps {
			removed[st.ID] = true
		}
		if err := tx.DeleteTask(ctx, id); err != nil {
			return err
		}
		tasks, err := tx.ListTasks(ctx, t.ModuleID)
		if err != nil {
			return err
		}
		now := s.core.now()
		if err := renumberTasks(ctx, tx, tasks, now, false); err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		warnings, err = clearChoiceTargets(ctx, tx, t.ModuleID, removed, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("task deleted", "task_id", id, "cleared_choices", len(warnings))
	return warnings, nil
}

// Reorder rewrites the module's task order to ids, which must name every task
// of the module exactly once.
func (s *TaskService) Reorder(ctx context.Context, moduleID string, ids []string) ([]*Task, error) {
	unlock := s.core.locks.lock(moduleID)
	defer unlock()

	var out []*Task
	err := s.core.store.Atomic(ctx, func(tx Tx) error {
		m, err := tx.GetModule(ctx, moduleID)
		if err != nil {
			return err
		}
		if m == nil {
			return NewNotFoundError("module not found")
		}
		tasks, err := tx.ListTasks(ctx, moduleID)
		if err != nil {
			return err
		}
		have := make([]string, len(tasks))
		byID := make(map[string]*Task, len(tasks))
		for i, t := range tasks {
			have[i] = t.ID
			byID[t.ID] = t
		}
		if !sameIDSet(ids, have) {
			return NewFieldError("module", moduleID, "task_ids", "must list every task of the module exactly once")
		}
		ordered := make([]*Task, len(ids))
		for i, id := range ids {
			ordered[i] = byID[id]
		}
		if err := renumberTasks(ctx, tx, ordered, s.core.now(), true); err != nil {
			return err
		}
		out = ordered
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Neighbor returns the step delta positions away from the step at
// (taskID, orderIndex) in flattened module order, crossing task boundaries.
func (s *TaskService) Neighbor(ctx context.Context, taskID string, orderIndex, delta int) (*Step, error) {
	task, err := s.core.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, NewNotFoundError("task not found")
	}
	doc, err := loadDocument(ctx, s.core.store, task.ModuleID)
	if err != nil {
		return nil, err
	}
	flat := doc.FlatSteps()
	cur := -1
	for i, st := range flat {
		if st.TaskID == taskID && st.OrderIndex == orderIndex {
			cur = i
			break
		}
	}
	if cur < 0 {
		return nil, NewNotFoundError("step not found")
	}
	next := cur + delta
	if next < 0 || next >= len(flat) {
		return nil, NewNotFoundError("no neighboring step")
	}
	return flat[next], nil
}
