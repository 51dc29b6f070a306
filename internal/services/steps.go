package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soaringjerry/Praxis/internal/logger"
)

type StepService struct {
	core *core
	log  *logger.Logger
}

// StepPatch is a merge patch: only fields that are Set are applied. Models
// and Choices replace the stored lists wholesale.
type StepPatch struct {
	Title           Optional[string]           `json:"title"`
	Description     Optional[string]           `json:"description"`
	InstructionType Optional[InstructionType]  `json:"instruction_type"`
	Media           Optional[*Media]           `json:"media"`
	Models          Optional[[]ModelPlacement] `json:"models"`
	Interaction     *InteractionPatch          `json:"interaction"`
	Completion      *CompletionPatch           `json:"completion"`
	Choices         Optional[[]Choice]         `json:"choices"`
}

type InteractionPatch struct {
	RequiredAction  Optional[string] `json:"required_action"`
	InputMethod     Optional[string] `json:"input_method"`
	Target          Optional[string] `json:"target"`
	Hand            Optional[Hand]   `json:"hand"`
	AttemptsAllowed Optional[int]    `json:"attempts_allowed"`
}

type CompletionPatch struct {
	Type  Optional[CompletionType] `json:"type"`
	Value Optional[string]         `json:"value"`
}

func (p StepPatch) apply(st *Step) {
	p.Title.apply(&st.Title)
	st.Title = strings.TrimSpace(st.Title)
	p.Description.apply(&st.Description)
	p.InstructionType.apply(&st.InstructionType)
	if p.Media.Set {
		if p.Media.Value == nil {
			st.Media = nil
		} else {
			m := *p.Media.Value
			st.Media = &m
		}
	}
	if p.Models.Set {
		st.Models = append([]ModelPlacement{}, p.Models.Value...)
	}
	if ip := p.Interaction; ip != nil {
		ip.RequiredAction.apply(&st.Interaction.RequiredAction)
		ip.InputMethod.apply(&st.Interaction.InputMethod)
		ip.Target.apply(&st.Interaction.Target)
		ip.Hand.apply(&st.Interaction.Hand)
		ip.AttemptsAllowed.apply(&st.Interaction.AttemptsAllowed)
	}
	if cp := p.Completion; cp != nil {
		cp.Type.apply(&st.Completion.Type)
		cp.Value.apply(&st.Completion.Value)
	}
	if p.Choices.Set {
		st.Choices = normalizeChoices(p.Choices.Value)
	}
}

// Create appends a step to the task. An empty title yields the generated
// "Step {task}.{step}" title.
func (s *StepService) Create(ctx context.Context, taskID, title string) (*Step, error) {
	unlock, err := s.core.lockTaskModule(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var created *Step
	err = s.core.store.Atomic(ctx, func(tx Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return NewNotFoundError("task not found")
		}
		siblings, err := tx.ListSteps(ctx, taskID)
		if err != nil {
			return err
		}
		order := maxStepOrder(siblings) + 1
		title = strings.TrimSpace(title)
		if title == "" {
			title = autoStepTitle(task.OrderIndex, order)
		}
		now := s.core.now()
		created = &Step{
			ID:              newID(),
			ModuleID:        task.ModuleID,
			TaskID:          task.ID,
			OrderIndex:      order,
			Title:           title,
			InstructionType: InstructionInfo,
			Models:          []ModelPlacement{},
			Choices:         []Choice{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return tx.InsertStep(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("step created", "step_id", created.ID, "task_id", taskID, "order_index", created.OrderIndex)
	return created, nil
}

func (s *StepService) Get(ctx context.Context, id string) (*Step, error) {
	st, err := s.core.store.GetStep(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("step not found")
	}
	return st, nil
}

func (s *StepService) ListByTask(ctx context.Context, taskID string) ([]*Step, error) {
	task, err := s.core.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, NewNotFoundError("task not found")
	}
	return s.core.store.ListSteps(ctx, taskID)
}

// Patch merges p into the stored step and validates the result as a whole.
func (s *StepService) Patch(ctx context.Context, id string, p StepPatch) (*Step, error) {
	unlock, err := s.core.lockStepModule(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var updated *Step
	err = s.core.store.Atomic(ctx, func(tx Tx) error {
		st, err := tx.GetStep(ctx, id)
		if err != nil {
			return err
		}
		if st == nil {
			return NewNotFoundError("step not found")
		}
		p.apply(st)
		if err := validateStep(ctx, tx, st); err != nil {
			return err
		}
		st.UpdatedAt = s.core.now()
		if err := tx.UpdateStep(ctx, st); err != nil {
			return err
		}
		updated = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	if updated.InstructionType == InstructionQuestion && len(updated.Choices) == 0 {
		s.log.Debug("question step has no choices yet", "step_id", id)
	}
	return updated, nil
}

// Delete removes the step, renumbers its siblings densely from the original
// minimum and clears branch choices elsewhere in the module that targeted it.
func (s *StepService) Delete(ctx context.Context, id string) ([]Warning, error) {
	unlock, err := s.core.lockStepModule(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var warnings []Warning
	err = s.core.store.Atomic(ctx, func(tx Tx) error {
		st, err := tx.GetStep(ctx, id)
		if err != nil {
			return err
		}
		if st == nil {
			return NewNotFoundError("step not found")
		}
		task, err := tx.GetTask(ctx, st.TaskID)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("step %s: task %s missing", st.ID, st.TaskID)
		}
		siblings, err := tx.ListSteps(ctx, st.TaskID)
		if err != nil {
			return err
		}
		start := minStepOrder(siblings)
		if err := tx.DeleteStep(ctx, id); err != nil {
			return err
		}
		remaining := make([]*Step, 0, len(siblings))
		for _, sib := range siblings {
			if sib.ID != id {
				remaining = append(remaining, sib)
			}
		}
		now := s.core.now()
		if err := renumberSteps(ctx, tx, remaining, start, task.OrderIndex, task.OrderIndex, now, false); err != nil {
			return err
		}
		warnings, err = clearChoiceTargets(ctx, tx, st.ModuleID, map[string]bool{id: true}, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("step deleted", "step_id", id, "cleared_choices", len(warnings))
	return warnings, nil
}

// Reorder rewrites the task's step order to ids, which must name every step
// of the task exactly once.
func (s *StepService) Reorder(ctx context.Context, taskID string, ids []string) ([]*Step, error) {
	unlock, err := s.core.lockTaskModule(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []*Step
	err = s.core.store.Atomic(ctx, func(tx Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return NewNotFoundError("task not found")
		}
		steps, err := tx.ListSteps(ctx, taskID)
		if err != nil {
			return err
		}
		have := make([]string, len(steps))
		byID := make(map[string]*Step, len(steps))
		for i, st := range steps {
			have[i] = st.ID
			byID[st.ID] = st
		}
		if !sameIDSet(ids, have) {
			return NewFieldError("task", taskID, "step_ids", "must list every step of the task exactly once")
		}
		ordered := make([]*Step, len(ids))
		for i, id := range ids {
			ordered[i] = byID[id]
		}
		if err := renumberSteps(ctx, tx, ordered, 1, task.OrderIndex, task.OrderIndex, s.core.now(), true); err != nil {
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

// clearChoiceTargets nulls every choice in the module that points at one of
// the removed steps.
func clearChoiceTargets(ctx context.Context, tx Tx, moduleID string, removed map[string]bool, now time.Time) ([]Warning, error) {
	steps, err := tx.ListModuleSteps(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	var warnings []Warning
	for _, st := range steps {
		changed := false
		for i := range st.Choices {
			if t := st.Choices[i].GoToStep; t != nil && removed[*t] {
				st.Choices[i].GoToStep = nil
				changed = true
				warnings = append(warnings, Warning{
					Code:        WarningReferenceCleared,
					StepID:      st.ID,
					ChoiceIndex: &i,
					Message:     fmt.Sprintf("choice %q now falls through to the next step", st.Choices[i].Label),
				})
			}
		}
		if !changed {
			continue
		}
		st.UpdatedAt = now
		if err := tx.UpdateStep(ctx, st); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}
