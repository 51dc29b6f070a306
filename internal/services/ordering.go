package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var autoTitleRe = regexp.MustCompile(`(?i)^\s*Step\s+(\d+)\.(\d+)\s*$`)

func autoStepTitle(taskOrder, stepOrder int) string {
	return fmt.Sprintf("Step %d.%d", taskOrder, stepOrder)
}

// isAutoTitleFor reports whether title is the generated title for the given position.
func isAutoTitleFor(title string, taskOrder, stepOrder int) bool {
	m := autoTitleRe.FindStringSubmatch(title)
	if m == nil {
		return false
	}
	t, _ := strconv.Atoi(m[1])
	s, _ := strconv.Atoi(m[2])
	return t == taskOrder && s == stepOrder
}

func minStepOrder(steps []*Step) int {
	if len(steps) == 0 {
		return 1
	}
	lo := steps[0].OrderIndex
	for _, st := range steps[1:] {
		if st.OrderIndex < lo {
			lo = st.OrderIndex
		}
	}
	return lo
}

func maxStepOrder(steps []*Step) int {
	hi := 0
	for _, st := range steps {
		if st.OrderIndex > hi {
			hi = st.OrderIndex
		}
	}
	return hi
}

// renumberSteps assigns start, start+1, ... to steps in slice order, moving
// generated titles along. With twoPhase every moved step is first parked on a
// negative index so that swaps never collide on (task_id, order_index).
func renumberSteps(ctx context.Context, tx Tx, steps []*Step, start, oldTaskOrder, newTaskOrder int, now time.Time, twoPhase bool) error {
	type move struct {
		st    *Step
		index int
		title string
	}
	var moves []move
	for i, st := range steps {
		index := start + i
		title := st.Title
		if isAutoTitleFor(st.Title, oldTaskOrder, st.OrderIndex) {
			title = autoStepTitle(newTaskOrder, index)
		}
		if index == st.OrderIndex && title == st.Title {
			continue
		}
		moves = append(moves, move{st: st, index: index, title: title})
	}
	if twoPhase {
		for i, mv := range moves {
			mv.st.OrderIndex = -(i + 1)
			if err := tx.UpdateStep(ctx, mv.st); err != nil {
				return err
			}
		}
	}
	for _, mv := range moves {
		mv.st.OrderIndex = mv.index
		mv.st.Title = mv.title
		mv.st.UpdatedAt = now
		if err := tx.UpdateStep(ctx, mv.st); err != nil {
			return err
		}
	}
	return nil
}

// renumberTasks assigns 1..n to tasks in slice order and retitles generated
// step titles of every task whose position changed.
func renumberTasks(ctx context.Context, tx Tx, tasks []*Task, now time.Time, twoPhase bool) error {
	type move struct {
		task     *Task
		oldIndex int
		index    int
	}
	var moves []move
	for i, t := range tasks {
		if t.OrderIndex == i+1 {
			continue
		}
		moves = append(moves, move{task: t, oldIndex: t.OrderIndex, index: i + 1})
	}
	if twoPhase {
		for i, mv := range moves {
			mv.task.OrderIndex = -(i + 1)
			if err := tx.UpdateTask(ctx, mv.task); err != nil {
				return err
			}
		}
	}
	for _, mv := range moves {
		mv.task.OrderIndex = mv.index
		mv.task.UpdatedAt = now
		if err := tx.UpdateTask(ctx, mv.task); err != nil {
			return err
		}
		steps, err := tx.ListSteps(ctx, mv.task.ID)
		if err != nil {
			return err
		}
		for _, st := range steps {
			if !isAutoTitleFor(st.Title, mv.oldIndex, st.OrderIndex) {
				continue
			}
			st.Title = autoStepTitle(mv.index, st.OrderIndex)
			st.UpdatedAt = now
			if err := tx.UpdateStep(ctx, st); err != nil {
				return err
			}
		}
	}
	return nil
}

// sameIDSet reports whether ids is a permutation of the ids of have.
func sameIDSet(ids []string, have []string) bool {
	if len(ids) != len(have) {
		return false
	}
	seen := make(map[string]int, len(have))
	for _, id := range have {
		seen[id]++
	}
	for _, id := range ids {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}
