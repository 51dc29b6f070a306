package services

import (
	"fmt"
	"strings"
)

// Target is where navigation goes after a step: another step or Finish.
type Target struct {
	StepID string `json:"step_id,omitempty"`
	Finish bool   `json:"finish"`
}

// Finish is the terminal target after the last step of the last task.
var Finish = Target{Finish: true}

func (t Target) String() string {
	if t.Finish {
		return "finish"
	}
	return t.StepID
}

// Graph is the step navigation graph of one snapshot. Every step has a
// fallthrough edge to the next step in flattened order; question steps add
// one edge per choice target.
type Graph struct {
	order []string
	steps map[string]*SnapshotStep
	next  map[string]Target
}

func BuildGraph(doc *SnapshotDocument) *Graph {
	g := &Graph{
		order: make([]string, 0, len(doc.Steps)),
		steps: make(map[string]*SnapshotStep, len(doc.Steps)),
		next:  make(map[string]Target, len(doc.Steps)),
	}
	for i := range doc.Steps {
		st := &doc.Steps[i]
		g.order = append(g.order, st.ID)
		g.steps[st.ID] = st
	}
	for i, id := range g.order {
		if i+1 < len(g.order) {
			g.next[id] = Target{StepID: g.order[i+1]}
		} else {
			g.next[id] = Finish
		}
	}
	return g
}

func (g *Graph) Len() int { return len(g.order) }

// First is the entry step, or Finish for an empty snapshot.
func (g *Graph) First() Target {
	if len(g.order) == 0 {
		return Finish
	}
	return Target{StepID: g.order[0]}
}

func (g *Graph) Step(id string) (*SnapshotStep, bool) {
	st, ok := g.steps[id]
	return st, ok
}

// Next is the fallthrough target of stepID.
func (g *Graph) Next(stepID string) (Target, error) {
	t, ok := g.next[stepID]
	if !ok {
		return Target{}, NewNotFoundError(fmt.Sprintf("step %s is not part of this snapshot", stepID))
	}
	return t, nil
}

// Resolve returns where navigation goes from stepID when the learner picks
// choiceLabel. Non-question steps, question steps without choices, and choices
// without a resolvable target fall through to Next.
func (g *Graph) Resolve(stepID, choiceLabel string) (Target, error) {
	st, ok := g.steps[stepID]
	if !ok {
		return Target{}, NewNotFoundError(fmt.Sprintf("step %s is not part of this snapshot", stepID))
	}
	next := g.next[stepID]
	if st.InstructionType != InstructionQuestion || len(st.Choices) == 0 {
		return next, nil
	}
	if strings.TrimSpace(choiceLabel) == "" {
		return Target{}, NewFieldError("step", stepID, "choice", "a choice label is required for a question step")
	}
	c, ok := findChoice(st.Choices, choiceLabel)
	if !ok {
		return Target{}, NewNotFoundError(fmt.Sprintf("step %s has no choice %q", stepID, choiceLabel))
	}
	return g.choiceTarget(c, next), nil
}

func (g *Graph) choiceTarget(c SnapshotChoice, next Target) Target {
	if c.GoToStep == nil {
		return next
	}
	if _, ok := g.steps[*c.GoToStep]; !ok {
		return next
	}
	return Target{StepID: *c.GoToStep}
}

// Edges returns the distinct targets of stepID's outgoing edges: its choice
// targets plus the implicit edge to the next step, which every step has.
func (g *Graph) Edges(stepID string) []Target {
	if _, ok := g.steps[stepID]; !ok {
		return nil
	}
	return dedupTargets(append(g.moves(stepID), g.next[stepID]))
}

// moves returns the targets Resolve can produce from stepID. A question step
// with choices only leaves through them, so its implicit edge is not a move
// unless some choice falls through.
func (g *Graph) moves(stepID string) []Target {
	st := g.steps[stepID]
	next := g.next[stepID]
	if st.InstructionType != InstructionQuestion || len(st.Choices) == 0 {
		return []Target{next}
	}
	out := make([]Target, 0, len(st.Choices))
	for _, c := range st.Choices {
		out = append(out, g.choiceTarget(c, next))
	}
	return dedupTargets(out)
}

func dedupTargets(in []Target) []Target {
	var out []Target
	seen := map[Target]bool{}
	for _, t := range in {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// findChoice matches exactly first, then ignoring case and surrounding space.
func findChoice(choices []SnapshotChoice, label string) (SnapshotChoice, bool) {
	for _, c := range choices {
		if c.Label == label {
			return c, true
		}
	}
	for _, c := range choices {
		if strings.EqualFold(strings.TrimSpace(c.Label), strings.TrimSpace(label)) {
			return c, true
		}
	}
	return SnapshotChoice{}, false
}

// ValidateReachability reports dangling choice targets, question steps without
// choices, and steps that no sequence of moves from the first step reaches.
func ValidateReachability(doc *SnapshotDocument) []Warning {
	g := BuildGraph(doc)
	var warnings []Warning
	for _, id := range g.order {
		st := g.steps[id]
		if st.InstructionType == InstructionQuestion && len(st.Choices) == 0 {
			warnings = append(warnings, Warning{
				Code:    WarningQuestionWithoutChoices,
				StepID:  id,
				Message: fmt.Sprintf("question step %q has no choices and falls through", st.Title),
			})
		}
		for i, c := range st.Choices {
			if c.GoToStep == nil {
				continue
			}
			if _, ok := g.steps[*c.GoToStep]; !ok {
				warnings = append(warnings, Warning{
					Code:        WarningReferenceDangling,
					StepID:      id,
					ChoiceIndex: &i,
					Message:     fmt.Sprintf("choice %q targets missing step %s", c.Label, *c.GoToStep),
				})
			}
		}
	}

	if len(g.order) == 0 {
		return warnings
	}
	reached := map[string]bool{}
	queue := []string{g.order[0]}
	reached[g.order[0]] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, t := range g.moves(id) {
			if t.Finish || reached[t.StepID] {
				continue
			}
			reached[t.StepID] = true
			queue = append(queue, t.StepID)
		}
	}
	for _, id := range g.order {
		if !reached[id] {
			warnings = append(warnings, Warning{
				Code:    WarningUnreachableStep,
				StepID:  id,
				Message: fmt.Sprintf("step %q cannot be reached from the first step", g.steps[id].Title),
			})
		}
	}
	return warnings
}
