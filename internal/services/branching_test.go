package services

import (
	"encoding/json"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func branchDoc() *SnapshotDocument {
	return &SnapshotDocument{Steps: []SnapshotStep{
		{ID: "s1", Title: "Intro", InstructionType: InstructionInfo},
		{ID: "s2", Title: "Ready?", InstructionType: InstructionQuestion, Choices: []SnapshotChoice{
			{Label: "Yes", GoToStep: strPtr("s4")},
			{Label: "No"},
		}},
		{ID: "s3", Title: "Practice", InstructionType: InstructionAction},
		{ID: "s4", Title: "Exam", InstructionType: InstructionInspect},
	}}
}

func TestResolve(t *testing.T) {
	g := BuildGraph(branchDoc())
	cases := []struct {
		step, label string
		want        Target
	}{
		{"s1", "", Target{StepID: "s2"}},
		{"s2", "Yes", Target{StepID: "s4"}},
		{"s2", "No", Target{StepID: "s3"}},
		{"s2", " yes ", Target{StepID: "s4"}},
		{"s3", "ignored", Target{StepID: "s4"}},
		{"s4", "", Finish},
	}
	for _, tc := range cases {
		got, err := g.Resolve(tc.step, tc.label)
		if err != nil {
			t.Fatalf("Resolve(%s, %q): %v", tc.step, tc.label, err)
		}
		if got != tc.want {
			t.Fatalf("Resolve(%s, %q) = %v, want %v", tc.step, tc.label, got, tc.want)
		}
	}
	if _, err := g.Resolve("s2", ""); !IsInvalid(err) {
		t.Fatalf("missing label on question: %v", err)
	}
	if _, err := g.Resolve("s2", "Maybe"); !IsNotFound(err) {
		t.Fatalf("unknown label: %v", err)
	}
	if _, err := g.Resolve("nope", ""); !IsNotFound(err) {
		t.Fatalf("unknown step: %v", err)
	}
	if g.First() != (Target{StepID: "s1"}) {
		t.Fatalf("first = %v", g.First())
	}
	if BuildGraph(&SnapshotDocument{}).First() != Finish {
		t.Fatalf("empty graph should start at finish")
	}
}

func TestValidateReachability(t *testing.T) {
	doc := branchDoc()
	doc.Steps[1].Choices = []SnapshotChoice{
		{Label: "Yes", GoToStep: strPtr("s4")},
		{Label: "Gone", GoToStep: strPtr("deleted")},
	}
	doc.Steps = append(doc.Steps, SnapshotStep{ID: "s5", Title: "Empty question", InstructionType: InstructionQuestion})

	warnings := ValidateReachability(doc)
	codes := map[string]string{}
	for _, w := range warnings {
		codes[w.StepID+"/"+w.Code] = w.Message
	}
	if _, ok := codes["s2/"+WarningReferenceDangling]; !ok {
		t.Fatalf("dangling target not reported: %+v", warnings)
	}
	if _, ok := codes["s5/"+WarningQuestionWithoutChoices]; !ok {
		t.Fatalf("question without choices not reported: %+v", warnings)
	}
	// the dangling choice falls through to s3, so every step stays reachable
	for key := range codes {
		if key[len(key)-len(WarningUnreachableStep):] == WarningUnreachableStep {
			t.Fatalf("unexpected unreachable warning %s", key)
		}
	}

	doc.Steps[1].Choices = []SnapshotChoice{{Label: "Yes", GoToStep: strPtr("s4")}}
	warnings = ValidateReachability(doc)
	found := false
	for _, w := range warnings {
		if w.Code == WarningUnreachableStep && w.StepID == "s3" {
			found = true
		}
	}
	if !found {
		t.Fatalf("s3 should be unreachable: %+v", warnings)
	}
}

func TestEdgesDeduplicates(t *testing.T) {
	doc := branchDoc()
	doc.Steps[1].Choices = append(doc.Steps[1].Choices, SnapshotChoice{Label: "Also no"})
	edges := BuildGraph(doc).Edges("s2")
	if len(edges) != 2 {
		t.Fatalf("edges = %v", edges)
	}
}

func TestEdgesIncludeNextStep(t *testing.T) {
	doc := branchDoc()
	doc.Steps[1].Choices = []SnapshotChoice{{Label: "Yes", GoToStep: strPtr("s4")}}
	g := BuildGraph(doc)

	edges := g.Edges("s2")
	if len(edges) != 2 || edges[0].StepID != "s4" || edges[1].StepID != "s3" {
		t.Fatalf("question edges = %v", edges)
	}
	if moves := g.moves("s2"); len(moves) != 1 || moves[0].StepID != "s4" {
		t.Fatalf("question moves = %v", moves)
	}
	if last := g.Edges("s4"); len(last) != 1 || !last[0].Finish {
		t.Fatalf("last step edges = %v", last)
	}
	if g.Edges("missing") != nil {
		t.Fatalf("unknown step should have no edges")
	}
}

func TestWarningKeepsFirstChoiceIndex(t *testing.T) {
	doc := branchDoc()
	doc.Steps[1].Choices = []SnapshotChoice{{Label: "Gone", GoToStep: strPtr("deleted")}}
	doc.Steps = append(doc.Steps, SnapshotStep{ID: "s5", Title: "Empty question", InstructionType: InstructionQuestion})
	var dangling, empty *Warning
	warnings := ValidateReachability(doc)
	for i := range warnings {
		switch warnings[i].Code {
		case WarningReferenceDangling:
			dangling = &warnings[i]
		case WarningQuestionWithoutChoices:
			empty = &warnings[i]
		}
	}
	if dangling == nil || dangling.ChoiceIndex == nil || *dangling.ChoiceIndex != 0 {
		t.Fatalf("dangling warning = %+v", dangling)
	}
	raw, err := json.Marshal(dangling)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"choice_index":0`) {
		t.Fatalf("choice index lost on the wire: %s", raw)
	}
	if empty == nil {
		t.Fatalf("question without choices not reported: %+v", warnings)
	}
	raw, _ = json.Marshal(empty)
	if strings.Contains(string(raw), "choice_index") {
		t.Fatalf("step warning carries a choice index: %s", raw)
	}
}
