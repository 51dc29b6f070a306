package services

import "testing"

func TestIsAutoTitleFor(t *testing.T) {
	cases := []struct {
		title      string
		task, step int
		want       bool
	}{
		{"Step 1.2", 1, 2, true},
		{"  step 3.10 ", 3, 10, true},
		{"Step 1.2", 1, 3, false},
		{"Step 1.2 - wiring", 1, 2, false},
		{"Check valves", 1, 1, false},
	}
	for _, tc := range cases {
		if got := isAutoTitleFor(tc.title, tc.task, tc.step); got != tc.want {
			t.Fatalf("isAutoTitleFor(%q, %d, %d) = %v", tc.title, tc.task, tc.step, got)
		}
	}
}

func TestCodeFromTitle(t *testing.T) {
	cases := map[string]string{
		"Fire Safety":                     "FIRE_SAFETY",
		"  forklift -- pre-shift check ":  "FORKLIFT_PRE_SHIFT_CHECK",
		"Überprüfung":                     "BERPR_FUNG",
		"!!!":                             "MODULE",
		"A very long module title indeed": "A_VERY_LONG_MODULE_TITLE_INDEE",
	}
	for in, want := range cases {
		if got := CodeFromTitle(in); got != want {
			t.Fatalf("CodeFromTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSameIDSet(t *testing.T) {
	if !sameIDSet([]string{"b", "a"}, []string{"a", "b"}) {
		t.Fatalf("permutation rejected")
	}
	if sameIDSet([]string{"a", "a"}, []string{"a", "b"}) {
		t.Fatalf("duplicate accepted")
	}
	if sameIDSet([]string{"a"}, []string{"a", "b"}) {
		t.Fatalf("short list accepted")
	}
}

func TestNormalizeChoices(t *testing.T) {
	blank := "  "
	out := normalizeChoices([]Choice{{Label: " Yes ", OrderIndex: 9}, {ID: "keep", Label: "No", GoToStep: &blank}})
	if out[0].ID == "" || out[0].Label != "Yes" || out[0].OrderIndex != 1 {
		t.Fatalf("first = %+v", out[0])
	}
	if out[1].ID != "keep" || out[1].GoToStep != nil || out[1].OrderIndex != 2 {
		t.Fatalf("second = %+v", out[1])
	}
}
