package services

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

type AssetType string

const (
	AssetModel AssetType = "model"
	AssetImage AssetType = "image"
	AssetVideo AssetType = "video"
	AssetOther AssetType = "other"
)

func (t AssetType) Valid() bool {
	switch t {
	case AssetModel, AssetImage, AssetVideo, AssetOther:
		return true
	}
	return false
}

type AnimationClip struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration,omitempty"`
}

type Asset struct {
	ID               string         `json:"id"`
	Type             AssetType      `json:"type"`
	OriginalFilename string         `json:"original_filename"`
	MimeType         string         `json:"mime_type"`
	SizeBytes        int64          `json:"size_bytes"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Ext returns the lower-cased extension of the original filename, including the dot.
func (a *Asset) Ext() string {
	return strings.ToLower(filepath.Ext(a.OriginalFilename))
}

// Animations decodes metadata.animations; malformed entries yield nil.
func (a *Asset) Animations() []AnimationClip {
	if a == nil || a.Metadata == nil {
		return nil
	}
	raw, ok := a.Metadata["animations"]
	if !ok || raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var clips []AnimationClip
	if err := json.Unmarshal(b, &clips); err != nil {
		return nil
	}
	return clips
}

type Mode string

const (
	ModeVR Mode = "VR"
	ModeAR Mode = "AR"
)

func (m Mode) Valid() bool { return m == ModeVR || m == ModeAR }

type ModuleStatus string

const (
	StatusDraft     ModuleStatus = "draft"
	StatusPublished ModuleStatus = "published"
)

type Module struct {
	ID                   string       `json:"id"`
	Code                 string       `json:"code"`
	Title                string       `json:"title"`
	Description          string       `json:"description"`
	Mode                 Mode         `json:"mode"`
	EstimatedDurationMin int          `json:"estimated_duration_min"`
	Language             string       `json:"language"`
	Icon                 string       `json:"icon,omitempty"`
	Tags                 []string     `json:"tags"`
	ThumbnailAssetID     string       `json:"thumbnail_asset_id,omitempty"`
	Status               ModuleStatus `json:"status"`
	LatestVersion        int          `json:"latest_version"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

type Task struct {
	ID          string    `json:"id"`
	ModuleID    string    `json:"module_id"`
	OrderIndex  int       `json:"order_index"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type InstructionType string

const (
	InstructionInfo       InstructionType = "info"
	InstructionSafety     InstructionType = "safety"
	InstructionObserve    InstructionType = "observe"
	InstructionAction     InstructionType = "action"
	InstructionInspect    InstructionType = "inspect"
	InstructionCompletion InstructionType = "completion"
	InstructionQuestion   InstructionType = "question"
)

func (t InstructionType) Valid() bool {
	switch t {
	case InstructionInfo, InstructionSafety, InstructionObserve, InstructionAction,
		InstructionInspect, InstructionCompletion, InstructionQuestion:
		return true
	}
	return false
}

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

type Media struct {
	Type    MediaType `json:"type"`
	AssetID string    `json:"asset_id"`
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ModelPlacement positions one model relative to the step's spawn anchor.
// An empty AssetID means the referenced asset was deleted.
type ModelPlacement struct {
	AssetID       string  `json:"asset_id"`
	AnimationName string  `json:"animation_name,omitempty"`
	AnimationLoop bool    `json:"animation_loop"`
	Position      Vec3    `json:"position"`
	Rotation      Vec3    `json:"rotation"`
	Scale         float64 `json:"scale"`
}

type Hand string

const (
	HandUnset Hand = ""
	HandLeft  Hand = "left"
	HandRight Hand = "right"
	HandAny   Hand = "any"
)

func (h Hand) Valid() bool {
	switch h {
	case HandUnset, HandLeft, HandRight, HandAny:
		return true
	}
	return false
}

type Interaction struct {
	RequiredAction  string `json:"required_action"`
	InputMethod     string `json:"input_method"`
	Target          string `json:"target"`
	Hand            Hand   `json:"hand"`
	AttemptsAllowed int    `json:"attempts_allowed"`
}

type CompletionType string

const (
	CompletionUnset                CompletionType = ""
	CompletionButtonClicked        CompletionType = "button_clicked"
	CompletionAnimationCompleted   CompletionType = "animation_completed"
	CompletionInteractionCompleted CompletionType = "interaction_completed"
	CompletionTimeSpent            CompletionType = "time_spent"
	CompletionUserConfirmed        CompletionType = "user_confirmed"
)

func (c CompletionType) Valid() bool {
	switch c {
	case CompletionUnset, CompletionButtonClicked, CompletionAnimationCompleted,
		CompletionInteractionCompleted, CompletionTimeSpent, CompletionUserConfirmed:
		return true
	}
	return false
}

type Completion struct {
	Type  CompletionType `json:"type"`
	Value string         `json:"value"`
}

// Choice is a branch option on a question step. A nil GoToStep falls through
// to the next step in document order.
type Choice struct {
	ID         string  `json:"id,omitempty"`
	Label      string  `json:"label"`
	GoToStep   *string `json:"go_to_step"`
	OrderIndex int     `json:"order_index"`
}

type Step struct {
	ID              string           `json:"id"`
	ModuleID        string           `json:"module_id"`
	TaskID          string           `json:"task_id"`
	OrderIndex      int              `json:"order_index"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	InstructionType InstructionType  `json:"instruction_type"`
	Media           *Media           `json:"media"`
	Models          []ModelPlacement `json:"models"`
	Interaction     Interaction      `json:"interaction"`
	Completion      Completion       `json:"completion"`
	Choices         []Choice         `json:"choices"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// TaskDocument is a task with its ordered steps.
type TaskDocument struct {
	Task
	Steps []*Step `json:"steps"`
}

// ModuleDocument is the full authoring graph of a module.
type ModuleDocument struct {
	Module
	Tasks []*TaskDocument `json:"tasks"`
}

// Optional distinguishes an omitted JSON field from an explicit value (including null).
type Optional[T any] struct {
	Set   bool
	Value T
}

func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: v} }

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		var zero T
		o.Value = zero
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o Optional[T]) apply(dst *T) {
	if o.Set {
		*dst = o.Value
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func CloneStep(st *Step) *Step {
	if st == nil {
		return nil
	}
	out := *st
	if st.Media != nil {
		m := *st.Media
		out.Media = &m
	}
	if st.Models != nil {
		out.Models = append([]ModelPlacement(nil), st.Models...)
	}
	if st.Choices != nil {
		out.Choices = make([]Choice, len(st.Choices))
		for i, c := range st.Choices {
			out.Choices[i] = c
			if c.GoToStep != nil {
				target := *c.GoToStep
				out.Choices[i].GoToStep = &target
			}
		}
	}
	return &out
}

func CloneModule(m *Module) *Module {
	if m == nil {
		return nil
	}
	out := *m
	out.Tags = cloneStrings(m.Tags)
	return &out
}

func CloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

func CloneAsset(a *Asset) *Asset {
	if a == nil {
		return nil
	}
	out := *a
	if a.Metadata != nil {
		out.Metadata, _ = cloneValue(a.Metadata).(map[string]any)
	}
	return &out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
