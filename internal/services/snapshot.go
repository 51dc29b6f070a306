package services

import (
	"encoding/json"
	"fmt"
	"time"
)

const SnapshotSchemaVersion = 1

// PublishedSnapshot is an immutable published version of a module. Payload holds
// the serialized SnapshotDocument exactly as written at publish time.
type PublishedSnapshot struct {
	ID            string    `json:"id"`
	ModuleID      string    `json:"module_id"`
	Version       int       `json:"version"`
	SchemaVersion int       `json:"schema_version"`
	Payload       []byte    `json:"-"`
	PublishedAt   time.Time `json:"published_at"`
}

func (p *PublishedSnapshot) Document() (*SnapshotDocument, error) {
	var doc SnapshotDocument
	if err := json.Unmarshal(p.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot %s v%d: %w", p.ModuleID, p.Version, err)
	}
	return &doc, nil
}

func CloneSnapshot(p *PublishedSnapshot) *PublishedSnapshot {
	if p == nil {
		return nil
	}
	out := *p
	out.Payload = append([]byte(nil), p.Payload...)
	return &out
}

// SnapshotDocument is the denormalized runtime document.
type SnapshotDocument struct {
	ModuleID             string         `json:"module_id"`
	Code                 string         `json:"code"`
	Version              int            `json:"version"`
	SchemaVersion        int            `json:"schema_version"`
	Title                string         `json:"title"`
	Description          string         `json:"description"`
	Mode                 Mode           `json:"mode"`
	EstimatedDurationMin int            `json:"estimated_duration_min"`
	Language             string         `json:"language"`
	Icon                 string         `json:"icon,omitempty"`
	Tags                 []string       `json:"tags"`
	ThumbnailURL         string         `json:"thumbnail_url,omitempty"`
	PublishedAt          time.Time      `json:"published_at"`
	Tasks                []SnapshotTask `json:"tasks"`
	Steps                []SnapshotStep `json:"steps"`
}

type SnapshotTask struct {
	ID           string   `json:"id"`
	OrderIndex   int      `json:"order_index"`
	Title        string   `json:"title"`
	DisplayTitle string   `json:"display_title"`
	Description  string   `json:"description,omitempty"`
	StepIDs      []string `json:"step_ids"`
}

type SnapshotMedia struct {
	Type    MediaType `json:"type"`
	AssetID string    `json:"asset_id"`
	URL     string    `json:"media_asset_url"`
}

type SnapshotModel struct {
	AssetID       string  `json:"asset_id"`
	URL           string  `json:"model_asset_url"`
	AnimationName string  `json:"animation_name,omitempty"`
	AnimationLoop bool    `json:"animation_loop"`
	Position      Vec3    `json:"position"`
	Rotation      Vec3    `json:"rotation"`
	Scale         float64 `json:"scale"`
}

type SnapshotChoice struct {
	Label    string  `json:"label"`
	GoToStep *string `json:"go_to_step"`
	GoToSeq  int     `json:"go_to_seq,omitempty"`
}

// SnapshotStep carries both the stable step id and a sequential position (Seq)
// across all tasks.
type SnapshotStep struct {
	ID              string           `json:"id"`
	Seq             int              `json:"seq"`
	TaskID          string           `json:"task_id"`
	OrderIndex      int              `json:"order_index"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	InstructionType InstructionType  `json:"instruction_type"`
	Media           *SnapshotMedia   `json:"media"`
	Models          []SnapshotModel  `json:"models"`
	Interaction     *Interaction     `json:"interaction"`
	Completion      *Completion      `json:"completion"`
	Choices         []SnapshotChoice `json:"choices,omitempty"`
}

// CatalogEntry summarizes the latest snapshot of a module for the runtime catalog.
type CatalogEntry struct {
	ModuleID             string    `json:"module_id"`
	Code                 string    `json:"code"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	Version              int       `json:"version"`
	Mode                 Mode      `json:"mode"`
	EstimatedDurationMin int       `json:"estimated_duration_min"`
	Language             string    `json:"language"`
	Icon                 string    `json:"icon,omitempty"`
	Tags                 []string  `json:"tags"`
	ThumbnailURL         string    `json:"thumbnail_url,omitempty"`
	TaskCount            int       `json:"task_count"`
	StepCount            int       `json:"step_count"`
	PublishedAt          time.Time `json:"published_at"`
}
