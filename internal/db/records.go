package db

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/soaringjerry/Praxis/internal/services"
)

type moduleRecord struct {
	ID                   string         `gorm:"type:varchar(36);primaryKey"`
	Code                 string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_modules_code"`
	Title                string         `gorm:"type:text;not null"`
	TitleKey             string         `gorm:"type:text;not null;uniqueIndex:idx_modules_title_key"`
	Description          string         `gorm:"type:text;not null;default:''"`
	Mode                 string         `gorm:"type:varchar(8);not null"`
	EstimatedDurationMin int            `gorm:"not null;default:0"`
	Language             string         `gorm:"type:varchar(35);not null"`
	Icon                 string         `gorm:"type:text;not null;default:''"`
	Tags                 datatypes.JSON `gorm:"not null"`
	ThumbnailAssetID     string         `gorm:"type:varchar(36);not null;default:'';index"`
	Status               string         `gorm:"type:varchar(16);not null"`
	LatestVersion        int            `gorm:"not null;default:0"`
	CreatedAt            time.Time      `gorm:"not null;autoCreateTime:false"`
	UpdatedAt            time.Time      `gorm:"not null;autoUpdateTime:false"`
}

func (moduleRecord) TableName() string { return "modules" }

type taskRecord struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	ModuleID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_tasks_module_order,priority:1"`
	OrderIndex  int       `gorm:"not null;uniqueIndex:idx_tasks_module_order,priority:2"`
	Title       string    `gorm:"type:text;not null"`
	Description string    `gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (taskRecord) TableName() string { return "tasks" }

type stepRecord struct {
	ID              string `gorm:"type:varchar(36);primaryKey"`
	ModuleID        string `gorm:"type:varchar(36);not null;index"`
	TaskID          string `gorm:"type:varchar(36);not null;uniqueIndex:idx_steps_task_order,priority:1"`
	OrderIndex      int    `gorm:"not null;uniqueIndex:idx_steps_task_order,priority:2"`
	Title           string `gorm:"type:text;not null"`
	Description     string `gorm:"type:text;not null;default:''"`
	InstructionType string `gorm:"type:varchar(16);not null"`
	// MediaType is empty when the step has no media.
	MediaType       string             `gorm:"type:varchar(8);not null;default:''"`
	MediaAssetID    string             `gorm:"type:varchar(36);not null;default:'';index"`
	Interaction     interactionColumns `gorm:"embedded;embeddedPrefix:interaction_"`
	CompletionType  string             `gorm:"type:varchar(32);not null;default:''"`
	CompletionValue string             `gorm:"type:text;not null;default:''"`
	CreatedAt       time.Time          `gorm:"not null;autoCreateTime:false"`
	UpdatedAt       time.Time          `gorm:"not null;autoUpdateTime:false"`
}

func (stepRecord) TableName() string { return "steps" }

type interactionColumns struct {
	RequiredAction  string `gorm:"type:text;not null;default:''"`
	InputMethod     string `gorm:"type:text;not null;default:''"`
	Target          string `gorm:"type:text;not null;default:''"`
	Hand            string `gorm:"type:varchar(8);not null;default:''"`
	AttemptsAllowed int    `gorm:"not null;default:0"`
}

type vec3Columns struct {
	X float64 `gorm:"not null;default:0"`
	Y float64 `gorm:"not null;default:0"`
	Z float64 `gorm:"not null;default:0"`
}

// stepModelRecord is one model placement; Ordinal keeps the authored order.
type stepModelRecord struct {
	StepID        string      `gorm:"type:varchar(36);primaryKey"`
	Ordinal       int         `gorm:"primaryKey;autoIncrement:false"`
	AssetID       string      `gorm:"type:varchar(36);not null;default:'';index"`
	AnimationName string      `gorm:"type:text;not null;default:''"`
	AnimationLoop bool        `gorm:"not null;default:false"`
	Offset        vec3Columns `gorm:"embedded;embeddedPrefix:position_"`
	Rotation      vec3Columns `gorm:"embedded;embeddedPrefix:rotation_"`
	Scale         float64     `gorm:"not null;default:0"`
}

func (stepModelRecord) TableName() string { return "step_models" }

type choiceRecord struct {
	StepID     string  `gorm:"type:varchar(36);primaryKey"`
	OrderIndex int     `gorm:"primaryKey;autoIncrement:false"`
	ChoiceID   string  `gorm:"type:varchar(36);not null"`
	Label      string  `gorm:"type:text;not null"`
	GoToStepID *string `gorm:"type:varchar(36);index"`
}

func (choiceRecord) TableName() string { return "step_choices" }

type assetRecord struct {
	ID               string         `gorm:"type:varchar(36);primaryKey"`
	Type             string         `gorm:"type:varchar(8);not null;index"`
	OriginalFilename string         `gorm:"type:text;not null"`
	MimeType         string         `gorm:"type:text;not null"`
	SizeBytes        int64          `gorm:"not null"`
	Metadata         datatypes.JSON `gorm:"not null"`
	CreatedAt        time.Time      `gorm:"not null;autoCreateTime:false;index"`
}

func (assetRecord) TableName() string { return "assets" }

// snapshotRecord stores the payload as raw bytes rather than a JSON column so
// that every read returns exactly what was written at publish time.
type snapshotRecord struct {
	ID            string    `gorm:"type:varchar(36);primaryKey"`
	ModuleID      string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_snapshots_module_version,priority:1"`
	Version       int       `gorm:"not null;uniqueIndex:idx_snapshots_module_version,priority:2"`
	SchemaVersion int       `gorm:"not null"`
	Payload       []byte    `gorm:"not null"`
	PublishedAt   time.Time `gorm:"not null"`
}

func (snapshotRecord) TableName() string { return "published_snapshots" }

func allRecords() []any {
	return []any{
		&moduleRecord{},
		&taskRecord{},
		&stepRecord{},
		&stepModelRecord{},
		&choiceRecord{},
		&assetRecord{},
		&snapshotRecord{},
	}
}

func utc(t time.Time) time.Time { return t.UTC() }

func toModuleRecord(m *services.Module) (*moduleRecord, error) {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return &moduleRecord{
		ID:                   m.ID,
		Code:                 m.Code,
		Title:                m.Title,
		TitleKey:             services.TitleKey(m.Title),
		Description:          m.Description,
		Mode:                 string(m.Mode),
		EstimatedDurationMin: m.EstimatedDurationMin,
		Language:             m.Language,
		Icon:                 m.Icon,
		Tags:                 datatypes.JSON(raw),
		ThumbnailAssetID:     m.ThumbnailAssetID,
		Status:               string(m.Status),
		LatestVersion:        m.LatestVersion,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}, nil
}

func (r *moduleRecord) toService() (*services.Module, error) {
	var tags []string
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &tags); err != nil {
			return nil, err
		}
	}
	if tags == nil {
		tags = []string{}
	}
	return &services.Module{
		ID:                   r.ID,
		Code:                 r.Code,
		Title:                r.Title,
		Description:          r.Description,
		Mode:                 services.Mode(r.Mode),
		EstimatedDurationMin: r.EstimatedDurationMin,
		Language:             r.Language,
		Icon:                 r.Icon,
		Tags:                 tags,
		ThumbnailAssetID:     r.ThumbnailAssetID,
		Status:               services.ModuleStatus(r.Status),
		LatestVersion:        r.LatestVersion,
		CreatedAt:            utc(r.CreatedAt),
		UpdatedAt:            utc(r.UpdatedAt),
	}, nil
}

func toTaskRecord(t *services.Task) *taskRecord {
	return &taskRecord{
		ID:          t.ID,
		ModuleID:    t.ModuleID,
		OrderIndex:  t.OrderIndex,
		Title:       t.Title,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (r *taskRecord) toService() *services.Task {
	return &services.Task{
		ID:          r.ID,
		ModuleID:    r.ModuleID,
		OrderIndex:  r.OrderIndex,
		Title:       r.Title,
		Description: r.Description,
		CreatedAt:   utc(r.CreatedAt),
		UpdatedAt:   utc(r.UpdatedAt),
	}
}

// toStepRecords splits a step into its row and its child rows.
func toStepRecords(st *services.Step) (*stepRecord, []stepModelRecord, []choiceRecord) {
	rec := &stepRecord{
		ID:              st.ID,
		ModuleID:        st.ModuleID,
		TaskID:          st.TaskID,
		OrderIndex:      st.OrderIndex,
		Title:           st.Title,
		Description:     st.Description,
		InstructionType: string(st.InstructionType),
		Interaction: interactionColumns{
			RequiredAction:  st.Interaction.RequiredAction,
			InputMethod:     st.Interaction.InputMethod,
			Target:          st.Interaction.Target,
			Hand:            string(st.Interaction.Hand),
			AttemptsAllowed: st.Interaction.AttemptsAllowed,
		},
		CompletionType:  string(st.Completion.Type),
		CompletionValue: st.Completion.Value,
		CreatedAt:       st.CreatedAt,
		UpdatedAt:       st.UpdatedAt,
	}
	if st.Media != nil {
		rec.MediaType = string(st.Media.Type)
		rec.MediaAssetID = st.Media.AssetID
	}
	models := make([]stepModelRecord, 0, len(st.Models))
	for i, p := range st.Models {
		models = append(models, stepModelRecord{
			StepID:        st.ID,
			Ordinal:       i + 1,
			AssetID:       p.AssetID,
			AnimationName: p.AnimationName,
			AnimationLoop: p.AnimationLoop,
			Offset:        vec3Columns(p.Position),
			Rotation:      vec3Columns(p.Rotation),
			Scale:         p.Scale,
		})
	}
	choices := make([]choiceRecord, 0, len(st.Choices))
	for i, c := range st.Choices {
		var target *string
		if c.GoToStep != nil {
			v := *c.GoToStep
			target = &v
		}
		choices = append(choices, choiceRecord{
			StepID:     st.ID,
			OrderIndex: i + 1,
			ChoiceID:   c.ID,
			Label:      c.Label,
			GoToStepID: target,
		})
	}
	return rec, models, choices
}

func (r *stepRecord) toService(models []stepModelRecord, choices []choiceRecord) *services.Step {
	st := &services.Step{
		ID:              r.ID,
		ModuleID:        r.ModuleID,
		TaskID:          r.TaskID,
		OrderIndex:      r.OrderIndex,
		Title:           r.Title,
		Description:     r.Description,
		InstructionType: services.InstructionType(r.InstructionType),
		Interaction: services.Interaction{
			RequiredAction:  r.Interaction.RequiredAction,
			InputMethod:     r.Interaction.InputMethod,
			Target:          r.Interaction.Target,
			Hand:            services.Hand(r.Interaction.Hand),
			AttemptsAllowed: r.Interaction.AttemptsAllowed,
		},
		Completion: services.Completion{
			Type:  services.CompletionType(r.CompletionType),
			Value: r.CompletionValue,
		},
		Models:    []services.ModelPlacement{},
		Choices:   []services.Choice{},
		CreatedAt: utc(r.CreatedAt),
		UpdatedAt: utc(r.UpdatedAt),
	}
	if r.MediaType != "" {
		st.Media = &services.Media{Type: services.MediaType(r.MediaType), AssetID: r.MediaAssetID}
	}
	for _, m := range models {
		st.Models = append(st.Models, services.ModelPlacement{
			AssetID:       m.AssetID,
			AnimationName: m.AnimationName,
			AnimationLoop: m.AnimationLoop,
			Position:      services.Vec3(m.Offset),
			Rotation:      services.Vec3(m.Rotation),
			Scale:         m.Scale,
		})
	}
	for _, c := range choices {
		var target *string
		if c.GoToStepID != nil {
			v := *c.GoToStepID
			target = &v
		}
		st.Choices = append(st.Choices, services.Choice{
			ID:         c.ChoiceID,
			Label:      c.Label,
			GoToStep:   target,
			OrderIndex: c.OrderIndex,
		})
	}
	return st
}

func toAssetRecord(a *services.Asset) (*assetRecord, error) {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return &assetRecord{
		ID:               a.ID,
		Type:             string(a.Type),
		OriginalFilename: a.OriginalFilename,
		MimeType:         a.MimeType,
		SizeBytes:        a.SizeBytes,
		Metadata:         datatypes.JSON(raw),
		CreatedAt:        a.CreatedAt,
	}, nil
}

func (r *assetRecord) toService() (*services.Asset, error) {
	a := &services.Asset{
		ID:               r.ID,
		Type:             services.AssetType(r.Type),
		OriginalFilename: r.OriginalFilename,
		MimeType:         r.MimeType,
		SizeBytes:        r.SizeBytes,
		CreatedAt:        utc(r.CreatedAt),
	}
	if len(r.Metadata) > 0 {
		var meta map[string]any
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			a.Metadata = meta
		}
	}
	return a, nil
}

func toSnapshotRecord(p *services.PublishedSnapshot) *snapshotRecord {
	return &snapshotRecord{
		ID:            p.ID,
		ModuleID:      p.ModuleID,
		Version:       p.Version,
		SchemaVersion: p.SchemaVersion,
		Payload:       append([]byte(nil), p.Payload...),
		PublishedAt:   p.PublishedAt,
	}
}

func (r *snapshotRecord) toService() *services.PublishedSnapshot {
	return &services.PublishedSnapshot{
		ID:            r.ID,
		ModuleID:      r.ModuleID,
		Version:       r.Version,
		SchemaVersion: r.SchemaVersion,
		Payload:       r.Payload,
		PublishedAt:   utc(r.PublishedAt),
	}
}
