package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/soaringjerry/Praxis/internal/logger"
)

const (
	maxCodeLen      = 30
	defaultLanguage = "en"
)

type ModuleService struct {
	core *core
	log  *logger.Logger
}

type ModuleInput struct {
	Title                string   `json:"title"`
	Code                 string   `json:"code"`
	Description          string   `json:"description"`
	Mode                 Mode     `json:"mode"`
	EstimatedDurationMin int      `json:"estimated_duration_min"`
	Language             string   `json:"language"`
	Icon                 string   `json:"icon"`
	Tags                 []string `json:"tags"`
	ThumbnailAssetID     string   `json:"thumbnail_asset_id"`
}

type ModulePatch struct {
	Title                Optional[string]   `json:"title"`
	Description          Optional[string]   `json:"description"`
	Mode                 Optional[Mode]     `json:"mode"`
	EstimatedDurationMin Optional[int]      `json:"estimated_duration_min"`
	Language             Optional[string]   `json:"language"`
	Icon                 Optional[string]   `json:"icon"`
	Tags                 Optional[[]string] `json:"tags"`
	ThumbnailAssetID     Optional[string]   `json:"thumbnail_asset_id"`
}

// TitleKey is the case-insensitive form under which module titles are unique.
func TitleKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// CodeFromTitle derives an upper-case code slug such as FIRE_SAFETY.
func CodeFromTitle(title string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToUpper(r))
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	code := strings.TrimRight(b.String(), "_")
	if len(code) > maxCodeLen {
		code = strings.TrimRight(code[:maxCodeLen], "_")
	}
	if code == "" {
		code = "MODULE"
	}
	return code
}

func normalizeTags(tags []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func validateModule(ctx context.Context, r Reader, m *Module) error {
	fe := &fieldErrors{entity: "module", id: m.ID}
	if m.Title == "" {
		fe.add("title", "title is required")
	}
	if !m.Mode.Valid() {
		fe.add("mode", "mode must be VR or AR, got %q", m.Mode)
	}
	if m.EstimatedDurationMin < 0 {
		fe.add("estimated_duration_min", "must be >= 0")
	}
	if m.ThumbnailAssetID != "" {
		a, err := r.GetAsset(ctx, m.ThumbnailAssetID)
		if err != nil {
			return err
		}
		switch {
		case a == nil:
			fe.add("thumbnail_asset_id", "asset %s not found", m.ThumbnailAssetID)
		case a.Type != AssetImage:
			fe.add("thumbnail_asset_id", "asset %s is %s, not image", a.ID, a.Type)
		}
	}
	return fe.err()
}

// uniqueCode returns base, or base with a _001, _002... suffix when taken.
func uniqueCode(ctx context.Context, r Reader, base string) (string, error) {
	code := base
	for n := 1; ; n++ {
		m, err := r.FindModuleByCode(ctx, code)
		if err != nil {
			return "", err
		}
		if m == nil {
			return code, nil
		}
		suffix := fmt.Sprintf("_%03d", n)
		trimmed := base
		if len(trimmed)+len(suffix) > maxCodeLen {
			trimmed = trimmed[:maxCodeLen-len(suffix)]
		}
		code = trimmed + suffix
	}
}

// checkTitleFree is the fast pre-check; the store's unique index on the title
// key stays the final arbiter.
func checkTitleFree(ctx context.Context, r Reader, title, selfID string) error {
	existing, err := r.FindModuleByTitle(ctx, title)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != selfID {
		return NewDuplicateTitleError(title)
	}
	return nil
}

func translateModuleWrite(err error, title string) error {
	switch c, _ := constraintOf(err); c {
	case ConstraintModuleTitle:
		return NewDuplicateTitleError(title)
	case ConstraintModuleCode:
		return NewConcurrencyConflictError("module code was taken concurrently, retry")
	}
	return err
}

func (s *ModuleService) Create(ctx context.Context, in ModuleInput) (*Module, error) {
	now := s.core.now()
	m := &Module{
		ID:                   newID(),
		Title:                strings.TrimSpace(in.Title),
		Description:          in.Description,
		Mode:                 in.Mode,
		EstimatedDurationMin: in.EstimatedDurationMin,
		Language:             strings.TrimSpace(in.Language),
		Icon:                 in.Icon,
		Tags:                 normalizeTags(in.Tags),
		ThumbnailAssetID:     strings.TrimSpace(in.ThumbnailAssetID),
		Status:               StatusDraft,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if m.Mode == "" {
		m.Mode = ModeVR
	}
	if m.Language == "" {
		m.Language = defaultLanguage
	}
	explicitCode := strings.ToUpper(strings.TrimSpace(in.Code))
	if len(explicitCode) > maxCodeLen {
		return nil, NewFieldError("module", "", "code", fmt.Sprintf("code must be at most %d characters", maxCodeLen))
	}
	unlock := s.core.locks.shared()
	defer unlock()
	err := s.core.store.Atomic(ctx, func(tx Tx) error {
		if err := validateModule(ctx, tx, m); err != nil {
			return err
		}
		if err := checkTitleFree(ctx, tx, m.Title, ""); err != nil {
			return err
		}
		if explicitCode != "" {
			taken, err := tx.FindModuleByCode(ctx, explicitCode)
			if err != nil {
				return err
			}
			if taken != nil {
				return NewFieldError("module", "", "code", fmt.Sprintf("code %s is already in use", explicitCode))
			}
			m.Code = explicitCode
		} else {
			code, err := uniqueCode(ctx, tx, CodeFromTitle(m.Title))
			if err != nil {
				return err
			}
			m.Code = code
		}
		return tx.InsertModule(ctx, m)
	})
	if err != nil {
		if IsDuplicateTitle(err) || constraintIs(err, ConstraintModuleTitle) {
			s.log.Warn("duplicate module title", "title", m.Title)
		}
		return nil, translateModuleWrite(err, m.Title)
	}
	s.log.Info("module created", "module_id", m.ID, "code", m.Code)
	return m, nil
}

func constraintIs(err error, name string) bool {
	c, ok := constraintOf(err)
	return ok && c == name
}

func (s *ModuleService) Get(ctx context.Context, id string) (*Module, error) {
	m, err := s.core.store.GetModule(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, NewNotFoundError("module not found")
	}
	return m, nil
}

func (s *ModuleService) List(ctx context.Context) ([]*Module, error) {
	return s.core.store.ListModules(ctx)
}

// GetDocument returns the module with its ordered tasks and steps.
func (s *ModuleService) GetDocument(ctx context.Context, id string) (*ModuleDocument, error) {
	return loadDocument(ctx, s.core.store, id)
}

func (s *ModuleService) Update(ctx context.Context, id string, p ModulePatch) (*Module, error) {
	unlock := s.core.locks.lock(id)
	defer unlock()

	var updated *Module
	err := s.core.store.Atomic(ctx, func(tx Tx) error {
		m, err := tx.GetModule(ctx, id)
		if err != nil {
			return err
		}
		if m == nil {
			return NewNotFoundError("module not found")
		}
		p.Title.apply(&m.Title)
		m.Title = strings.TrimSpace(m.Title)
		p.Description.apply(&m.Description)
		p.Mode.apply(&m.Mode)
		p.EstimatedDurationMin.apply(&m.EstimatedDurationMin)
		p.Language.apply(&m.Language)
		p.Icon.apply(&m.Icon)
		if p.Tags.Set {
			m.Tags = normalizeTags(p.Tags.Value)
		}
		p.ThumbnailAssetID.apply(&m.ThumbnailAssetID)
		if err := validateModule(ctx, tx, m); err != nil {
			return err
		}
		if p.Title.Set {
			if err := checkTitleFree(ctx, tx, m.Title, m.ID); err != nil {
				return err
			}
		}
		m.UpdatedAt = s.core.now()
		if err := tx.UpdateModule(ctx, m); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		title := ""
		if p.Title.Set {
			title = p.Title.Value
		}
		return nil, translateModuleWrite(err, title)
	}
	return updated, nil
}

func (s *ModuleService) Rename(ctx context.Context, id, title string) (*Module, error) {
	return s.Update(ctx, id, ModulePatch{Title: Some(title)})
}

// Delete removes the module with its tasks, steps and published snapshots.
func (s *ModuleService) Delete(ctx context.Context, id string) error {
	unlock := s.core.locks.lock(id)
	defer unlock()

	err := s.core.store.Atomic(ctx, func(tx Tx) error {
		m, err := tx.GetModule(ctx, id)
		if err != nil {
			return err
		}
		if m == nil {
			return NewNotFoundError("module not found")
		}
		return tx.DeleteModule(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info("module deleted", "module_id", id)
	s.core.events.Emit(Event{Kind: EventModuleDeleted, ModuleID: id})
	return nil
}

// loadDocument reads the module graph through r in document order.
func loadDocument(ctx context.Context, r Reader, moduleID string) (*ModuleDocument, error) {
	m, err := r.GetModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, NewNotFoundError("module not found")
	}
	tasks, err := r.ListTasks(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	doc := &ModuleDocument{Module: *m, Tasks: make([]*TaskDocument, 0, len(tasks))}
	for _, t := range tasks {
		steps, err := r.ListSteps(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if steps == nil {
			steps = []*Step{}
		}
		doc.Tasks = append(doc.Tasks, &TaskDocument{Task: *t, Steps: steps})
	}
	return doc, nil
}

// FlatSteps returns every step in flattened document order.
func (d *ModuleDocument) FlatSteps() []*Step {
	var out []*Step
	for _, t := range d.Tasks {
		out = append(out, t.Steps...)
	}
	return out
}
