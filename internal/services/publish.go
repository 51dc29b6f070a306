package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soaringjerry/Praxis/internal/logger"
	"github.com/soaringjerry/Praxis/internal/utils"
)

type PublishService struct {
	core        *core
	log         *logger.Logger
	cache       SnapshotCache
	unsubscribe func()
}

// ValidationReport is the outcome of a publish dry run.
type ValidationReport struct {
	Valid    bool         `json:"valid"`
	Errors   []FieldError `json:"errors"`
	Warnings []Warning    `json:"warnings"`
}

type PublishResult struct {
	Snapshot *PublishedSnapshot `json:"snapshot"`
	Document *SnapshotDocument  `json:"document"`
	Warnings []Warning          `json:"warnings"`
}

func newPublishService(c *core) *PublishService {
	s := &PublishService{core: c, log: c.log.With("service", "PublishService"), cache: c.opts.Cache}
	if s.cache != nil {
		s.unsubscribe = c.events.Subscribe(func(ev Event) {
			switch ev.Kind {
			case EventModuleDeleted, EventSnapshotsPruned:
				s.cache.Forget(context.Background(), ev.ModuleID)
			}
		})
	}
	return s
}

// Close detaches the service from the notifier.
func (s *PublishService) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// AssetURL is the placeholder URL the transport layer serves an asset under.
func AssetURL(base string, a *Asset) string {
	return fmt.Sprintf("%s/%s/%s/original%s", strings.TrimRight(base, "/"), a.Type, a.ID, a.Ext())
}

type snapshotBuilder struct {
	ctx      context.Context
	r        Reader
	baseURL  string
	strict   bool
	assets   map[string]*Asset
	errs     []FieldError
	warnings []Warning
}

func (b *snapshotBuilder) asset(id string) (*Asset, error) {
	if a, ok := b.assets[id]; ok {
		return a, nil
	}
	a, err := b.r.GetAsset(b.ctx, id)
	if err != nil {
		return nil, err
	}
	b.assets[id] = a
	return a, nil
}

// finding records a warning, or an error in strict mode.
func (b *snapshotBuilder) finding(w Warning, field string) {
	if b.strict {
		b.errs = append(b.errs, FieldError{Entity: "step", ID: w.StepID, Field: field, Message: w.Message})
		return
	}
	b.warnings = append(b.warnings, w)
}

// buildSnapshot validates the module graph read through r and denormalizes it
// into a runtime document. The version is left for the caller to stamp.
func (s *PublishService) buildSnapshot(ctx context.Context, r Reader, moduleID string, now time.Time) (*SnapshotDocument, []Warning, error) {
	doc, err := loadDocument(ctx, r, moduleID)
	if err != nil {
		return nil, nil, err
	}
	b := &snapshotBuilder{
		ctx:     ctx,
		r:       r,
		baseURL: s.core.opts.AssetBaseURL,
		strict:  s.core.opts.Strict,
		assets:  map[string]*Asset{},
	}

	if len(doc.Tasks) == 0 {
		b.errs = append(b.errs, FieldError{Entity: "module", ID: moduleID, Field: "tasks", Message: "module has no tasks"})
	}
	var empty []string
	for _, t := range doc.Tasks {
		if len(t.Steps) == 0 {
			empty = append(empty, t.Title)
			b.errs = append(b.errs, FieldError{Entity: "task", ID: t.ID, Field: "steps", Message: fmt.Sprintf("task %q has no steps", t.Title)})
		}
	}
	if len(b.errs) > 0 {
		msg := "cannot publish: module has no tasks"
		if len(empty) > 0 {
			msg = "cannot publish: tasks without steps: " + strings.Join(empty, ", ")
		}
		return nil, nil, NewValidationError(msg, b.errs)
	}

	out := &SnapshotDocument{
		ModuleID:             doc.ID,
		Code:                 doc.Code,
		SchemaVersion:        SnapshotSchemaVersion,
		Title:                doc.Title,
		Description:          doc.Description,
		Mode:                 doc.Mode,
		EstimatedDurationMin: doc.EstimatedDurationMin,
		Language:             doc.Language,
		Icon:                 doc.Icon,
		Tags:                 cloneStrings(doc.Tags),
		PublishedAt:          now,
		Tasks:                make([]SnapshotTask, 0, len(doc.Tasks)),
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if doc.ThumbnailAssetID != "" {
		a, err := b.asset(doc.ThumbnailAssetID)
		if err != nil {
			return nil, nil, err
		}
		if a != nil {
			out.ThumbnailURL = AssetURL(b.baseURL, a)
		}
	}

	seq := map[string]int{}
	n := 0
	for _, t := range doc.Tasks {
		for _, st := range t.Steps {
			n++
			seq[st.ID] = n
		}
	}

	for _, t := range doc.Tasks {
		task := SnapshotTask{
			ID:           t.ID,
			OrderIndex:   t.OrderIndex,
			Title:        t.Title,
			DisplayTitle: utils.Tf(doc.Language, "task.display_title", t.OrderIndex, t.Title),
			Description:  t.Description,
			StepIDs:      make([]string, 0, len(t.Steps)),
		}
		for _, st := range t.Steps {
			task.StepIDs = append(task.StepIDs, st.ID)
			ss, err := b.step(st, seq)
			if err != nil {
				return nil, nil, err
			}
			out.Steps = append(out.Steps, ss)
		}
		out.Tasks = append(out.Tasks, task)
	}
	if len(b.errs) > 0 {
		return nil, nil, NewValidationError(fmt.Sprintf("cannot publish: %d strict check(s) failed", len(b.errs)), b.errs)
	}
	for _, w := range ValidateReachability(out) {
		if w.Code == WarningUnreachableStep {
			b.warnings = append(b.warnings, w)
		}
	}
	return out, b.warnings, nil
}

func (b *snapshotBuilder) step(st *Step, seq map[string]int) (SnapshotStep, error) {
	ss := SnapshotStep{
		ID:              st.ID,
		Seq:             seq[st.ID],
		TaskID:          st.TaskID,
		OrderIndex:      st.OrderIndex,
		Title:           st.Title,
		Description:     st.Description,
		InstructionType: st.InstructionType,
		Models:          []SnapshotModel{},
	}
	if st.Interaction != (Interaction{}) {
		in := st.Interaction
		ss.Interaction = &in
	}
	if st.Completion != (Completion{}) {
		c := st.Completion
		ss.Completion = &c
	}
	if st.Media != nil {
		a, err := b.asset(st.Media.AssetID)
		if err != nil {
			return ss, err
		}
		if a != nil {
			ss.Media = &SnapshotMedia{Type: st.Media.Type, AssetID: a.ID, URL: AssetURL(b.baseURL, a)}
		} else {
			b.warnings = append(b.warnings, Warning{
				Code: WarningReferenceDangling, StepID: st.ID, AssetID: st.Media.AssetID,
				Message: fmt.Sprintf("step %q media asset no longer exists", st.Title),
			})
		}
	}
	for _, p := range st.Models {
		if p.AssetID == "" {
			continue
		}
		a, err := b.asset(p.AssetID)
		if err != nil {
			return ss, err
		}
		if a == nil {
			b.warnings = append(b.warnings, Warning{
				Code: WarningReferenceDangling, StepID: st.ID, AssetID: p.AssetID,
				Message: fmt.Sprintf("step %q model asset no longer exists", st.Title),
			})
			continue
		}
		ss.Models = append(ss.Models, SnapshotModel{
			AssetID:       a.ID,
			URL:           AssetURL(b.baseURL, a),
			AnimationName: p.AnimationName,
			AnimationLoop: p.AnimationLoop,
			Position:      p.Position,
			Rotation:      p.Rotation,
			Scale:         p.Scale,
		})
	}
	if st.InstructionType == InstructionQuestion && len(st.Choices) == 0 {
		b.finding(Warning{
			Code:    WarningQuestionWithoutChoices,
			StepID:  st.ID,
			Message: fmt.Sprintf("question step %q has no choices", st.Title),
		}, "choices")
	}
	for i, c := range st.Choices {
		sc := SnapshotChoice{Label: c.Label}
		if c.GoToStep != nil {
			if n, ok := seq[*c.GoToStep]; ok {
				target := *c.GoToStep
				sc.GoToStep = &target
				sc.GoToSeq = n
			} else {
				b.finding(Warning{
					Code:        WarningReferenceDangling,
					StepID:      st.ID,
					ChoiceIndex: &i,
					Message:     fmt.Sprintf("choice %q of step %q targets a missing step; it will fall through", c.Label, st.Title),
				}, fmt.Sprintf("choices[%d].go_to_step", i))
			}
		}
		ss.Choices = append(ss.Choices, sc)
	}
	return ss, nil
}

// Validate runs the publish checks without writing anything.
func (s *PublishService) Validate(ctx context.Context, moduleID string) (*ValidationReport, error) {
	_, warnings, err := s.buildSnapshot(ctx, s.core.store, moduleID, s.core.now())
	report := &ValidationReport{Valid: err == nil, Errors: []FieldError{}, Warnings: warnings}
	if err != nil {
		se, ok := AsServiceError(err)
		if !ok || se.Code != ErrorInvalid {
			return nil, err
		}
		report.Errors = append(report.Errors, se.Details...)
	}
	if report.Warnings == nil {
		report.Warnings = []Warning{}
	}
	return report, nil
}

// Publish validates the module and appends an immutable snapshot at
// latest+1. Validation, snapshot insert and the module's status update commit
// together or not at all.
func (s *PublishService) Publish(ctx context.Context, moduleID string) (*PublishResult, error) {
	unlock := s.core.locks.lock(moduleID)
	defer unlock()

	var res *PublishResult
	err := s.core.store.Atomic(ctx, func(tx Tx) error {
		now := s.core.now()
		doc, warnings, err := s.buildSnapshot(ctx, tx, moduleID, now)
		if err != nil {
			return err
		}
		latest, err := tx.LatestVersion(ctx, moduleID)
		if err != nil {
			return err
		}
		doc.Version = latest + 1
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		snap := &PublishedSnapshot{
			ID:            newID(),
			ModuleID:      moduleID,
			Version:       doc.Version,
			SchemaVersion: SnapshotSchemaVersion,
			Payload:       payload,
			PublishedAt:   now,
		}
		if err := tx.InsertSnapshot(ctx, snap); err != nil {
			if constraintIs(err, ConstraintSnapshotVersion) {
				return NewConcurrencyConflictError("a concurrent publish took this version, retry")
			}
			return err
		}
		m, err := tx.GetModule(ctx, moduleID)
		if err != nil {
			return err
		}
		m.Status = StatusPublished
		m.LatestVersion = snap.Version
		if err := tx.UpdateModule(ctx, m); err != nil {
			return err
		}
		if warnings == nil {
			warnings = []Warning{}
		}
		res = &PublishResult{Snapshot: snap, Document: doc, Warnings: warnings}
		return nil
	})
	if err != nil {
		if IsInvalid(err) {
			s.log.Info("publish rejected", "module_id", moduleID, "error", err)
		}
		return nil, err
	}
	for _, w := range res.Warnings {
		s.log.Warn("publish warning", "module_id", moduleID, "code", w.Code, "step_id", w.StepID, "message", w.Message)
	}
	s.log.Info("module published", "module_id", moduleID, "version", res.Snapshot.Version, "bytes", len(res.Snapshot.Payload))
	if s.cache != nil {
		s.cache.Put(ctx, CloneSnapshot(res.Snapshot))
	}
	s.core.events.Emit(Event{Kind: EventModulePublished, ModuleID: moduleID, Version: res.Snapshot.Version})
	if keep := s.core.opts.KeepPublished; keep > 0 {
		if _, err := s.prune(ctx, moduleID, keep); err != nil {
			s.log.Error("prune after publish", "module_id", moduleID, "error", err)
		}
	}
	return res, nil
}

// GetLatest returns the highest published version. It reads only committed
// snapshots and never waits on authoring writes.
func (s *PublishService) GetLatest(ctx context.Context, moduleID string) (*PublishedSnapshot, error) {
	v, err := s.core.store.LatestVersion(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if v == 0 {
		return nil, NewNotFoundError("module has no published snapshot")
	}
	return s.GetVersion(ctx, moduleID, v)
}

func (s *PublishService) GetVersion(ctx context.Context, moduleID string, version int) (*PublishedSnapshot, error) {
	if s.cache != nil {
		if snap, ok := s.cache.Get(ctx, moduleID, version); ok {
			return snap, nil
		}
	}
	snap, err := s.core.store.GetSnapshot(ctx, moduleID, version)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, NewNotFoundError(fmt.Sprintf("snapshot version %d not found", version))
	}
	if s.cache != nil {
		s.cache.Put(ctx, CloneSnapshot(snap))
	}
	return snap, nil
}

func (s *PublishService) ListVersions(ctx context.Context, moduleID string) ([]*PublishedSnapshot, error) {
	m, err := s.core.store.GetModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, NewNotFoundError("module not found")
	}
	return s.core.store.ListSnapshots(ctx, moduleID)
}

// Graph loads a snapshot (version 0 means latest) with its navigation graph.
func (s *PublishService) Graph(ctx context.Context, moduleID string, version int) (*SnapshotDocument, *Graph, error) {
	var snap *PublishedSnapshot
	var err error
	if version == 0 {
		snap, err = s.GetLatest(ctx, moduleID)
	} else {
		snap, err = s.GetVersion(ctx, moduleID, version)
	}
	if err != nil {
		return nil, nil, err
	}
	doc, err := snap.Document()
	if err != nil {
		return nil, nil, err
	}
	return doc, BuildGraph(doc), nil
}

// Prune deletes all but the newest keep snapshots of the module and returns
// the removed versions.
func (s *PublishService) Prune(ctx context.Context, moduleID string, keep int) ([]int, error) {
	if keep < 1 {
		return nil, NewFieldError("module", moduleID, "keep", "must keep at least one snapshot")
	}
	unlock := s.core.locks.lock(moduleID)
	defer unlock()
	return s.prune(ctx, moduleID, keep)
}

func (s *PublishService) prune(ctx context.Context, moduleID string, keep int) ([]int, error) {
	removed := []int{}
	err := s.core.store.Atomic(ctx, func(tx Tx) error {
		m, err := tx.GetModule(ctx, moduleID)
		if err != nil {
			return err
		}
		if m == nil {
			return NewNotFoundError("module not found")
		}
		snaps, err := tx.ListSnapshots(ctx, moduleID)
		if err != nil {
			return err
		}
		if len(snaps) <= keep {
			return nil
		}
		for _, snap := range snaps[:len(snaps)-keep] {
			if err := tx.DeleteSnapshot(ctx, moduleID, snap.Version); err != nil {
				return err
			}
			removed = append(removed, snap.Version)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.log.Info("snapshots pruned", "module_id", moduleID, "versions", removed)
		s.core.events.Emit(Event{Kind: EventSnapshotsPruned, ModuleID: moduleID})
	}
	return removed, nil
}

// Catalog lists the latest snapshot of every published module. A non-empty
// lang keeps modules whose language matches it or shares its primary subtag.
func (s *PublishService) Catalog(ctx context.Context, lang string) ([]CatalogEntry, error) {
	snaps, err := s.core.store.ListLatestSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	out := []CatalogEntry{}
	for _, snap := range snaps {
		doc, err := snap.Document()
		if err != nil {
			s.log.Error("catalog decode", "module_id", snap.ModuleID, "version", snap.Version, "error", err)
			continue
		}
		if lang != "" && !sameLanguage(doc.Language, lang) {
			continue
		}
		out = append(out, CatalogEntry{
			ModuleID:             doc.ModuleID,
			Code:                 doc.Code,
			Title:                doc.Title,
			Description:          doc.Description,
			Version:              doc.Version,
			Mode:                 doc.Mode,
			EstimatedDurationMin: doc.EstimatedDurationMin,
			Language:             doc.Language,
			Icon:                 doc.Icon,
			Tags:                 doc.Tags,
			ThumbnailURL:         doc.ThumbnailURL,
			TaskCount:            len(doc.Tasks),
			StepCount:            len(doc.Steps),
			PublishedAt:          doc.PublishedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return TitleKey(out[i].Title) < TitleKey(out[j].Title)
	})
	return out, nil
}

func sameLanguage(have, want string) bool {
	have, want = strings.ToLower(have), strings.ToLower(want)
	if have == want {
		return true
	}
	primary := func(s string) string {
		if i := strings.IndexAny(s, "-_"); i >= 0 {
			return s[:i]
		}
		return s
	}
	return primary(have) == primary(want)
}
