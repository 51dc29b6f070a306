package db_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/soaringjerry/Praxis/internal/db"
	"github.com/soaringjerry/Praxis/internal/services"
)

func newStore(t *testing.T) *db.GormStore {
	t.Helper()
	gdb, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "praxis.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	if err := db.RunMigrations(gdb, ""); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := db.NewGormStore(gdb, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return store
}

func newServices(t *testing.T, store services.Store) *services.Services {
	t.Helper()
	svc := services.New(store, services.Options{})
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	svc.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	t.Cleanup(svc.Close)
	return svc
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	gdb, err := db.Open("", filepath.Join(t.TempDir(), "again.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close(gdb)
	for i := 0; i < 2; i++ {
		if err := db.RunMigrations(gdb, ""); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}
}

func TestRunMigrationsPrefersDirectory(t *testing.T) {
	dir := t.TempDir()
	sql := "-- extra lookup\nCREATE INDEX IF NOT EXISTS idx_assets_mime ON assets (mime_type);\n"
	if err := os.WriteFile(filepath.Join(dir, "0001_extra.sql"), []byte(sql), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	gdb, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "dir.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close(gdb)
	if err := db.RunMigrations(gdb, dir); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var n int64
	if err := gdb.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", "idx_assets_mime").Scan(&n).Error; err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if n != 1 {
		t.Fatalf("index from the directory was not created")
	}
	// the embedded files are skipped when a directory is given
	if err := gdb.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", "idx_snapshots_module_latest").Scan(&n).Error; err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if n != 0 {
		t.Fatalf("embedded migration ran despite a directory override")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := db.Open("oracle", "x", nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestSQLiteDSN(t *testing.T) {
	got := db.SQLiteDSN("/data/praxis.db")
	if got != "file:/data/praxis.db?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL&_synchronous=NORMAL" {
		t.Fatalf("dsn = %s", got)
	}
	if db.SQLiteDSN("file:x.db?mode=memory") != "file:x.db?mode=memory" {
		t.Fatalf("explicit query string must be kept")
	}
}

func TestStepRoundTripKeepsChildren(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t, newStore(t))

	model, err := svc.Assets.Register(ctx, services.AssetInput{
		Filename: "extinguisher.glb",
		Type:     services.AssetModel,
		Metadata: map[string]any{"animations": []any{map[string]any{"name": "Spray", "duration": 2.5}}},
	})
	if err != nil {
		t.Fatalf("register model: %v", err)
	}
	image, err := svc.Assets.Register(ctx, services.AssetInput{Filename: "sign.png", Type: services.AssetImage})
	if err != nil {
		t.Fatalf("register image: %v", err)
	}

	m, err := svc.Modules.Create(ctx, services.ModuleInput{Title: "Fire Safety", Tags: []string{"safety", "Fire"}})
	if err != nil {
		t.Fatalf("module: %v", err)
	}
	task, err := svc.Tasks.Create(ctx, services.TaskInput{ModuleID: m.ID, Title: "Setup"})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	q, err := svc.Steps.Create(ctx, task.ID, "Ready?")
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	next, err := svc.Steps.Create(ctx, task.ID, "")
	if err != nil {
		t.Fatalf("step: %v", err)
	}

	target := next.ID
	_, err = svc.Steps.Patch(ctx, q.ID, services.StepPatch{
		InstructionType: services.Some(services.InstructionQuestion),
		Media:           services.Some(&services.Media{Type: services.MediaImage, AssetID: image.ID}),
		Models: services.Some([]services.ModelPlacement{{
			AssetID:       model.ID,
			AnimationName: "Spray",
			AnimationLoop: true,
			Position:      services.Vec3{X: 1, Y: 0.5, Z: -2},
			Rotation:      services.Vec3{Y: 90},
			Scale:         1.5,
		}}),
		Interaction: &services.InteractionPatch{Hand: services.Some(services.HandRight), AttemptsAllowed: services.Some(3)},
		Choices: services.Some([]services.Choice{
			{Label: "Yes", GoToStep: &target},
			{Label: "No"},
		}),
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}

	got, err := svc.Steps.Get(ctx, q.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Media == nil || got.Media.AssetID != image.ID {
		t.Fatalf("media = %+v", got.Media)
	}
	if len(got.Models) != 1 || got.Models[0].Position.Z != -2 || got.Models[0].Rotation.Y != 90 || got.Models[0].Scale != 1.5 || !got.Models[0].AnimationLoop {
		t.Fatalf("models = %+v", got.Models)
	}
	if got.Interaction.Hand != services.HandRight || got.Interaction.AttemptsAllowed != 3 {
		t.Fatalf("interaction = %+v", got.Interaction)
	}
	if len(got.Choices) != 2 || got.Choices[0].Label != "Yes" || got.Choices[0].GoToStep == nil || *got.Choices[0].GoToStep != next.ID || got.Choices[1].GoToStep != nil {
		t.Fatalf("choices = %+v", got.Choices)
	}
	if got.Choices[0].ID == "" {
		t.Fatalf("choice id not kept")
	}

	mod, err := svc.Modules.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("module get: %v", err)
	}
	if len(mod.Tags) != 2 || mod.Tags[0] != "Fire" || mod.Tags[1] != "safety" {
		t.Fatalf("tags = %v", mod.Tags)
	}

	a, err := svc.Assets.Get(ctx, model.ID)
	if err != nil {
		t.Fatalf("asset get: %v", err)
	}
	if clips := a.Animations(); len(clips) != 1 || clips[0].Name != "Spray" {
		t.Fatalf("animations = %+v", clips)
	}

	res, err := svc.Assets.Delete(ctx, model.ID)
	if err != nil {
		t.Fatalf("delete asset: %v", err)
	}
	if len(res.ClearedSteps) != 1 || res.ClearedSteps[0] != q.ID {
		t.Fatalf("cleared = %+v", res.ClearedSteps)
	}
	got, _ = svc.Steps.Get(ctx, q.ID)
	if len(got.Models) != 1 || got.Models[0].AssetID != "" {
		t.Fatalf("placement not cleared: %+v", got.Models)
	}
}

func TestStepDeleteRenumbersAndClearsTargets(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t, newStore(t))
	m, _ := svc.Modules.Create(ctx, services.ModuleInput{Title: "Crane"})
	task, _ := svc.Tasks.Create(ctx, services.TaskInput{ModuleID: m.ID, Title: "Rigging"})
	var ids []string
	for i := 0; i < 4; i++ {
		st, err := svc.Steps.Create(ctx, task.ID, "")
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		ids = append(ids, st.ID)
	}
	target := ids[1]
	if _, err := svc.Steps.Patch(ctx, ids[0], services.StepPatch{
		InstructionType: services.Some(services.InstructionQuestion),
		Choices:         services.Some([]services.Choice{{Label: "Go", GoToStep: &target}}),
	}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if _, err := svc.Steps.Delete(ctx, ids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	steps, err := svc.Steps.ListByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var titles []string
	for i, st := range steps {
		if st.OrderIndex != i+1 {
			t.Fatalf("order %d = %d", i, st.OrderIndex)
		}
		titles = append(titles, st.Title)
	}
	want := []string{"Step 1.1", "Step 1.2", "Step 1.3"}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("titles = %v", titles)
		}
	}
	if steps[0].Choices[0].GoToStep != nil {
		t.Fatalf("dangling target kept: %v", *steps[0].Choices[0].GoToStep)
	}

	reordered, err := svc.Steps.Reorder(ctx, task.ID, []string{steps[2].ID, steps[0].ID, steps[1].ID})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if reordered[0].ID != steps[2].ID || reordered[0].OrderIndex != 1 {
		t.Fatalf("reorder result = %+v", reordered[0])
	}
}

func TestPublishedPayloadIsByteStable(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newServices(t, store)
	m, _ := svc.Modules.Create(ctx, services.ModuleInput{Title: "Forklift"})
	task, _ := svc.Tasks.Create(ctx, services.TaskInput{ModuleID: m.ID, Title: "Drive"})
	if _, err := svc.Steps.Create(ctx, task.ID, "Check mirrors"); err != nil {
		t.Fatalf("step: %v", err)
	}
	first, err := svc.Publish.Publish(ctx, m.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := svc.Tasks.Update(ctx, task.ID, services.TaskPatch{Title: services.Some("Drive carefully")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	second, err := svc.Publish.Publish(ctx, m.ID)
	if err != nil {
		t.Fatalf("publish 2: %v", err)
	}
	if second.Snapshot.Version != 2 {
		t.Fatalf("version = %d", second.Snapshot.Version)
	}

	v1, err := store.GetSnapshot(ctx, m.ID, 1)
	if err != nil || v1 == nil {
		t.Fatalf("get v1: %v", err)
	}
	if !bytes.Equal(v1.Payload, first.Snapshot.Payload) {
		t.Fatalf("v1 payload changed after a later publish")
	}
	latest, err := store.ListLatestSnapshots(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 1 || latest[0].Version != 2 {
		t.Fatalf("latest = %+v", latest)
	}
	if n, _ := store.LatestVersion(ctx, m.ID); n != 2 {
		t.Fatalf("latest version = %d", n)
	}
}

func TestConstraintErrorsAreTranslated(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC()
	insert := func(id, title, code string) error {
		return store.Atomic(ctx, func(tx services.Tx) error {
			return tx.InsertModule(ctx, &services.Module{
				ID: id, Title: title, Code: code, Mode: services.ModeVR, Language: "en",
				Status: services.StatusDraft, CreatedAt: now, UpdatedAt: now,
			})
		})
	}
	if err := insert("m1", "Welding", "WELDING"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var ce *services.ConstraintError
	if err := insert("m2", "  WELDING ", "OTHER"); !errors.As(err, &ce) || ce.Constraint != services.ConstraintModuleTitle {
		t.Fatalf("title: %v", err)
	}
	if err := insert("m3", "Brazing", "WELDING"); !errors.As(err, &ce) || ce.Constraint != services.ConstraintModuleCode {
		t.Fatalf("code: %v", err)
	}

	snap := func(id string) error {
		return store.Atomic(ctx, func(tx services.Tx) error {
			return tx.InsertSnapshot(ctx, &services.PublishedSnapshot{
				ID: id, ModuleID: "m1", Version: 1, SchemaVersion: 1, Payload: []byte(`{}`), PublishedAt: now,
			})
		})
	}
	if err := snap("p1"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := snap("p2"); !errors.As(err, &ce) || ce.Constraint != services.ConstraintSnapshotVersion {
		t.Fatalf("version: %v", err)
	}
}

func TestAtomicRollsBackAndReturnsCallbackError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC()
	boom := errors.New("boom")
	err := store.Atomic(ctx, func(tx services.Tx) error {
		if err := tx.InsertTask(ctx, &services.Task{ID: "t1", ModuleID: "m", OrderIndex: 1, Title: "A", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("err = %v, want the callback error unchanged", err)
	}
	if got, err := store.GetTask(ctx, "t1"); err != nil || got != nil {
		t.Fatalf("rolled back task visible: %+v, %v", got, err)
	}
}

func TestUpdateMissingRowFails(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	err := store.Atomic(ctx, func(tx services.Tx) error {
		return tx.UpdateTask(ctx, &services.Task{ID: "nope", ModuleID: "m", OrderIndex: 1, Title: "x"})
	})
	if err == nil {
		t.Fatalf("expected error updating a missing task")
	}
}

func TestModuleDeleteRemovesEverything(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newServices(t, store)
	m, _ := svc.Modules.Create(ctx, services.ModuleInput{Title: "Ladder"})
	task, _ := svc.Tasks.Create(ctx, services.TaskInput{ModuleID: m.ID, Title: "Climb"})
	st, _ := svc.Steps.Create(ctx, task.ID, "Three points of contact")
	if _, err := svc.Publish.Publish(ctx, m.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.Modules.Delete(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := store.GetStep(ctx, st.ID); got != nil {
		t.Fatalf("step survived module delete")
	}
	if got, _ := store.GetTask(ctx, task.ID); got != nil {
		t.Fatalf("task survived module delete")
	}
	if list, _ := store.ListSnapshots(ctx, m.ID); len(list) != 0 {
		t.Fatalf("snapshots survived module delete: %d", len(list))
	}
}
