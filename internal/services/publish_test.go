package services_test

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/soaringjerry/Praxis/internal/services"
)

func TestPublishValidationGate(t *testing.T) {
	svc, _ := newServices(t, services.Options{})
	ctx := context.Background()
	m := mustModule(t, svc, "Fire Safety")
	setup := mustTask(t, svc, m.ID, "Setup")
	mustStep(t, svc, setup.ID, "")
	mustStep(t, svc, setup.ID, "")
	cleanup := mustTask(t, svc, m.ID, "Cleanup")

	_, err := svc.Publish.Publish(ctx, m.ID)
	se, ok := services.AsServiceError(err)
	if !ok || se.Code != services.ErrorInvalid {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(se.Details) != 1 || se.Details[0].ID != cleanup.ID || se.Details[0].Entity != "task" {
		t.Fatalf("details = %+v", se.Details)
	}
	if !bytes.Contains([]byte(se.Message), []byte("Cleanup")) {
		t.Fatalf("message does not name the task: %q", se.Message)
	}
	if _, err := svc.Publish.GetLatest(ctx, m.ID); !services.IsNotFound(err) {
		t.Fatalf("failed publish left a snapshot: %v", err)
	}

	mustStep(t, svc, cleanup.ID, "")
	res, err := svc.Publish.Publish(ctx, m.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Snapshot.Version != 1 {
		t.Fatalf("version = %d", res.Snapshot.Version)
	}
	mod, _ := svc.Modules.Get(ctx, m.ID)
	if mod.Status != services.StatusPublished || mod.LatestVersion != 1 {
		t.Fatalf("module after publish: %+v", mod)
	}

	empty := mustModule(t, svc, "Empty")
	if _, err := svc.Publish.Publish(ctx, empty.ID); !services.IsInvalid(err) {
		t.Fatalf("module without tasks should be invalid, got %v", err)
	}
}

func TestPublishedSnapshotIsImmutable(t *testing.T) {
	svc, _ := newServices(t, services.Options{})
	ctx := context.Background()
	m := mustModule(t, svc, "Immutable")
	task := mustTask(t, svc, m.ID, "T")
	st := mustStep(t, svc, task.ID, "Before")

	res, err := svc.Publish.Publish(ctx, m.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	original := append([]byte(nil), res.Snapshot.Payload...)

	if _, err := svc.Steps.Patch(ctx, st.ID, services.StepPatch{Title: services.Some("After")}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	mustStep(t, svc, task.ID, "")
	if _, err := svc.Tasks.Update(ctx, task.ID, services.TaskPatch{Title: services.Some("Renamed")}); err != nil {
		t.Fatalf("update task: %v", err)
	}

	again, err := svc.Publish.GetVersion(ctx, m.ID, 1)
	if err != nil {
		t.Fatalf("get v1: %v", err)
	}
	if !bytes.Equal(again.Payload, original) {
		t.Fatalf("snapshot v1 changed after draft edits")
	}
	again.Payload[0] = 'X'
	third, _ := svc.Publish.GetVersion(ctx, m.ID, 1)
	if !bytes.Equal(third.Payload, original) {
		t.Fatalf("caller mutation leaked into the stored snapshot")
	}
	doc, err := third.Document()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Steps[0].Title != "Before" || len(doc.Steps) != 1 {
		t.Fatalf("snapshot content drifted: %+v", doc.Steps)
	}
}

func TestPublishVersionsIncrease(t *testing.T) {
	svc, _ := newServices(t, services.Options{})
	ctx := context.Background()
	m := mustModule(t, svc, "Monotonic")
	task := mustTask(t, svc, m.ID, "T")
	mustStep(t, svc, task.ID, "")

	const n = 8
	var wg sync.WaitGroup
	versions := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Publish.Publish(ctx, m.ID)
			if err != nil {
				t.Errorf("publish: %v", err)
				return
			}
			versions[i] = res.Snapshot.Version
		}(i)
	}
	wg.Wait()
	seen := map[int]bool{}
	for _, v := range versions {
		if v < 1 || v > n || seen[v] {
			t.Fatalf("versions not unique 1..%d: %v", n, versions)
		}
		seen[v] = true
	}
	latest, err := svc.Publish.GetLatest(ctx, m.ID)
	if err != nil || latest.Version != n {
		t.Fatalf("latest = %v, %v", latest, err)
	}
	list, _ := svc.Publish.ListVersions(ctx, m.ID)
	for i, snap := range list {
		if snap.Version != i+1 {
			t.Fatalf("list not ascending: %d at %d", snap.Version, i)
		}
	}
}

func TestPublishDocumentShape(t *testing.T) {
	svc, _ := newServices(t, services.Options{AssetBaseURL: "https://cdn.example/media/"})
	ctx := context.Background()
	model, _ := svc.Assets.Register(ctx, services.AssetInput{Filename: "Valve.GLB", Type: services.AssetModel})
	m := mustModule(t, svc, "Shape")
	t1 := mustTask(t, svc, m.ID, "Prepare")
	t2 := mustTask(t, svc, m.ID, "Act")
	a := mustStep(t, svc, t1.ID, "")
	b := mustStep(t, svc, t2.ID, "")
	if _, err := svc.Steps.Patch(ctx, a.ID, services.StepPatch{
		InstructionType: services.Some(services.InstructionQuestion),
		Models:          services.Some([]services.ModelPlacement{{AssetID: model.ID, Scale: 1.5}}),
		Choices:         services.Some([]services.Choice{{Label: "Go", GoToStep: ptr(b.ID)}}),
	}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	res, err := svc.Publish.Publish(ctx, m.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	doc := res.Document
	if doc.Tasks[1].DisplayTitle != "Task 2: Act" || doc.SchemaVersion != services.SnapshotSchemaVersion {
		t.Fatalf("task header = %+v", doc.Tasks[1])
	}
	if doc.Steps[0].Seq != 1 || doc.Steps[1].Seq != 2 {
		t.Fatalf("seq = %d,%d", doc.Steps[0].Seq, doc.Steps[1].Seq)
	}
	wantURL := "https://cdn.example/media/model/" + model.ID + "/original.glb"
	if doc.Steps[0].Models[0].URL != wantURL {
		t.Fatalf("model url = %q", doc.Steps[0].Models[0].URL)
	}
	if c := doc.Steps[0].Choices[0]; c.GoToSeq != 2 || *c.GoToStep != b.ID {
		t.Fatalf("choice = %+v", c)
	}
}

func TestPublishBranchingFallthrough(t *testing.T) {
	svc, _ := newServices(t, services.Options{})
	ctx := context.Background()
	m := mustModule(t, svc, "Branching")
	task := mustTask(t, svc, m.ID, "T")
	q := mustStep(t, svc, task.ID, "Is the area clear?")
	next := mustStep(t, svc, task.ID, "")
	for i := 0; i < 4; i++ {
		mustStep(t, svc, task.ID, "")
	}
	step7 := mustStep(t, svc, task.ID, "Evacuate")

	if _, err := svc.Steps.Patch(ctx, q.ID, services.StepPatch{
		InstructionType: services.Some(services.InstructionQuestion),
		Choices: services.Some([]services.Choice{
			{Label: "Yes", GoToStep: ptr(step7.ID)},
			{Label: "No", GoToStep: nil},
		}),
	}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if _, err := svc.Publish.Publish(ctx, m.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	_, g, err := svc.Publish.Graph(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	yes, err := g.Resolve(q.ID, "Yes")
	if err != nil || yes.StepID != step7.ID {
		t.Fatalf("Yes -> %v, %v", yes, err)
	}
	no, err := g.Resolve(q.ID, "No")
	if err != nil || no.StepID != next.ID {
		t.Fatalf("No -> %v, %v", no, err)
	}
	end, err := g.Resolve(step7.ID, "")
	if err != nil || !end.Finish {
		t.Fatalf("last step -> %v, %v", end, err)
	}
}

func TestPublishStrictness(t *testing.T) {
	build := func(t *testing.T, strict bool) (*services.Services, string) {
		svc, _ := newServices(t, services.Options{Strict: strict})
		m := mustModule(t, svc, "Strictness")
		task := mustTask(t, svc, m.ID, "T")
		st := mustStep(t, svc, task.ID, "")
		if _, err := svc.Steps.Patch(context.Background(), st.ID, services.StepPatch{
			InstructionType: services.Some(services.InstructionQuestion),
		}); err != nil {
			t.Fatalf("patch: %v", err)
		}
		return svc, m.ID
	}

	svc, id := build(t, false)
	res, err := svc.Publish.Publish(context.Background(), id)
	if err != nil {
		t.Fatalf("lenient publish: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Code != services.WarningQuestionWithoutChoices {
		t.Fatalf("warnings = %+v", res.Warnings)
	}

	svc, id = build(t, true)
	if _, err := svc.Publish.Publish(context.Background(), id); !services.IsInvalid(err) {
		t.Fatalf("strict publish should fail, got %v", err)
	}
	report, err := svc.Publish.Validate(context.Background(), id)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Valid || len(report.Errors) != 1 || report.Errors[0].Field != "choices" {
		t.Fatalf("report = %+v", report)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	svc, _ := newServices(t, services.Options{})
	ctx := context.Background()
	m := mustModule(t, svc, "Prune")
	task := mustTask(t, svc, m.ID, "T")
	mustStep(t, svc, task.ID, "")
	for i := 0; i < 4; i++ {
		if _, err := svc.Publish.Publish(ctx, m.ID); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if _, err := svc.Publish.Prune(ctx, m.ID, 0); !services.IsInvalid(err) {
		t.Fatalf("keep 0 should be invalid, got %v", err)
	}
	removed, err := svc.Publish.Prune(ctx, m.ID, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 2 || removed[0] != 1 || removed[1] != 2 {
		t.Fatalf("removed = %v", removed)
	}
	if _, err := svc.Publish.GetVersion(ctx, m.ID, 1); !services.IsNotFound(err) {
		t.Fatalf("v1 should be gone: %v", err)
	}
	latest, _ := svc.Publish.GetLatest(ctx, m.ID)
	if latest.Version != 4 {
		t.Fatalf("latest = %d", latest.Version)
	}
	res, _ := svc.Publish.Publish(ctx, m.ID)
	if res.Snapshot.Version != 5 {
		t.Fatalf("version after prune = %d", res.Snapshot.Version)
	}
}

func TestCatalogFiltersLanguage(t *testing.T) {
	svc, _ := newServices(t, services.Options{})
	ctx := context.Background()
	for _, in := range []services.ModuleInput{
		{Title: "Zeta", Language: "en-GB"},
		{Title: "Alpha", Language: "en"},
		{Title: "Bravo", Language: "ja"},
		{Title: "Draft only", Language: "en"},
	} {
		m, err := svc.Modules.Create(ctx, in)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if in.Title == "Draft only" {
			continue
		}
		task := mustTask(t, svc, m.ID, "T")
		mustStep(t, svc, task.ID, "")
		if _, err := svc.Publish.Publish(ctx, m.ID); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	all, _ := svc.Publish.Catalog(ctx, "")
	if len(all) != 3 {
		t.Fatalf("catalog = %d entries", len(all))
	}
	en, _ := svc.Publish.Catalog(ctx, "en")
	if len(en) != 2 || en[0].Title != "Alpha" || en[1].Title != "Zeta" {
		t.Fatalf("en catalog = %+v", en)
	}
	if en[0].TaskCount != 1 || en[0].StepCount != 1 {
		t.Fatalf("counts = %d/%d", en[0].TaskCount, en[0].StepCount)
	}
}
