package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/soaringjerry/Praxis/internal/api"
	"github.com/soaringjerry/Praxis/internal/services"
)

// autocommitStore commits every write on its own and lets transactions
// interleave, the way statements do under READ COMMITTED. hold, when set, is
// called before the named operation runs inside a transaction.
type autocommitStore struct {
	*api.MemoryStore
	hold func(op, id string)
}

func (s *autocommitStore) Atomic(ctx context.Context, fn func(tx services.Tx) error) error {
	return fn(&autocommitTx{Reader: s.MemoryStore, store: s})
}

type autocommitTx struct {
	services.Reader
	store *autocommitStore
}

func (tx *autocommitTx) before(op, id string) {
	if tx.store.hold != nil {
		tx.store.hold(op, id)
	}
}

func (tx *autocommitTx) write(ctx context.Context, fn func(services.Tx) error) error {
	return tx.store.MemoryStore.Atomic(ctx, fn)
}

func (tx *autocommitTx) LatestVersion(ctx context.Context, moduleID string) (int, error) {
	tx.before("latest_version", moduleID)
	return tx.store.MemoryStore.LatestVersion(ctx, moduleID)
}

func (tx *autocommitTx) InsertModule(ctx context.Context, m *services.Module) error {
	return tx.write(ctx, func(w services.Tx) error { return w.InsertModule(ctx, m) })
}

func (tx *autocommitTx) UpdateModule(ctx context.Context, m *services.Module) error {
	return tx.write(ctx, func(w services.Tx) error { return w.UpdateModule(ctx, m) })
}

func (tx *autocommitTx) DeleteModule(ctx context.Context, id string) error {
	return tx.write(ctx, func(w services.Tx) error { return w.DeleteModule(ctx, id) })
}

func (tx *autocommitTx) InsertTask(ctx context.Context, t *services.Task) error {
	return tx.write(ctx, func(w services.Tx) error { return w.InsertTask(ctx, t) })
}

func (tx *autocommitTx) UpdateTask(ctx context.Context, t *services.Task) error {
	return tx.write(ctx, func(w services.Tx) error { return w.UpdateTask(ctx, t) })
}

func (tx *autocommitTx) DeleteTask(ctx context.Context, id string) error {
	return tx.write(ctx, func(w services.Tx) error { return w.DeleteTask(ctx, id) })
}

func (tx *autocommitTx) InsertStep(ctx context.Context, st *services.Step) error {
	return tx.write(ctx, func(w services.Tx) error { return w.InsertStep(ctx, st) })
}

func (tx *autocommitTx) UpdateStep(ctx context.Context, st *services.Step) error {
	tx.before("update_step", st.ID)
	return tx.write(ctx, func(w services.Tx) error { return w.UpdateStep(ctx, st) })
}

func (tx *autocommitTx) DeleteStep(ctx context.Context, id string) error {
	return tx.write(ctx, func(w services.Tx) error { return w.DeleteStep(ctx, id) })
}

func (tx *autocommitTx) InsertAsset(ctx context.Context, a *services.Asset) error {
	return tx.write(ctx, func(w services.Tx) error { return w.InsertAsset(ctx, a) })
}

func (tx *autocommitTx) DeleteAsset(ctx context.Context, id string) error {
	return tx.write(ctx, func(w services.Tx) error { return w.DeleteAsset(ctx, id) })
}

func (tx *autocommitTx) InsertSnapshot(ctx context.Context, p *services.PublishedSnapshot) error {
	return tx.write(ctx, func(w services.Tx) error { return w.InsertSnapshot(ctx, p) })
}

func (tx *autocommitTx) DeleteSnapshot(ctx context.Context, moduleID string, version int) error {
	return tx.write(ctx, func(w services.Tx) error { return w.DeleteSnapshot(ctx, moduleID, version) })
}

// gate pauses the first matching operation until release is called.
type gate struct {
	op, id  string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGate(op, id string) *gate {
	return &gate{op: op, id: id, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) hold(op, id string) {
	if op != g.op || id != g.id {
		return
	}
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
}

func newAutocommitServices(t *testing.T) (*services.Services, *autocommitStore) {
	t.Helper()
	store := &autocommitStore{MemoryStore: api.NewMemoryStore()}
	svc := services.New(store, services.Options{})
	t.Cleanup(svc.Close)
	return svc, store
}

func waitDone(t *testing.T, done <-chan error, what string) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not finish", what)
		return nil
	}
}

func TestAssetDeleteWaitsForStepEdit(t *testing.T) {
	svc, store := newAutocommitServices(t)
	ctx := context.Background()

	image, err := svc.Assets.Register(ctx, services.AssetInput{Filename: "valve.png", Type: services.AssetImage})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	m := mustModule(t, svc, "Valve Inspection")
	task := mustTask(t, svc, m.ID, "Inspect")
	st := mustStep(t, svc, task.ID, "")
	if _, err := svc.Steps.Patch(ctx, st.ID, services.StepPatch{
		Media: services.Some(&services.Media{Type: services.MediaImage, AssetID: image.ID}),
	}); err != nil {
		t.Fatalf("attach media: %v", err)
	}

	g := newGate("update_step", st.ID)
	store.hold = g.hold
	patched := make(chan error, 1)
	go func() {
		_, err := svc.Steps.Patch(ctx, st.ID, services.StepPatch{Title: services.Some("Check the valve")})
		patched <- err
	}()
	<-g.entered

	deleted := make(chan error, 1)
	go func() {
		_, err := svc.Assets.Delete(ctx, image.ID)
		deleted <- err
	}()
	select {
	case err := <-deleted:
		t.Fatalf("asset delete finished during a step edit: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(g.release)

	if err := waitDone(t, patched, "patch"); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := waitDone(t, deleted, "asset delete"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := svc.Steps.Get(ctx, st.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Check the valve" {
		t.Fatalf("title = %q", got.Title)
	}
	if got.Media != nil {
		t.Fatalf("step still references deleted asset: %+v", got.Media)
	}
}

func TestPublishSeesOneVersionOfTheModule(t *testing.T) {
	svc, store := newAutocommitServices(t)
	ctx := context.Background()

	m := mustModule(t, svc, "Ladder Safety")
	task := mustTask(t, svc, m.ID, "Climb")
	st := mustStep(t, svc, task.ID, "Face the ladder")

	g := newGate("latest_version", m.ID)
	store.hold = g.hold
	published := make(chan error, 1)
	var res *services.PublishResult
	go func() {
		var err error
		res, err = svc.Publish.Publish(ctx, m.ID)
		published <- err
	}()
	<-g.entered

	patched := make(chan error, 1)
	go func() {
		_, err := svc.Steps.Patch(ctx, st.ID, services.StepPatch{Title: services.Some("Three points of contact")})
		patched <- err
	}()
	select {
	case err := <-patched:
		t.Fatalf("step edit finished during publish: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(g.release)

	if err := waitDone(t, published, "publish"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := waitDone(t, patched, "patch"); err != nil {
		t.Fatalf("patch: %v", err)
	}
	doc, err := res.Snapshot.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if len(doc.Steps) != 1 || doc.Steps[0].Title != "Face the ladder" {
		t.Fatalf("snapshot steps = %+v", doc.Steps)
	}
	got, _ := svc.Steps.Get(ctx, st.ID)
	if got.Title != "Three points of contact" {
		t.Fatalf("title after publish = %q", got.Title)
	}
}
