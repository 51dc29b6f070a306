package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/soaringjerry/Praxis/internal/logger"
)

const defaultAssetMaxBytes int64 = 104857600

// SnapshotCache holds immutable snapshot versions for the runtime read path.
type SnapshotCache interface {
	Get(ctx context.Context, moduleID string, version int) (*PublishedSnapshot, bool)
	Put(ctx context.Context, snap *PublishedSnapshot)
	Forget(ctx context.Context, moduleID string)
}

type Options struct {
	// Strict turns question steps without choices and dangling branch
	// targets into publish errors instead of warnings.
	Strict        bool
	AssetBaseURL  string
	AssetMaxBytes int64
	// KeepPublished prunes older snapshots after each publish when > 0.
	KeepPublished int
	Cache         SnapshotCache
	Notifier      *Notifier
	Log           *logger.Logger
}

type core struct {
	store  Store
	locks  *moduleLocks
	events *Notifier
	log    *logger.Logger
	now    func() time.Time
	opts   Options
}

// Services bundles the authoring and publishing services over one store.
type Services struct {
	Assets  *AssetService
	Modules *ModuleService
	Tasks   *TaskService
	Steps   *StepService
	Publish *PublishService
	Events  *Notifier

	core *core
}

func New(store Store, opts Options) *Services {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Notifier == nil {
		opts.Notifier = NewNotifier()
	}
	if opts.AssetMaxBytes <= 0 {
		opts.AssetMaxBytes = defaultAssetMaxBytes
	}
	if opts.AssetBaseURL == "" {
		opts.AssetBaseURL = "/media"
	}
	c := &core{
		store:  store,
		locks:  newModuleLocks(),
		events: opts.Notifier,
		log:    opts.Log,
		now:    func() time.Time { return time.Now().UTC() },
		opts:   opts,
	}
	return &Services{
		Assets:  &AssetService{core: c, log: c.log.With("service", "AssetService")},
		Modules: &ModuleService{core: c, log: c.log.With("service", "ModuleService")},
		Tasks:   &TaskService{core: c, log: c.log.With("service", "TaskService")},
		Steps:   &StepService{core: c, log: c.log.With("service", "StepService")},
		Publish: newPublishService(c),
		Events:  c.events,
		core:    c,
	}
}

// SetClock replaces the time source of every service.
func (s *Services) SetClock(now func() time.Time) { s.core.now = now }

func (s *Services) Close() { s.Publish.Close() }

func newID() string { return uuid.NewString() }
