package services

import "context"

// Reader is the read side of a Store. Getters return (nil, nil) when the
// record does not exist. Lists are ordered: tasks and steps by order_index,
// snapshots by version ascending.
type Reader interface {
	GetModule(ctx context.Context, id string) (*Module, error)
	FindModuleByTitle(ctx context.Context, title string) (*Module, error)
	FindModuleByCode(ctx context.Context, code string) (*Module, error)
	ListModules(ctx context.Context) ([]*Module, error)

	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, moduleID string) ([]*Task, error)

	GetStep(ctx context.Context, id string) (*Step, error)
	ListSteps(ctx context.Context, taskID string) ([]*Step, error)
	ListModuleSteps(ctx context.Context, moduleID string) ([]*Step, error)
	ListStepsReferencingAsset(ctx context.Context, assetID string) ([]*Step, error)

	GetAsset(ctx context.Context, id string) (*Asset, error)
	ListAssets(ctx context.Context) ([]*Asset, error)

	GetSnapshot(ctx context.Context, moduleID string, version int) (*PublishedSnapshot, error)
	LatestVersion(ctx context.Context, moduleID string) (int, error)
	ListSnapshots(ctx context.Context, moduleID string) ([]*PublishedSnapshot, error)
	ListLatestSnapshots(ctx context.Context) ([]*PublishedSnapshot, error)
}

// Tx is a unit of work. Writes become visible to other readers only when the
// enclosing Atomic call returns nil.
type Tx interface {
	Reader

	InsertModule(ctx context.Context, m *Module) error
	UpdateModule(ctx context.Context, m *Module) error
	// DeleteModule removes the module with its tasks, steps and snapshots.
	DeleteModule(ctx context.Context, id string) error

	InsertTask(ctx context.Context, t *Task) error
	UpdateTask(ctx context.Context, t *Task) error
	// DeleteTask removes the task and its steps.
	DeleteTask(ctx context.Context, id string) error

	InsertStep(ctx context.Context, st *Step) error
	UpdateStep(ctx context.Context, st *Step) error
	DeleteStep(ctx context.Context, id string) error

	InsertAsset(ctx context.Context, a *Asset) error
	DeleteAsset(ctx context.Context, id string) error

	InsertSnapshot(ctx context.Context, p *PublishedSnapshot) error
	DeleteSnapshot(ctx context.Context, moduleID string, version int) error
}

type Store interface {
	Reader
	// Atomic runs fn in a transaction: either every write made through tx
	// commits or none does.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}
