package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/soaringjerry/Praxis/internal/logger"
	"github.com/soaringjerry/Praxis/internal/services"
)

// GormStore is the persistent services.Store. Each Atomic call runs in one
// database transaction.
type GormStore struct {
	gormView
	db  *gorm.DB
	log *logger.Logger

	// txOpts is set for Postgres, whose READ COMMITTED default would let a
	// transaction see rows committed between its own statements.
	txOpts []*sql.TxOptions
}

var _ services.Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB, log *logger.Logger) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &GormStore{gormView: gormView{db: db}, db: db, log: log.With("store", "GormStore")}
	if db.Dialector != nil && db.Dialector.Name() == DriverPostgres {
		s.txOpts = []*sql.TxOptions{{Isolation: sql.LevelRepeatableRead}}
	}
	return s, nil
}

func (s *GormStore) Atomic(ctx context.Context, fn func(tx services.Tx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&gormTx{gormView: gormView{db: tx}})
		return fnErr
	}, s.txOpts...)
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		s.log.Warn("transaction failed", "error", err)
		return translateError(err)
	}
	return nil
}

func errNotStored(kind, id string) error {
	return fmt.Errorf("gorm store: %s %s does not exist", kind, id)
}

// gormView implements services.Reader over a connection or a transaction.
type gormView struct {
	db *gorm.DB
}

func (v gormView) conn(ctx context.Context) *gorm.DB { return v.db.WithContext(ctx) }

func (v gormView) firstModule(ctx context.Context, query string, args ...any) (*services.Module, error) {
	var rec moduleRecord
	err := v.conn(ctx).Where(query, args...).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err)
	}
	return rec.toService()
}

func (v gormView) GetModule(ctx context.Context, id string) (*services.Module, error) {
	return v.firstModule(ctx, "id = ?", id)
}

func (v gormView) FindModuleByTitle(ctx context.Context, title string) (*services.Module, error) {
	return v.firstModule(ctx, "title_key = ?", services.TitleKey(title))
}

func (v gormView) FindModuleByCode(ctx context.Context, code string) (*services.Module, error) {
	return v.firstModule(ctx, "UPPER(code) = UPPER(?)", code)
}

func (v gormView) ListModules(ctx context.Context) ([]*services.Module, error) {
	var recs []moduleRecord
	if err := v.conn(ctx).Order("created_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]*services.Module, 0, len(recs))
	for i := range recs {
		m, err := recs[i].toService()
		if err != nil {
			return nil, fmt.Errorf("decode module %s: %w", recs[i].ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (v gormView) GetTask(ctx context.Context, id string) (*services.Task, error) {
	var rec taskRecord
	err := v.conn(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err)
	}
	return rec.toService(), nil
}

func (v gormView) ListTasks(ctx context.Context, moduleID string) ([]*services.Task, error) {
	var recs []taskRecord
	if err := v.conn(ctx).Where("module_id = ?", moduleID).Order("order_index ASC").Find(&recs).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]*services.Task, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toService())
	}
	return out, nil
}

// hydrateSteps loads the model placements and choices of recs and assembles
// the service values in the order of recs.
func (v gormView) hydrateSteps(ctx context.Context, recs []stepRecord) ([]*services.Step, error) {
	out := make([]*services.Step, 0, len(recs))
	if len(recs) == 0 {
		return out, nil
	}
	ids := make([]string, len(recs))
	for i := range recs {
		ids[i] = recs[i].ID
	}
	var models []stepModelRecord
	if err := v.conn(ctx).Where("step_id IN ?", ids).Order("step_id ASC, ordinal ASC").Find(&models).Error; err != nil {
		return nil, translateError(err)
	}
	var choices []choiceRecord
	if err := v.conn(ctx).Where("step_id IN ?", ids).Order("step_id ASC, order_index ASC").Find(&choices).Error; err != nil {
		return nil, translateError(err)
	}
	modelsByStep := map[string][]stepModelRecord{}
	for _, m := range models {
		modelsByStep[m.StepID] = append(modelsByStep[m.StepID], m)
	}
	choicesByStep := map[string][]choiceRecord{}
	for _, c := range choices {
		choicesByStep[c.StepID] = append(choicesByStep[c.StepID], c)
	}
	for i := range recs {
		out = append(out, recs[i].toService(modelsByStep[recs[i].ID], choicesByStep[recs[i].ID]))
	}
	return out, nil
}

func (v gormView) findSteps(ctx context.Context, q *gorm.DB) ([]*services.Step, error) {
	var recs []stepRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, translateError(err)
	}
	return v.hydrateSteps(ctx, recs)
}

func (v gormView) GetStep(ctx context.Context, id string) (*services.Step, error) {
	steps, err := v.findSteps(ctx, v.conn(ctx).Where("id = ?", id).Limit(1))
	if err != nil || len(steps) == 0 {
		return nil, err
	}
	return steps[0], nil
}

func (v gormView) ListSteps(ctx context.Context, taskID string) ([]*services.Step, error) {
	return v.findSteps(ctx, v.conn(ctx).Where("task_id = ?", taskID).Order("order_index ASC"))
}

// ListModuleSteps returns the module's steps in flattened document order.
func (v gormView) ListModuleSteps(ctx context.Context, moduleID string) ([]*services.Step, error) {
	q := v.conn(ctx).
		Model(&stepRecord{}).
		Select("steps.*").
		Joins("JOIN tasks ON tasks.id = steps.task_id").
		Where("steps.module_id = ?", moduleID).
		Order("tasks.order_index ASC, steps.order_index ASC")
	return v.findSteps(ctx, q)
}

func (v gormView) ListStepsReferencingAsset(ctx context.Context, assetID string) ([]*services.Step, error) {
	placed := v.conn(ctx).Model(&stepModelRecord{}).Select("step_id").Where("asset_id = ?", assetID)
	q := v.conn(ctx).
		Where("media_asset_id = ? OR id IN (?)", assetID, placed).
		Order("id ASC")
	return v.findSteps(ctx, q)
}

func (v gormView) GetAsset(ctx context.Context, id string) (*services.Asset, error) {
	var rec assetRecord
	err := v.conn(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err)
	}
	return rec.toService()
}

func (v gormView) ListAssets(ctx context.Context) ([]*services.Asset, error) {
	var recs []assetRecord
	if err := v.conn(ctx).Order("created_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]*services.Asset, 0, len(recs))
	for i := range recs {
		a, err := recs[i].toService()
		if err != nil {
			return nil, fmt.Errorf("decode asset %s: %w", recs[i].ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (v gormView) GetSnapshot(ctx context.Context, moduleID string, version int) (*services.PublishedSnapshot, error) {
	var rec snapshotRecord
	err := v.conn(ctx).Where("module_id = ? AND version = ?", moduleID, version).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err)
	}
	return rec.toService(), nil
}

func (v gormView) LatestVersion(ctx context.Context, moduleID string) (int, error) {
	var latest int
	err := v.conn(ctx).
		Model(&snapshotRecord{}).
		Select("COALESCE(MAX(version), 0)").
		Where("module_id = ?", moduleID).
		Scan(&latest).Error
	if err != nil {
		return 0, translateError(err)
	}
	return latest, nil
}

func (v gormView) ListSnapshots(ctx context.Context, moduleID string) ([]*services.PublishedSnapshot, error) {
	var recs []snapshotRecord
	if err := v.conn(ctx).Where("module_id = ?", moduleID).Order("version ASC").Find(&recs).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]*services.PublishedSnapshot, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toService())
	}
	return out, nil
}

func (v gormView) ListLatestSnapshots(ctx context.Context) ([]*services.PublishedSnapshot, error) {
	var recs []snapshotRecord
	err := v.conn(ctx).
		Joins("JOIN (SELECT module_id AS latest_module, MAX(version) AS latest_version FROM published_snapshots GROUP BY module_id) latest " +
			"ON latest.latest_module = published_snapshots.module_id AND latest.latest_version = published_snapshots.version").
		Order("published_snapshots.module_id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]*services.PublishedSnapshot, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toService())
	}
	return out, nil
}

type gormTx struct {
	gormView
}

// updateAll writes every column of rec over the row with the given id.
func (tx *gormTx) updateAll(ctx context.Context, model any, kind, id string, rec any) error {
	res := tx.conn(ctx).Model(model).Where("id = ?", id).Select("*").Updates(rec)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return errNotStored(kind, id)
	}
	return nil
}

func (tx *gormTx) InsertModule(ctx context.Context, m *services.Module) error {
	rec, err := toModuleRecord(m)
	if err != nil {
		return err
	}
	return translateError(tx.conn(ctx).Create(rec).Error)
}

func (tx *gormTx) UpdateModule(ctx context.Context, m *services.Module) error {
	rec, err := toModuleRecord(m)
	if err != nil {
		return err
	}
	return tx.updateAll(ctx, &moduleRecord{}, "module", m.ID, rec)
}

func (tx *gormTx) DeleteModule(ctx context.Context, id string) error {
	moduleSteps := tx.conn(ctx).Model(&stepRecord{}).Select("id").Where("module_id = ?", id)
	deletes := []struct {
		model any
		query string
		arg   any
	}{
		{&stepModelRecord{}, "step_id IN (?)", moduleSteps},
		{&choiceRecord{}, "step_id IN (?)", moduleSteps},
		{&stepRecord{}, "module_id = ?", id},
		{&taskRecord{}, "module_id = ?", id},
		{&snapshotRecord{}, "module_id = ?", id},
		{&moduleRecord{}, "id = ?", id},
	}
	for _, d := range deletes {
		if err := tx.conn(ctx).Where(d.query, d.arg).Delete(d.model).Error; err != nil {
			return translateError(err)
		}
	}
	return nil
}

func (tx *gormTx) InsertTask(ctx context.Context, t *services.Task) error {
	return translateError(tx.conn(ctx).Create(toTaskRecord(t)).Error)
}

func (tx *gormTx) UpdateTask(ctx context.Context, t *services.Task) error {
	return tx.updateAll(ctx, &taskRecord{}, "task", t.ID, toTaskRecord(t))
}

func (tx *gormTx) DeleteTask(ctx context.Context, id string) error {
	taskSteps := tx.conn(ctx).Model(&stepRecord{}).Select("id").Where("task_id = ?", id)
	if err := tx.conn(ctx).Where("step_id IN (?)", taskSteps).Delete(&stepModelRecord{}).Error; err != nil {
		return translateError(err)
	}
	if err := tx.conn(ctx).Where("step_id IN (?)", taskSteps).Delete(&choiceRecord{}).Error; err != nil {
		return translateError(err)
	}
	if err := tx.conn(ctx).Where("task_id = ?", id).Delete(&stepRecord{}).Error; err != nil {
		return translateError(err)
	}
	return translateError(tx.conn(ctx).Where("id = ?", id).Delete(&taskRecord{}).Error)
}

func (tx *gormTx) writeStepChildren(ctx context.Context, models []stepModelRecord, choices []choiceRecord) error {
	if len(models) > 0 {
		if err := tx.conn(ctx).Create(&models).Error; err != nil {
			return translateError(err)
		}
	}
	if len(choices) > 0 {
		if err := tx.conn(ctx).Create(&choices).Error; err != nil {
			return translateError(err)
		}
	}
	return nil
}

func (tx *gormTx) deleteStepChildren(ctx context.Context, stepID string) error {
	if err := tx.conn(ctx).Where("step_id = ?", stepID).Delete(&stepModelRecord{}).Error; err != nil {
		return translateError(err)
	}
	return translateError(tx.conn(ctx).Where("step_id = ?", stepID).Delete(&choiceRecord{}).Error)
}

func (tx *gormTx) InsertStep(ctx context.Context, st *services.Step) error {
	rec, models, choices := toStepRecords(st)
	if err := tx.conn(ctx).Create(rec).Error; err != nil {
		return translateError(err)
	}
	return tx.writeStepChildren(ctx, models, choices)
}

func (tx *gormTx) UpdateStep(ctx context.Context, st *services.Step) error {
	rec, models, choices := toStepRecords(st)
	if err := tx.updateAll(ctx, &stepRecord{}, "step", st.ID, rec); err != nil {
		return err
	}
	if err := tx.deleteStepChildren(ctx, st.ID); err != nil {
		return err
	}
	return tx.writeStepChildren(ctx, models, choices)
}

func (tx *gormTx) DeleteStep(ctx context.Context, id string) error {
	if err := tx.deleteStepChildren(ctx, id); err != nil {
		return err
	}
	return translateError(tx.conn(ctx).Where("id = ?", id).Delete(&stepRecord{}).Error)
}

func (tx *gormTx) InsertAsset(ctx context.Context, a *services.Asset) error {
	rec, err := toAssetRecord(a)
	if err != nil {
		return err
	}
	return translateError(tx.conn(ctx).Create(rec).Error)
}

func (tx *gormTx) DeleteAsset(ctx context.Context, id string) error {
	return translateError(tx.conn(ctx).Where("id = ?", id).Delete(&assetRecord{}).Error)
}

func (tx *gormTx) InsertSnapshot(ctx context.Context, p *services.PublishedSnapshot) error {
	return translateError(tx.conn(ctx).Create(toSnapshotRecord(p)).Error)
}

func (tx *gormTx) DeleteSnapshot(ctx context.Context, moduleID string, version int) error {
	return translateError(tx.conn(ctx).
		Where("module_id = ? AND version = ?", moduleID, version).
		Delete(&snapshotRecord{}).Error)
}
