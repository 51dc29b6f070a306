package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/Praxis/internal/services"
)

// Postgres reports the violated index by name.
var constraintByIndex = map[string]string{
	"idx_modules_title_key":        services.ConstraintModuleTitle,
	"idx_modules_code":             services.ConstraintModuleCode,
	"idx_snapshots_module_version": services.ConstraintSnapshotVersion,
}

// SQLite reports the indexed columns instead.
var constraintByColumns = map[string]string{
	"modules.title_key": services.ConstraintModuleTitle,
	"modules.code":      services.ConstraintModuleCode,
	"published_snapshots.module_id, published_snapshots.version": services.ConstraintSnapshotVersion,
}

func errBusy() error {
	return services.NewConcurrencyConflictError("the database is busy with a concurrent change; retry")
}

// translateError maps driver errors the services layer cares about: known
// unique indexes become ConstraintErrors and lock contention becomes a
// concurrency conflict. Everything else passes through.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if c, ok := constraintByIndex[pgErr.ConstraintName]; ok {
				return &services.ConstraintError{Constraint: c, Err: err}
			}
		case "40001", "40P01", "55P03":
			return errBusy()
		}
		return err
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrConstraint:
			if liteErr.ExtendedCode != sqlite3.ErrConstraintUnique && liteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
				return err
			}
			msg := liteErr.Error()
			for cols, c := range constraintByColumns {
				if strings.HasSuffix(msg, cols) {
					return &services.ConstraintError{Constraint: c, Err: err}
				}
			}
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return errBusy()
		}
	}
	return err
}
