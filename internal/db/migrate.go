package db

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

type migrationFile struct {
	name string
	data []byte
}

// RunMigrations creates or updates the tables from the record definitions and
// then executes the SQL migrations from the given directory, falling back to
// the embedded files. Every SQL file must be safe to run more than once.
func RunMigrations(db *gorm.DB, migrationsDir string) error {
	if err := db.AutoMigrate(allRecords()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	files, err := loadMigrations(migrationsDir)
	if err != nil {
		return err
	}
	for _, mf := range files {
		for i, stmt := range splitStatements(string(mf.data)) {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("exec migration %s statement %d: %w", mf.name, i+1, err)
			}
		}
	}
	return nil
}

// splitStatements drops comment lines and splits on semicolons. Statements
// run one at a time.
func splitStatements(src string) []string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// loadMigrations reads *.sql from dir when it exists and from the embedded
// set otherwise, sorted by name.
func loadMigrations(dir string) ([]migrationFile, error) {
	var (
		fsys fs.FS = embeddedMigrations
		root       = "migrations"
	)
	if dir != "" {
		if _, err := os.Stat(dir); err == nil {
			fsys, root = os.DirFS(dir), "."
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read migrations: %w", err)
		}
	}
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		files = append(files, migrationFile{name: entry.Name(), data: content})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}
