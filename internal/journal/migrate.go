package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// ErrSchemaTooNew means the database was written by a newer ticketdesk.
var ErrSchemaTooNew = errors.New("journal schema is newer than this binary")

// schemaStep is one embedded file; applying it leaves the database at
// PRAGMA user_version = version.
type schemaStep struct {
	version int
	file    string
	body    string
}

func schemaSteps() ([]schemaStep, error) {
	names, err := fs.Glob(schemaFS, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	steps := make([]schemaStep, 0, len(names))
	for _, name := range names {
		base := path.Base(name)
		prefix, _, ok := strings.Cut(base, "_")
		v, err := strconv.Atoi(prefix)
		if !ok || err != nil || v < 1 {
			return nil, fmt.Errorf("journal schema file %s: want NNNN_name.sql", base)
		}
		body, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, schemaStep{version: v, file: base, body: string(body)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// Migrate applies the embedded schema files newer than the database's
// user_version, each in its own transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	steps, err := schemaSteps()
	if err != nil {
		return err
	}
	current, err := userVersion(ctx, db)
	if err != nil {
		return err
	}
	if n := len(steps); n > 0 && current > steps[n-1].version {
		return fmt.Errorf("%w: database v%d, binary v%d", ErrSchemaTooNew, current, steps[n-1].version)
	}
	for _, step := range steps {
		if step.version <= current {
			continue
		}
		if err := applyStep(ctx, db, step); err != nil {
			return err
		}
		current = step.version
	}
	return nil
}

func applyStep(ctx context.Context, db *sql.DB, step schemaStep) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, step.body); err != nil {
		return fmt.Errorf("journal schema %s: %w", step.file, err)
	}
	// pragmas take no bind parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", step.version)); err != nil {
		return fmt.Errorf("journal schema %s: set user_version: %w", step.file, err)
	}
	return tx.Commit()
}
