package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertSpec describes one staged bulk upsert: the target table, the full
// column list of the rows, and the key columns of the table's unique
// constraint. Every non-key column is overwritten on conflict, which is what
// a recompute of district rows wants.
type UpsertSpec struct {
	Table   string
	Columns []string
	Keys    []string
}

// Upsert writes rows through a session-local staging table: COPY the batch
// into the stage, then a single INSERT ... ON CONFLICT DO UPDATE into the
// target. A per-row upsert would round-trip once per congressional district
// per year; the staged form is one COPY and one statement regardless of
// batch size. Returns the number of rows inserted or updated.
func Upsert(ctx context.Context, pool Pool, spec UpsertSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(spec.Columns) == 0 {
		return 0, eris.Errorf("db: upsert %s: no columns", spec.Table)
	}
	if len(spec.Keys) == 0 {
		return 0, eris.Errorf("db: upsert %s: no key columns", spec.Table)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: begin", spec.Table)
	}
	defer tx.Rollback(ctx)

	stage := spec.Table + "_stage"
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{stage}.Sanitize(),
		pgx.Identifier{spec.Table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create stage", spec.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stage}, spec.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: copy into stage", spec.Table)
	}

	tag, err := tx.Exec(ctx, spec.mergeSQL(stage))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: merge", spec.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: commit", spec.Table)
	}
	return tag.RowsAffected(), nil
}

// mergeSQL builds the INSERT ... ON CONFLICT statement moving staged rows
// into the target.
func (s UpsertSpec) mergeSQL(stage string) string {
	keySet := make(map[string]bool, len(s.Keys))
	for _, k := range s.Keys {
		keySet[k] = true
	}
	var assignments []string
	for _, col := range s.Columns {
		if keySet[col] {
			continue
		}
		q := pgx.Identifier{col}.Sanitize()
		assignments = append(assignments, q+" = EXCLUDED."+q)
	}

	action := "DO UPDATE SET " + strings.Join(assignments, ", ")
	if len(assignments) == 0 {
		// Key-only rows carry nothing to refresh.
		action = "DO NOTHING"
	}

	cols := quoteJoin(s.Columns)
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		pgx.Identifier{s.Table}.Sanitize(),
		cols,
		cols,
		pgx.Identifier{stage}.Sanitize(),
		quoteJoin(s.Keys),
		action,
	)
}

func quoteJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
