package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/policyscope/impact-cli/internal/impact"
	"github.com/policyscope/impact-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reforms (
	id          TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	label       TEXT NOT NULL,
	description TEXT,
	bill_url    TEXT,
	params      TEXT NOT NULL,
	computed    INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reform_impacts (
	reform_id   TEXT NOT NULL REFERENCES reforms(id),
	year        INTEGER NOT NULL,
	record      TEXT NOT NULL,
	computed_at DATETIME NOT NULL,
	PRIMARY KEY (reform_id, year)
);

CREATE TABLE IF NOT EXISTS district_impacts (
	reform_id                TEXT NOT NULL,
	year                     INTEGER NOT NULL,
	district_id              TEXT NOT NULL,
	district_name            TEXT NOT NULL,
	avg_benefit              REAL NOT NULL,
	households_affected      REAL NOT NULL,
	total_benefit            REAL NOT NULL,
	winners_share            REAL NOT NULL,
	losers_share             REAL NOT NULL,
	poverty_pct_change       REAL NOT NULL,
	child_poverty_pct_change REAL NOT NULL,
	PRIMARY KEY (reform_id, year, district_id)
);

CREATE TABLE IF NOT EXISTS compute_runs (
	id          TEXT PRIMARY KEY,
	reform_id   TEXT NOT NULL,
	year        INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'computing',
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_reforms_state ON reforms(state);
CREATE INDEX IF NOT EXISTS idx_district_impacts_reform ON district_impacts(reform_id, year);
CREATE INDEX IF NOT EXISTS idx_compute_runs_reform ON compute_runs(reform_id);
CREATE INDEX IF NOT EXISTS idx_compute_runs_status ON compute_runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveReform(ctx context.Context, reform *model.Reform) error {
	paramsJSON, err := json.Marshal(reform.Params)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal params")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reforms (id, state, label, description, bill_url, params, computed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET state = excluded.state, label = excluded.label,
		   description = excluded.description, bill_url = excluded.bill_url,
		   params = excluded.params, computed = excluded.computed, updated_at = excluded.updated_at`,
		reform.ID, reform.State, reform.Label, reform.Description, reform.BillURL,
		string(paramsJSON), boolToInt(reform.Computed), now, now,
	)
	return eris.Wrapf(err, "sqlite: save reform %s", reform.ID)
}

func (s *SQLiteStore) GetReform(ctx context.Context, id string) (*model.Reform, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, label, description, bill_url, params, computed FROM reforms WHERE id = ?`,
		id,
	)
	reform, err := scanReform(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get reform %s", id)
	}
	return reform, nil
}

func (s *SQLiteStore) ListReforms(ctx context.Context) ([]model.Reform, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state, label, description, bill_url, params, computed FROM reforms ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reforms")
	}
	defer rows.Close()

	var reforms []model.Reform
	for rows.Next() {
		reform, err := scanReform(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reform")
		}
		reforms = append(reforms, *reform)
	}
	return reforms, eris.Wrap(rows.Err(), "sqlite: list reforms iterate")
}

func (s *SQLiteStore) UpsertImpacts(ctx context.Context, reformID string, year int, rec *impact.Record) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reform_impacts (reform_id, year, record, computed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (reform_id, year) DO UPDATE SET record = excluded.record, computed_at = excluded.computed_at`,
		reformID, year, string(recordJSON), rec.ComputedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert impacts %s/%d", reformID, year)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE reforms SET computed = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), reformID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: mark reform computed %s", reformID)
	}

	if len(rec.DistrictImpacts) > 0 {
		return s.saveDistrictRows(ctx, reformID, year, rec.DistrictImpacts)
	}
	return nil
}

func (s *SQLiteStore) UpdateDistricts(ctx context.Context, reformID string, year int, districts map[string]impact.DistrictImpact) error {
	var recordJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM reform_impacts WHERE reform_id = ? AND year = ?`,
		reformID, year,
	).Scan(&recordJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Errorf("impact record not found: %s/%d", reformID, year)
		}
		return eris.Wrapf(err, "sqlite: load record %s/%d", reformID, year)
	}

	rec := &impact.Record{}
	if err := json.Unmarshal([]byte(recordJSON), rec); err != nil {
		return eris.Wrapf(err, "sqlite: unmarshal record %s/%d", reformID, year)
	}
	rec.DistrictImpacts = districts

	updated, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE reform_impacts SET record = ? WHERE reform_id = ? AND year = ?`,
		string(updated), reformID, year,
	); err != nil {
		return eris.Wrapf(err, "sqlite: update districts %s/%d", reformID, year)
	}

	return s.saveDistrictRows(ctx, reformID, year, districts)
}

func (s *SQLiteStore) saveDistrictRows(ctx context.Context, reformID string, year int, districts map[string]impact.DistrictImpact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin district tx")
	}
	defer tx.Rollback()

	for id, d := range districts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO district_impacts
			 (reform_id, year, district_id, district_name, avg_benefit, households_affected,
			  total_benefit, winners_share, losers_share, poverty_pct_change, child_poverty_pct_change)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (reform_id, year, district_id) DO UPDATE SET
			   district_name = excluded.district_name, avg_benefit = excluded.avg_benefit,
			   households_affected = excluded.households_affected, total_benefit = excluded.total_benefit,
			   winners_share = excluded.winners_share, losers_share = excluded.losers_share,
			   poverty_pct_change = excluded.poverty_pct_change,
			   child_poverty_pct_change = excluded.child_poverty_pct_change`,
			reformID, year, id, d.DistrictName, d.AvgBenefit, d.HouseholdsAffected,
			d.TotalBenefit, d.WinnersShare, d.LosersShare, d.PovertyPctChange, d.ChildPovertyPctChange,
		); err != nil {
			return eris.Wrapf(err, "sqlite: save district row %s", id)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit district tx")
}

func (s *SQLiteStore) GetImpacts(ctx context.Context, reformID string) (impact.Archive, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT year, record FROM reform_impacts WHERE reform_id = ? ORDER BY year`,
		reformID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get impacts %s", reformID)
	}
	defer rows.Close()

	archive := impact.Archive{}
	for rows.Next() {
		var year int
		var recordJSON string
		if err := rows.Scan(&year, &recordJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan impact record")
		}
		rec := &impact.Record{}
		if err := json.Unmarshal([]byte(recordJSON), rec); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal record %s/%d", reformID, year)
		}
		archive.Merge(year, rec)
	}
	return archive, eris.Wrap(rows.Err(), "sqlite: get impacts iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, reformID string, year int) (*model.ComputeRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compute_runs (id, reform_id, year, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, reformID, year, string(model.StatusComputing), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for reform %s", reformID)
	}

	return &model.ComputeRun{
		ID:        id,
		ReformID:  reformID,
		Year:      year,
		Status:    model.StatusComputing,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.ComputeStatus, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE compute_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), message, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ComputeRun, error) {
	query := `SELECT id, reform_id, year, status, error, started_at, finished_at FROM compute_runs WHERE true`
	args := []any{}

	if filter.ReformID != "" {
		query += ` AND reform_id = ?`
		args = append(args, filter.ReformID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ComputeRun
	for rows.Next() {
		var r model.ComputeRun
		var errMsg sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.ReformID, &r.Year, &r.Status, &errMsg, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if errMsg.Valid {
			r.Error = errMsg.String
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// GetDistrictImpact reads one flattened district row.
func (s *SQLiteStore) GetDistrictImpact(ctx context.Context, reformID string, year int, districtID string) (*impact.DistrictImpact, error) {
	var d impact.DistrictImpact
	err := s.db.QueryRowContext(ctx,
		`SELECT district_name, avg_benefit, households_affected, total_benefit,
		        winners_share, losers_share, poverty_pct_change, child_poverty_pct_change
		 FROM district_impacts WHERE reform_id = ? AND year = ? AND district_id = ?`,
		reformID, year, districtID,
	).Scan(&d.DistrictName, &d.AvgBenefit, &d.HouseholdsAffected, &d.TotalBenefit,
		&d.WinnersShare, &d.LosersShare, &d.PovertyPctChange, &d.ChildPovertyPctChange)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get district impact")
	}
	return &d, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReform(row scannable) (*model.Reform, error) {
	var r model.Reform
	var description, billURL sql.NullString
	var paramsJSON string
	var computed int

	if err := row.Scan(&r.ID, &r.State, &r.Label, &description, &billURL, &paramsJSON, &computed); err != nil {
		return nil, err
	}
	r.Description = description.String
	r.BillURL = billURL.String
	r.Computed = computed != 0
	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
