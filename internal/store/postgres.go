package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/policyscope/impact-cli/internal/db"
	"github.com/policyscope/impact-cli/internal/impact"
	"github.com/policyscope/impact-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"upsert_reform": `INSERT INTO reforms (id, state, label, description, bill_url, params, computed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET state = $2, label = $3, description = $4, bill_url = $5, params = $6, computed = $7, updated_at = $9`,
	"get_reform":     `SELECT id, state, label, description, bill_url, params, computed FROM reforms WHERE id = $1`,
	"upsert_impacts": `INSERT INTO reform_impacts (reform_id, year, record, computed_at) VALUES ($1, $2, $3, $4) ON CONFLICT (reform_id, year) DO UPDATE SET record = $3, computed_at = $4`,
	"get_impacts":    `SELECT year, record FROM reform_impacts WHERE reform_id = $1 ORDER BY year`,
	"insert_run":     `INSERT INTO compute_runs (id, reform_id, year, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"finish_run":     `UPDATE compute_runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS reforms (
	id          TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	label       TEXT NOT NULL,
	description TEXT,
	bill_url    TEXT,
	params      JSONB NOT NULL,
	computed    BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reform_impacts (
	reform_id   TEXT NOT NULL REFERENCES reforms(id),
	year        INTEGER NOT NULL,
	record      JSONB NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (reform_id, year)
);

CREATE TABLE IF NOT EXISTS district_impacts (
	reform_id                TEXT NOT NULL,
	year                     INTEGER NOT NULL,
	district_id              TEXT NOT NULL,
	district_name            TEXT NOT NULL,
	avg_benefit              DOUBLE PRECISION NOT NULL,
	households_affected      DOUBLE PRECISION NOT NULL,
	total_benefit            DOUBLE PRECISION NOT NULL,
	winners_share            DOUBLE PRECISION NOT NULL,
	losers_share             DOUBLE PRECISION NOT NULL,
	poverty_pct_change       DOUBLE PRECISION NOT NULL,
	child_poverty_pct_change DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (reform_id, year, district_id)
);

CREATE TABLE IF NOT EXISTS compute_runs (
	id          TEXT PRIMARY KEY,
	reform_id   TEXT NOT NULL,
	year        INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'computing',
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_reforms_state ON reforms(state);
CREATE INDEX IF NOT EXISTS idx_reforms_computed ON reforms(computed);
CREATE INDEX IF NOT EXISTS idx_district_impacts_reform ON district_impacts(reform_id, year);
CREATE INDEX IF NOT EXISTS idx_compute_runs_reform ON compute_runs(reform_id);
CREATE INDEX IF NOT EXISTS idx_compute_runs_status ON compute_runs(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveReform(ctx context.Context, reform *model.Reform) error {
	paramsJSON, err := json.Marshal(reform.Params)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal params")
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reforms (id, state, label, description, bill_url, params, computed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET state = $2, label = $3, description = $4, bill_url = $5, params = $6, computed = $7, updated_at = $9`,
		reform.ID, reform.State, reform.Label, reform.Description, reform.BillURL,
		paramsJSON, reform.Computed, now, now,
	)
	return eris.Wrapf(err, "postgres: save reform %s", reform.ID)
}

func (s *PostgresStore) GetReform(ctx context.Context, id string) (*model.Reform, error) {
	var r model.Reform
	var paramsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, state, label, description, bill_url, params, computed FROM reforms WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.State, &r.Label, &r.Description, &r.BillURL, &paramsJSON, &r.Computed)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get reform %s", id)
	}

	if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal params")
	}
	return &r, nil
}

func (s *PostgresStore) ListReforms(ctx context.Context) ([]model.Reform, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, state, label, description, bill_url, params, computed FROM reforms ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reforms")
	}
	defer rows.Close()

	var reforms []model.Reform
	for rows.Next() {
		var r model.Reform
		var paramsJSON []byte
		if err := rows.Scan(&r.ID, &r.State, &r.Label, &r.Description, &r.BillURL, &paramsJSON, &r.Computed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan reform")
		}
		if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal params")
		}
		reforms = append(reforms, r)
	}
	return reforms, eris.Wrap(rows.Err(), "postgres: list reforms iterate")
}

func (s *PostgresStore) UpsertImpacts(ctx context.Context, reformID string, year int, rec *impact.Record) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reform_impacts (reform_id, year, record, computed_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (reform_id, year) DO UPDATE SET record = $3, computed_at = $4`,
		reformID, year, recordJSON, rec.ComputedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert impacts %s/%d", reformID, year)
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE reforms SET computed = true, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), reformID,
	); err != nil {
		return eris.Wrapf(err, "postgres: mark reform computed %s", reformID)
	}

	if len(rec.DistrictImpacts) > 0 {
		if err := s.saveDistrictRows(ctx, reformID, year, rec.DistrictImpacts); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) UpdateDistricts(ctx context.Context, reformID string, year int, districts map[string]impact.DistrictImpact) error {
	districtsJSON, err := json.Marshal(districts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal districts")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE reform_impacts SET record = jsonb_set(record, '{districtImpacts}', $1) WHERE reform_id = $2 AND year = $3`,
		districtsJSON, reformID, year,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update districts %s/%d", reformID, year)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("impact record not found: %s/%d", reformID, year)
	}

	return s.saveDistrictRows(ctx, reformID, year, districts)
}

// districtColumns is the flattened relational shape of DistrictImpact, used
// for the per-district queries the read API serves.
var districtColumns = []string{
	"reform_id", "year", "district_id", "district_name",
	"avg_benefit", "households_affected", "total_benefit",
	"winners_share", "losers_share", "poverty_pct_change", "child_poverty_pct_change",
}

func (s *PostgresStore) saveDistrictRows(ctx context.Context, reformID string, year int, districts map[string]impact.DistrictImpact) error {
	rows := make([][]any, 0, len(districts))
	for id, d := range districts {
		rows = append(rows, []any{
			reformID, year, id, d.DistrictName,
			d.AvgBenefit, d.HouseholdsAffected, d.TotalBenefit,
			d.WinnersShare, d.LosersShare, d.PovertyPctChange, d.ChildPovertyPctChange,
		})
	}

	_, err := db.Upsert(ctx, s.pool, db.UpsertSpec{
		Table:   "district_impacts",
		Columns: districtColumns,
		Keys:    []string{"reform_id", "year", "district_id"},
	}, rows)
	return eris.Wrapf(err, "postgres: save district rows %s/%d", reformID, year)
}

func (s *PostgresStore) GetImpacts(ctx context.Context, reformID string) (impact.Archive, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT year, record FROM reform_impacts WHERE reform_id = $1 ORDER BY year`,
		reformID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get impacts %s", reformID)
	}
	defer rows.Close()

	archive := impact.Archive{}
	for rows.Next() {
		var year int
		var recordJSON []byte
		if err := rows.Scan(&year, &recordJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan impact record")
		}
		rec := &impact.Record{}
		if err := json.Unmarshal(recordJSON, rec); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal record %s/%d", reformID, year)
		}
		archive.Merge(year, rec)
	}
	return archive, eris.Wrap(rows.Err(), "postgres: get impacts iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, reformID string, year int) (*model.ComputeRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO compute_runs (id, reform_id, year, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, reformID, year, string(model.StatusComputing), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for reform %s", reformID)
	}

	return &model.ComputeRun{
		ID:        id,
		ReformID:  reformID,
		Year:      year,
		Status:    model.StatusComputing,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.ComputeStatus, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE compute_runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		string(status), message, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ComputeRun, error) {
	query := `SELECT id, reform_id, year, status, error, started_at, finished_at FROM compute_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ReformID != "" {
		query += fmt.Sprintf(` AND reform_id = $%d`, argIdx)
		args = append(args, filter.ReformID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ComputeRun
	for rows.Next() {
		var r model.ComputeRun
		var errMsg *string
		if err := rows.Scan(&r.ID, &r.ReformID, &r.Year, &r.Status, &errMsg, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// GetDistrictImpact reads one flattened district row, the shape the serve
// API uses for single-district lookups.
func (s *PostgresStore) GetDistrictImpact(ctx context.Context, reformID string, year int, districtID string) (*impact.DistrictImpact, error) {
	var d impact.DistrictImpact
	err := s.pool.QueryRow(ctx,
		`SELECT district_name, avg_benefit, households_affected, total_benefit,
		        winners_share, losers_share, poverty_pct_change, child_poverty_pct_change
		 FROM district_impacts WHERE reform_id = $1 AND year = $2 AND district_id = $3`,
		reformID, year, districtID,
	).Scan(&d.DistrictName, &d.AvgBenefit, &d.HouseholdsAffected, &d.TotalBenefit,
		&d.WinnersShare, &d.LosersShare, &d.PovertyPctChange, &d.ChildPovertyPctChange)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get district impact")
	}
	return &d, nil
}
