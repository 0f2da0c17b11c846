//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ferry/internal/transfer"
	logx "ferry/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveJobs replaces the full job snapshot in one transaction. The job set is
// capped at registry capacity, so a full rewrite stays cheap.
func (s *sqliteStore) SaveJobs(ctx context.Context, jobs []JobRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return err
	}
	for _, j := range jobs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO jobs(id, profile_id, enabled, kind, hour, minute, weekday, day_of_month, date, last_run, next_run, created_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
			j.ID, j.ProfileID, boolInt(j.Enabled), j.Kind, j.Hour, j.Minute,
			nullIntPtr(j.Weekday), nullIntPtr(j.DayOfMonth),
			nullTimePtr(j.Date), nullTimePtr(j.LastRun), nullTimePtr(j.NextRun),
			j.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadJobs(ctx context.Context) ([]JobRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profile_id, enabled, kind, hour, minute, weekday, day_of_month, date, last_run, next_run, created_at
		 FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var (
			j        JobRecord
			enabled  int
			weekday  sql.NullInt64
			dom      sql.NullInt64
			date     sql.NullString
			lastRun  sql.NullString
			nextRun  sql.NullString
			createdS string
		)
		if err := rows.Scan(&j.ID, &j.ProfileID, &enabled, &j.Kind, &j.Hour, &j.Minute,
			&weekday, &dom, &date, &lastRun, &nextRun, &createdS); err != nil {
			return nil, err
		}
		j.Enabled = enabled != 0
		if weekday.Valid {
			v := int(weekday.Int64)
			j.Weekday = &v
		}
		if dom.Valid {
			v := int(dom.Int64)
			j.DayOfMonth = &v
		}
		j.Date = parseTimePtr(date)
		j.LastRun = parseTimePtr(lastRun)
		j.NextRun = parseTimePtr(nextRun)
		if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
			j.CreatedAt = t
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveProfiles(ctx context.Context, profiles []ProfileRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM profiles`); err != nil {
		return err
	}
	for _, p := range profiles {
		opts, err := json.Marshal(p.Options)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO profiles(id, name, source_path, dest_path, options, created_at, last_used)
			 VALUES(?,?,?,?,?,?,?)`,
			p.ID, p.Name, p.SourcePath, p.DestPath, string(opts),
			p.CreatedAt.Format(time.RFC3339Nano), nullTimePtr(p.LastUsed),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadProfiles(ctx context.Context) ([]ProfileRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, source_path, dest_path, options, created_at, last_used
		 FROM profiles ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProfileRecord
	for rows.Next() {
		var (
			p        ProfileRecord
			optsS    string
			createdS string
			lastUsed sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.SourcePath, &p.DestPath, &optsS, &createdS, &lastUsed); err != nil {
			return nil, err
		}
		var opts transfer.Options
		if err := json.Unmarshal([]byte(optsS), &opts); err == nil {
			p.Options = opts
		}
		if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
			p.CreatedAt = t
		}
		p.LastUsed = parseTimePtr(lastUsed)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at, job_id, profile_id, outcome, detail, took_ns, work_units, total_bytes)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.At.Format(time.RFC3339Nano), r.JobID, r.ProfileID, r.Outcome,
		nullStr(r.Detail), int64(r.Took), r.WorkUnits, r.TotalBytes,
	)
	return err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTimePtr(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.Format(time.RFC3339Nano)
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
