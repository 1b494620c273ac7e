// Package history is a supplemental, queryable archive of finished jobs,
// backed by SQLite. It is not part of the wire protocol and is never
// consulted to answer a GetFinishedJobs or GetJob request — job.JobQueue
// remains the sole source of truth for everything the protocol exposes.
// history exists purely so an operator can query completed-job records
// that outlive the queue's state-file retention (the state file drops a
// finished job once it is removed via RemoveJob or `qmanager cleanup`;
// history keeps it in a durable, indexable home without changing protocol
// semantics).
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ikmb/qmanager/internal/job"
)

// Store is a SQLite-backed append-only log of finished jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dbPath and ensures its
// schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS finished_jobs (
			id               INTEGER PRIMARY KEY,
			cmdline          TEXT NOT NULL,
			expanded_cmdline TEXT NOT NULL DEFAULT '',
			exit_kind        TEXT NOT NULL,
			exit_code        INTEGER NOT NULL,
			stdout           TEXT NOT NULL DEFAULT '',
			stderr           TEXT NOT NULL DEFAULT '',
			submitted_at     DATETIME NOT NULL,
			started_at       DATETIME,
			finished_at      DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_finished_jobs_finished_at ON finished_jobs(finished_at);
	`)
	return err
}

// Record appends j to the archive. It is best-effort: the supervisor logs
// and ignores failures here, since history is not the system of record.
func (s *Store) Record(ctx context.Context, j *job.Job) error {
	if j.Status != job.StatusTerminated || j.ExitStatus == nil || j.Finished == nil {
		return fmt.Errorf("job #%d is not a finished job", j.ID)
	}

	var expanded string
	if j.ExpandedCmdline != nil {
		expanded = *j.ExpandedCmdline
	}
	var startedAt interface{}
	if j.Started != nil {
		startedAt = j.Started.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO finished_jobs
			(id, cmdline, expanded_cmdline, exit_kind, exit_code, stdout, stderr, submitted_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		j.ID, j.Cmdline, expanded, j.ExitStatus.Kind, j.ExitStatus.Code,
		j.Stdout, j.Stderr, j.Submitted.UTC(), startedAt, j.Finished.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record finished job #%d: %w", j.ID, err)
	}
	return nil
}

// Record is a single archived row, returned by queries below.
type Record struct {
	ID              job.ID
	Cmdline         string
	ExpandedCmdline string
	ExitStatus      job.ExitStatus
	Stdout          string
	Stderr          string
	Submitted       time.Time
	Started         *time.Time
	Finished        time.Time
}

// Since returns archived jobs that finished at or after t, ordered oldest
// first. It exists for operator tooling (spec.md's cleanup/status CLI
// commands do not use it; it is purely supplemental).
func (s *Store) Since(ctx context.Context, t time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cmdline, expanded_cmdline, exit_kind, exit_code, stdout, stderr, submitted_at, started_at, finished_at
		FROM finished_jobs
		WHERE finished_at >= ?
		ORDER BY finished_at ASC
	`, t.UTC())
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var startedAt sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.Cmdline, &r.ExpandedCmdline, &r.ExitStatus.Kind, &r.ExitStatus.Code,
			&r.Stdout, &r.Stderr, &r.Submitted, &startedAt, &r.Finished,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if startedAt.Valid {
			t := startedAt.Time
			r.Started = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}

// Prune deletes archived rows that finished before cutoff, returning the
// number of rows removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM finished_jobs WHERE finished_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
