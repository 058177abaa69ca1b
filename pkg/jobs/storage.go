package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// ErrNotFound means the requested task row does not exist.
var ErrNotFound = errors.New("jobs: task not found")

const taskSchema = `
CREATE TABLE IF NOT EXISTS job_tasks (
    id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    args TEXT,
    status VARCHAR(50) NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    error TEXT,
    run_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_job_tasks_status_run_at ON job_tasks(status, run_at);
CREATE INDEX IF NOT EXISTS idx_job_tasks_finished_at ON job_tasks(finished_at);
`

// storage is the SQL layer of the queue.
type storage struct {
	db      *sql.DB
	dialect config.DatabaseDriver
}

func newStorage(db *sql.DB, dialect config.DatabaseDriver) (*storage, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	s := &storage{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize job schema: %w", err)
	}
	return s, nil
}

func (s *storage) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range strings.Split(taskSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if s.dialect == config.DriverMySQL && strings.HasPrefix(stmt, "CREATE INDEX IF NOT EXISTS") {
			stmt = strings.Replace(stmt, "CREATE INDEX IF NOT EXISTS", "CREATE INDEX", 1)
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				if strings.Contains(err.Error(), "Duplicate key name") {
					continue
				}
				return fmt.Errorf("failed to create index: %w", err)
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *storage) rebind(query string) string {
	if s.dialect != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *storage) insert(ctx context.Context, task *Task) error {
	args, err := json.Marshal(task.Args)
	if err != nil {
		return fmt.Errorf("failed to serialize args: %w", err)
	}

	query := `
INSERT INTO job_tasks (id, name, args, status, attempts, max_attempts, error, run_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		task.ID, task.Name, string(args), string(task.Status),
		task.Attempts, task.MaxAttempts, task.Error,
		task.RunAt, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// claimNext picks the oldest runnable task and flips it to RUNNING. Returns
// nil when nothing is due. Losing a claim race returns nil as well; the
// caller just polls again.
func (s *storage) claimNext(ctx context.Context, now time.Time) (*Task, error) {
	selectQuery := `
SELECT id FROM job_tasks
WHERE status = ? AND run_at <= ?
ORDER BY run_at ASC, created_at ASC
LIMIT 1
`
	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(selectQuery), string(StatusPending), now).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select candidate task: %w", err)
	}

	claimQuery := `
UPDATE job_tasks
SET status = ?, attempts = attempts + 1, started_at = ?, updated_at = ?
WHERE id = ? AND status = ?
`
	res, err := s.db.ExecContext(ctx, s.rebind(claimQuery),
		string(StatusRunning), now, now, id, string(StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		// Another worker won the race.
		return nil, nil
	}

	return s.get(ctx, id)
}

func (s *storage) markCompleted(ctx context.Context, id string, now time.Time) error {
	query := `
UPDATE job_tasks
SET status = ?, error = '', finished_at = ?, updated_at = ?
WHERE id = ?
`
	_, err := s.db.ExecContext(ctx, s.rebind(query), string(StatusCompleted), now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	return nil
}

func (s *storage) markFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	query := `
UPDATE job_tasks
SET status = ?, error = ?, finished_at = ?, updated_at = ?
WHERE id = ?
`
	_, err := s.db.ExecContext(ctx, s.rebind(query), string(StatusFailed), errMsg, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

// scheduleRetry puts the task back in PENDING with a future run time.
func (s *storage) scheduleRetry(ctx context.Context, id, errMsg string, runAt, now time.Time) error {
	query := `
UPDATE job_tasks
SET status = ?, error = ?, run_at = ?, updated_at = ?
WHERE id = ?
`
	_, err := s.db.ExecContext(ctx, s.rebind(query), string(StatusPending), errMsg, runAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

// requeueOrphans returns RUNNING tasks to PENDING. Called on startup to
// recover work a crashed process left mid-flight.
func (s *storage) requeueOrphans(ctx context.Context, now time.Time) (int64, error) {
	query := `
UPDATE job_tasks
SET status = ?, run_at = ?, updated_at = ?
WHERE status = ?
`
	res, err := s.db.ExecContext(ctx, s.rebind(query),
		string(StatusPending), now, now, string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue orphans: %w", err)
	}
	return res.RowsAffected()
}

// requeueStuckBefore returns RUNNING tasks whose start predates the cutoff
// to PENDING. Covers tasks orphaned by another process that died without a
// clean shutdown.
func (s *storage) requeueStuckBefore(ctx context.Context, cutoff, now time.Time) (int64, error) {
	query := `
UPDATE job_tasks
SET status = ?, run_at = ?, updated_at = ?
WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
`
	res, err := s.db.ExecContext(ctx, s.rebind(query),
		string(StatusPending), now, now, string(StatusRunning), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck tasks: %w", err)
	}
	return res.RowsAffected()
}

// deleteFinishedBefore removes terminal tasks older than the cutoff.
func (s *storage) deleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
DELETE FROM job_tasks
WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?
`
	res, err := s.db.ExecContext(ctx, s.rebind(query),
		string(StatusCompleted), string(StatusFailed), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished tasks: %w", err)
	}
	return res.RowsAffected()
}

const taskColumns = `id, name, args, status, attempts, max_attempts, error, run_at, created_at, updated_at, started_at, finished_at`

func (s *storage) get(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM job_tasks WHERE id = ?`

	task, err := scanTask(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return task, nil
}

func (s *storage) list(ctx context.Context, status Status, limit int) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM job_tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var task Task
	var args, errMsg sql.NullString
	var status string
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&task.ID, &task.Name, &args, &status,
		&task.Attempts, &task.MaxAttempts, &errMsg,
		&task.RunAt, &task.CreatedAt, &task.UpdatedAt,
		&startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = Status(status)
	task.Error = errMsg.String
	if args.String != "" && args.String != "null" {
		if err := json.Unmarshal([]byte(args.String), &task.Args); err != nil {
			return nil, fmt.Errorf("failed to parse args: %w", err)
		}
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}
	return &task, nil
}
