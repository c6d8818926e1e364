package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrJobNotFound is returned by updates addressed to an unknown job.
var ErrJobNotFound = errors.New("job not found")

// ErrStatusTransition rejects status changes that would move a job backwards.
var ErrStatusTransition = errors.New("invalid status transition")

const jobColumns = "uuid, name, kwargs_json, status, source_uuid, pid, progress_json, source_object_count_json, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job        Job
		kwargs     sql.NullString
		status     string
		sourceUUID sql.NullString
		pid        sql.NullInt64
		progress   sql.NullString
		counts     sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&job.UUID,
		&job.Name,
		&kwargs,
		&status,
		&sourceUUID,
		&pid,
		&progress,
		&counts,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.SourceUUID = sourceUUID.String
	job.PID = int(pid.Int64)
	job.CreatedAt = parseTime(createdRaw)
	job.UpdatedAt = parseTime(updatedRaw)
	if err := decodeJSON(kwargs, &job.Kwargs); err != nil {
		return nil, fmt.Errorf("decode kwargs of %s: %w", job.UUID, err)
	}
	if err := decodeJSON(progress, &job.Progress); err != nil {
		return nil, fmt.Errorf("decode progress of %s: %w", job.UUID, err)
	}
	if err := decodeJSON(counts, &job.SourceObjectCounts); err != nil {
		return nil, fmt.Errorf("decode object counts of %s: %w", job.UUID, err)
	}
	if job.Kwargs == nil {
		job.Kwargs = map[string]any{}
	}
	return &job, nil
}

// RequestJob records a new job in status requested.
func (s *Store) RequestJob(ctx context.Context, name string, kwargs map[string]any, sourceUUID string) (*Job, error) {
	return s.insertJob(ctx, name, kwargs, sourceUUID, StatusRequested)
}

// CreateStub records a job that is not yet eligible for scheduling.
func (s *Store) CreateStub(ctx context.Context, name string, kwargs map[string]any, sourceUUID string) (*Job, error) {
	return s.insertJob(ctx, name, kwargs, sourceUUID, StatusStub)
}

func (s *Store) insertJob(ctx context.Context, name string, kwargs map[string]any, sourceUUID string, status Status) (*Job, error) {
	if name == "" {
		return nil, errors.New("job name is required")
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	kwargsJSON, err := nullableJSON(kwargs)
	if err != nil {
		return nil, fmt.Errorf("encode kwargs: %w", err)
	}
	id := newID(JobPrefix)
	ts := s.timestamp()
	if _, err := s.exec(ctx,
		`INSERT INTO jobs (uuid, name, kwargs_json, status, source_uuid, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, kwargsJSON, status, nullableString(sourceUUID), ts, ts,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job. A missing job yields nil without error.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE uuid = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs ordered by creation time, optionally restricted to
// the given statuses.
func (s *Store) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// NextRequested returns the oldest requested job, or nil when none waits.
func (s *Store) NextRequested(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at, rowid LIMIT 1`,
		StatusRequested,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next requested job: %w", err)
	}
	return job, nil
}

func statusRank(s Status) int {
	switch s {
	case StatusStub:
		return 0
	case StatusRequested:
		return 1
	case StatusStarted:
		return 2
	default:
		return 3
	}
}

// allowedTransition keeps statuses monotonic. Only a kill may overwrite a
// terminal status, because cancellation can race the runner's final write.
func allowedTransition(from, to Status) bool {
	if to == StatusKilled {
		return from != StatusKilled
	}
	return statusRank(to) > statusRank(from)
}

// SetStatus moves a job to a new status. A pid of zero keeps the stored pid.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, pid int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE uuid = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("read job status: %w", err)
		}
		if !allowedTransition(Status(current), status) {
			return fmt.Errorf("%w: %s -> %s", ErrStatusTransition, current, status)
		}
		query := `UPDATE jobs SET status = ?, updated_at = ? WHERE uuid = ?`
		args := []any{status, s.timestamp(), id}
		if pid != 0 {
			query = `UPDATE jobs SET status = ?, updated_at = ?, pid = ? WHERE uuid = ?`
			args = []any{status, s.timestamp(), pid, id}
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		return nil
	})
}

// SetProgress replaces the job's progress document. Nil clears it.
func (s *Store) SetProgress(ctx context.Context, id string, progress map[string]any) error {
	encoded, err := nullableJSON(progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return s.updateJob(ctx, id, "progress_json", encoded)
}

// SetSourceObjectCounts records the item count of every source module.
func (s *Store) SetSourceObjectCounts(ctx context.Context, id string, counts map[string]int) error {
	encoded, err := nullableJSON(counts)
	if err != nil {
		return fmt.Errorf("encode object counts: %w", err)
	}
	return s.updateJob(ctx, id, "source_object_count_json", encoded)
}

func (s *Store) updateJob(ctx context.Context, id, column string, value any) error {
	res, err := s.exec(ctx, `UPDATE jobs SET `+column+` = ?, updated_at = ? WHERE uuid = ?`, value, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update job %s: %w", column, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// ResetStarted marks jobs left in status started as failed. The scheduler
// calls it on start, when no runner can own such a job anymore.
func (s *Store) ResetStarted(ctx context.Context, reason string) ([]string, error) {
	stale, err := s.ListJobs(ctx, StatusStarted)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(stale))
	for _, job := range stale {
		if err := s.SetStatus(ctx, job.UUID, StatusFailed, 0); err != nil {
			if errors.Is(err, ErrStatusTransition) {
				continue
			}
			return ids, err
		}
		if _, err := s.AppendEvent(ctx, job.UUID, EventFailed, reason, nil); err != nil {
			return ids, err
		}
		ids = append(ids, job.UUID)
	}
	return ids, nil
}

// DeleteJob removes a job with its events and objects.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM jobs WHERE uuid = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}
