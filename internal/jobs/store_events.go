package jobs

import (
	"context"
	"database/sql"
	"fmt"
)

const eventColumns = "uuid, job_uuid, source_uuid, type, text, data_json, created_at"

func scanEvent(scanner interface{ Scan(dest ...any) error }) (*Event, error) {
	var (
		ev         Event
		sourceUUID sql.NullString
		eventType  string
		data       sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&ev.UUID, &ev.JobUUID, &sourceUUID, &eventType, &ev.Text, &data, &createdRaw); err != nil {
		return nil, err
	}
	ev.SourceUUID = sourceUUID.String
	ev.Type = EventType(eventType)
	ev.CreatedAt = parseTime(createdRaw)
	if err := decodeJSON(data, &ev.Data); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", ev.UUID, err)
	}
	return &ev, nil
}

// AppendEvent adds an entry to the job's event log. The event inherits the
// job's source uuid.
func (s *Store) AppendEvent(ctx context.Context, jobID string, eventType EventType, text string, data map[string]any) (*Event, error) {
	encoded, err := nullableJSON(data)
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	ev := &Event{
		UUID:    newID(EventPrefix),
		JobUUID: jobID,
		Type:    eventType,
		Text:    text,
		Data:    data,
	}
	ts := s.timestamp()
	ev.CreatedAt = parseTime(ts)
	res, err := s.exec(ctx,
		`INSERT INTO job_events (uuid, job_uuid, source_uuid, type, text, data_json, created_at)
         SELECT ?, uuid, source_uuid, ?, ?, ?, ? FROM jobs WHERE uuid = ?`,
		ev.UUID, eventType, text, encoded, ts, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return ev, nil
}

// AppendExceptionEvent records an uncaught failure together with its trace.
func (s *Store) AppendExceptionEvent(ctx context.Context, jobID string, failure error, trace string) (*Event, error) {
	text := "unknown error"
	if failure != nil {
		text = failure.Error()
	}
	return s.AppendEvent(ctx, jobID, EventException, text, map[string]any{
		"exception": text,
		"traceback": trace,
	})
}

// Events returns the job's events in time order. A non-empty type filters.
func (s *Store) Events(ctx context.Context, jobID string, eventType EventType) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM job_events WHERE job_uuid = ?`
	args := []any{jobID}
	if eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
