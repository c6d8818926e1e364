package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"voxelpipe/internal/object"
)

const objectColumns = "uuid, job_uuid, source_uuid, data_type, source_filename, source_module, target_filename, target_module, skipped, data_json, created_at"

func moduleUUID(a object.Action) string {
	id, _ := a.Module["uuid"].(string)
	return id
}

// StoreObject records an object a job produced or skipped. Source and
// target are read from the first and last action of the descriptor.
func (s *Store) StoreObject(ctx context.Context, jobID string, d object.Descriptor, skipped bool) (*ObjectRecord, error) {
	rec := &ObjectRecord{
		UUID:           newID(ObjectPrefix),
		JobUUID:        jobID,
		DataType:       d.DataType,
		SourceFilename: d.SourceFilename(),
		TargetFilename: d.StoredFilename(),
		Skipped:        skipped,
		Descriptor:     d,
	}
	if n := len(d.Actions); n > 0 {
		rec.SourceModule = moduleUUID(d.Actions[0])
		rec.TargetModule = moduleUUID(d.Actions[n-1])
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	ts := s.timestamp()
	rec.CreatedAt = parseTime(ts)
	res, err := s.exec(ctx,
		`INSERT INTO job_objects (
            uuid, job_uuid, source_uuid, data_type, source_filename, source_module,
            target_filename, target_module, skipped, data_json, created_at
        ) SELECT ?, uuid, source_uuid, ?, ?, ?, ?, ?, ?, ?, ? FROM jobs WHERE uuid = ?`,
		rec.UUID, rec.DataType, rec.SourceFilename, rec.SourceModule,
		rec.TargetFilename, rec.TargetModule, boolToInt(skipped), string(data), ts, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert object: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return rec, nil
}

func scanObject(scanner interface{ Scan(dest ...any) error }) (*ObjectRecord, error) {
	var (
		rec        ObjectRecord
		sourceUUID sql.NullString
		dataType   string
		skipped    int
		data       string
		createdRaw string
	)
	if err := scanner.Scan(
		&rec.UUID,
		&rec.JobUUID,
		&sourceUUID,
		&dataType,
		&rec.SourceFilename,
		&rec.SourceModule,
		&rec.TargetFilename,
		&rec.TargetModule,
		&skipped,
		&data,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	rec.SourceUUID = sourceUUID.String
	rec.DataType = object.DataType(dataType)
	rec.Skipped = skipped != 0
	rec.CreatedAt = parseTime(createdRaw)
	d, err := object.DecodeDescriptor([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", rec.UUID, err)
	}
	rec.Descriptor = d
	return &rec, nil
}

// Objects lists a job's object records in insertion order.
func (s *Store) Objects(ctx context.Context, jobID string, filter ObjectFilter) ([]*ObjectRecord, error) {
	clauses := []string{"job_uuid = ?"}
	args := []any{jobID}
	if filter.SourceFilename != "" {
		clauses = append(clauses, "source_filename = ?")
		args = append(args, filter.SourceFilename)
	}
	if filter.TargetFilename != "" {
		clauses = append(clauses, "target_filename = ?")
		args = append(args, filter.TargetFilename)
	}
	if filter.Skipped != nil {
		clauses = append(clauses, "skipped = ?")
		args = append(args, boolToInt(*filter.Skipped))
	}
	query := `SELECT ` + objectColumns + ` FROM job_objects WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var out []*ObjectRecord
	for rows.Next() {
		rec, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ObjectCounts counts distinct source filenames per source module and
// distinct target filenames per target module.
func (s *Store) ObjectCounts(ctx context.Context, jobID string) (ObjectCounts, error) {
	counts := ObjectCounts{Sources: map[string]int{}, Targets: map[string]int{}}
	queries := []struct {
		query string
		dst   map[string]int
	}{
		{`SELECT source_module, COUNT(DISTINCT source_filename) FROM job_objects
          WHERE job_uuid = ? AND source_filename != '' GROUP BY source_module`, counts.Sources},
		{`SELECT target_module, COUNT(DISTINCT target_filename) FROM job_objects
          WHERE job_uuid = ? AND target_filename != '' GROUP BY target_module`, counts.Targets},
	}
	for _, q := range queries {
		rows, err := s.db.QueryContext(ensureContext(ctx), q.query, jobID)
		if err != nil {
			return counts, fmt.Errorf("count objects: %w", err)
		}
		for rows.Next() {
			var (
				module string
				n      int
			)
			if err := rows.Scan(&module, &n); err != nil {
				rows.Close()
				return counts, fmt.Errorf("scan object count: %w", err)
			}
			q.dst[module] = n
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return counts, err
		}
	}
	return counts, nil
}
