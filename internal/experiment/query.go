package experiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	laberrors "github.com/searchlab/searchlab/internal/errors"
)

// Filter selects run records. All set fields are ANDed. Parameter and
// metric filters use the JSON1 columns, so no trace deserialization is
// needed to answer a query.
type Filter struct {
	// Since/Until bound the record timestamp (inclusive/exclusive).
	Since *time.Time
	Until *time.Time
	// Status matches the run status exactly.
	Status string
	// StudyID matches runs issued by one study.
	StudyID string
	// ParamEquals requires configuration fields to equal these values.
	ParamEquals map[string]any
	// MetricMin/MetricMax bound metric values (inclusive).
	MetricMin map[string]float64
	MetricMax map[string]float64
	// Limit caps the result count; 0 means no cap.
	Limit int
}

// Query returns matching records ordered by insertion. It reads a WAL
// snapshot as of call time: writes that start afterwards are not observed,
// and re-running an identical filter with no new appends returns an
// identical result set.
func (s *Store) Query(ctx context.Context, f Filter) ([]*RunRecord, error) {
	var (
		where []string
		args  []any
	)

	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if f.Until != nil {
		where = append(where, "created_at < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.StudyID != "" {
		where = append(where, "study_id = ?")
		args = append(args, f.StudyID)
	}
	for _, key := range sortedKeys(f.ParamEquals) {
		val, err := json.Marshal(f.ParamEquals[key])
		if err != nil {
			return nil, laberrors.New(laberrors.ErrCodeInvalidInput,
				fmt.Sprintf("unencodable param filter %q", key), err)
		}
		// Compare JSON-encoded forms so numbers and strings both work.
		where = append(where, "json_extract(params, ?) = json_extract(?, '$')")
		args = append(args, "$."+key, string(val))
	}
	for _, key := range sortedFloatKeys(f.MetricMin) {
		where = append(where, "CAST(json_extract(metrics, ?) AS REAL) >= ?")
		args = append(args, "$."+key, f.MetricMin[key])
	}
	for _, key := range sortedFloatKeys(f.MetricMax) {
		where = append(where, "CAST(json_extract(metrics, ?) AS REAL) <= ?")
		args = append(args, "$."+key, f.MetricMax[key])
	}

	query := `SELECT run_id, created_at, study_id, trial_id, pipeline, params, metrics, status, trace_ref, supersedes FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreRead, fmt.Sprintf("query failed: %v", err), err)
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreRead, fmt.Sprintf("row iteration failed: %v", err), err)
	}
	return out, nil
}

// Get returns one record by run id.
func (s *Store) Get(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, created_at, study_id, trial_id, pipeline, params, metrics, status, trace_ref, supersedes
		FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, laberrors.New(laberrors.ErrCodeStoreRead,
			fmt.Sprintf("run %s not found", runID), err)
	}
	return rec, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*RunRecord, error) {
	var (
		rec                                 RunRecord
		createdAt                           string
		pipelineJSON, paramsJSON, metricsJS string
	)
	err := row.Scan(&rec.RunID, &createdAt, &rec.StudyID, &rec.TrialID,
		&pipelineJSON, &paramsJSON, &metricsJS, &rec.Status, &rec.TraceRef, &rec.Supersedes)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, laberrors.New(laberrors.ErrCodeStoreRead, fmt.Sprintf("scan failed: %v", err), err)
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreCorrupt,
			fmt.Sprintf("bad timestamp %q", createdAt), err)
	}
	if err := json.Unmarshal([]byte(pipelineJSON), &rec.Pipeline); err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreCorrupt, "bad pipeline json", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &rec.Params); err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreCorrupt, "bad params json", err)
	}
	if err := json.Unmarshal([]byte(metricsJS), &rec.Metrics); err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreCorrupt, "bad metrics json", err)
	}
	return &rec, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFloatKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
