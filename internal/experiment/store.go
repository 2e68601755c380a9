// Package experiment persists run records, studies, and trials in an
// append-only SQLite ledger with one serialized FlowTrace file per run.
//
// Durability contract: once Append returns, the record survives process
// restart. Append is the only mutation on runs; corrections are new
// records referencing a superseded one. Physical writes are serialized
// (in-process mutex plus a cross-process file lock) while readers run
// unlimited and observe WAL snapshots.
package experiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	laberrors "github.com/searchlab/searchlab/internal/errors"
	"github.com/searchlab/searchlab/internal/pipeline"
	"github.com/searchlab/searchlab/internal/trace"
)

// RunRecord is the unit of persistence: one pipeline execution with its
// configuration, metrics, and a reference to the serialized trace.
type RunRecord struct {
	RunID     string             `json:"run_id"`
	CreatedAt time.Time          `json:"created_at"`
	StudyID   string             `json:"study_id,omitempty"`
	TrialID   string             `json:"trial_id,omitempty"`
	Pipeline  []pipeline.Stage   `json:"pipeline"`
	Params    map[string]any     `json:"params,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Status    string             `json:"status"`
	TraceRef  string             `json:"trace_ref,omitempty"`
	// Supersedes references a prior run this record corrects; the old
	// record is never updated in place.
	Supersedes string `json:"supersedes,omitempty"`
}

// Store is the durable experiment ledger.
type Store struct {
	db       *sql.DB
	writerMu chanMutex
	lock     *flock.Flock
	traceDir string
	logger   *slog.Logger
}

// chanMutex is a context-aware mutex: lock acquisition respects
// cancellation so a writer queue cannot hang a cancelled caller.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	return m
}

func (m chanMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) unlock() { <-m }

// Open creates or opens the ledger at dbPath, storing trace artifacts
// under traceDir. It takes the cross-process writer lock; a second writer
// process blocks here until the first closes.
func Open(ctx context.Context, dbPath, traceDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreWrite,
			fmt.Sprintf("cannot create store directory: %v", err), err)
	}
	if err := os.MkdirAll(traceDir, 0o755); err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreWrite,
			fmt.Sprintf("cannot create trace directory: %v", err), err)
	}

	fl := flock.New(dbPath + ".lock")
	locked, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreLocked,
			fmt.Sprintf("cannot acquire writer lock: %v", err), err)
	}
	if !locked {
		return nil, laberrors.New(laberrors.ErrCodeStoreLocked, "writer lock held by another process", nil)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		_ = fl.Unlock()
		return nil, laberrors.New(laberrors.ErrCodeStoreWrite,
			fmt.Sprintf("cannot open database: %v", err), err)
	}

	s := &Store{
		db:       db,
		writerMu: newChanMutex(),
		lock:     fl,
		traceDir: traceDir,
		logger:   logger,
	}

	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		_ = fl.Unlock()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		study_id TEXT NOT NULL DEFAULT '',
		trial_id TEXT NOT NULL DEFAULT '',
		pipeline TEXT NOT NULL,
		params TEXT NOT NULL,
		metrics TEXT NOT NULL,
		status TEXT NOT NULL,
		trace_ref TEXT NOT NULL DEFAULT '',
		supersedes TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_study ON runs(study_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS studies (
		study_id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		direction TEXT NOT NULL,
		space TEXT NOT NULL,
		best_trial_id TEXT NOT NULL DEFAULT '',
		best_value REAL
	);

	CREATE TABLE IF NOT EXISTS trials (
		trial_id TEXT PRIMARY KEY,
		study_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		params TEXT NOT NULL,
		value REAL,
		state TEXT NOT NULL,
		UNIQUE (study_id, number)
	);
	CREATE INDEX IF NOT EXISTS idx_trials_study ON trials(study_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return laberrors.New(laberrors.ErrCodeStoreCorrupt,
			fmt.Sprintf("cannot create schema: %v", err), err)
	}
	return nil
}

// Close releases the database and the writer lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if lerr := s.lock.Unlock(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

// Append persists one run record and its trace. The trace file is written
// first, then the row; a failed row insert escalates as ERR_301 and never
// leaves a dangling record. Returns the stored row id.
func (s *Store) Append(ctx context.Context, rec *RunRecord, ft *trace.FlowTrace) (int64, error) {
	if rec.RunID == "" {
		return 0, laberrors.New(laberrors.ErrCodeInvalidInput, "run record needs a run id", nil)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := s.writerMu.lock(ctx); err != nil {
		return 0, err
	}
	defer s.writerMu.unlock()

	if ft != nil {
		ref, err := s.writeTrace(rec.RunID, ft)
		if err != nil {
			return 0, err
		}
		rec.TraceRef = ref
	}

	pipelineJSON, err := json.Marshal(rec.Pipeline)
	if err != nil {
		return 0, laberrors.StoreWrite(err)
	}
	paramsJSON, err := json.Marshal(orEmpty(rec.Params))
	if err != nil {
		return 0, laberrors.StoreWrite(err)
	}
	metricsJSON, err := json.Marshal(orEmptyFloat(rec.Metrics))
	if err != nil {
		return 0, laberrors.StoreWrite(err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_at, study_id, trial_id, pipeline, params, metrics, status, trace_ref, supersedes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.StudyID, rec.TrialID,
		string(pipelineJSON), string(paramsJSON), string(metricsJSON),
		rec.Status, rec.TraceRef, rec.Supersedes)
	if err != nil {
		return 0, laberrors.StoreWrite(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, laberrors.StoreWrite(err)
	}

	s.logger.Debug("run appended",
		slog.String("run_id", rec.RunID),
		slog.String("status", rec.Status),
		slog.Int64("row", id))
	return id, nil
}

// AppendWithRetry appends with bounded backoff, per the escalation policy
// for ERR_301: a lost RunRecord is never silently dropped.
func (s *Store) AppendWithRetry(ctx context.Context, rec *RunRecord, ft *trace.FlowTrace) (int64, error) {
	var id int64
	err := laberrors.Retry(ctx, laberrors.DefaultRetryConfig(), func() error {
		var aerr error
		id, aerr = s.Append(ctx, rec, ft)
		return aerr
	})
	return id, err
}

// Count returns the number of run records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, laberrors.New(laberrors.ErrCodeStoreRead, fmt.Sprintf("count failed: %v", err), err)
	}
	return n, nil
}

// writeTrace serializes a FlowTrace to its sidecar file, atomically via
// temp file + rename.
func (s *Store) writeTrace(runID string, ft *trace.FlowTrace) (string, error) {
	data, err := json.MarshalIndent(ft, "", "  ")
	if err != nil {
		return "", laberrors.StoreWrite(err)
	}

	name := runID + ".json"
	final := filepath.Join(s.traceDir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", laberrors.StoreWrite(err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", laberrors.StoreWrite(err)
	}
	return name, nil
}

// LoadTrace reads a serialized FlowTrace by its stored reference.
func (s *Store) LoadTrace(ref string) (*trace.FlowTrace, error) {
	data, err := os.ReadFile(filepath.Join(s.traceDir, filepath.Base(ref)))
	if err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreRead,
			fmt.Sprintf("cannot read trace %s: %v", ref, err), err)
	}
	var ft trace.FlowTrace
	if err := json.Unmarshal(data, &ft); err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreCorrupt,
			fmt.Sprintf("trace %s is corrupt: %v", ref, err), err)
	}
	return &ft, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyFloat(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}
