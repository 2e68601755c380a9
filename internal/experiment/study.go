package experiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	laberrors "github.com/searchlab/searchlab/internal/errors"
)

// Direction is the optimization direction of a study.
type Direction string

const (
	Maximize Direction = "maximize"
	Minimize Direction = "minimize"
)

// TrialState tracks a trial's lifecycle. Transitions only move forward:
// running is the only non-terminal state.
type TrialState string

const (
	TrialRunning  TrialState = "running"
	TrialComplete TrialState = "complete"
	TrialPruned   TrialState = "pruned"
	TrialFailed   TrialState = "failed"
)

// StudyRecord is the persisted study row. Its best value only ever
// improves in the study's direction.
type StudyRecord struct {
	StudyID     string          `json:"study_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Direction   Direction       `json:"direction"`
	Space       json.RawMessage `json:"space"`
	BestTrialID string          `json:"best_trial_id,omitempty"`
	BestValue   *float64        `json:"best_value,omitempty"`
}

// TrialRecord is one proposed parameter vector and its outcome.
type TrialRecord struct {
	TrialID string         `json:"trial_id"`
	StudyID string         `json:"study_id"`
	Number  int            `json:"number"`
	Params  map[string]any `json:"params"`
	Value   *float64       `json:"value,omitempty"`
	State   TrialState     `json:"state"`
}

// CreateStudy inserts a study row. A study id is unique per database.
func (s *Store) CreateStudy(ctx context.Context, studyID string, direction Direction, space any) error {
	spaceJSON, err := json.Marshal(space)
	if err != nil {
		return laberrors.New(laberrors.ErrCodeSearchSpaceInvalid, "unencodable search space", err)
	}

	if err := s.writerMu.lock(ctx); err != nil {
		return err
	}
	defer s.writerMu.unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO studies (study_id, created_at, direction, space)
		VALUES (?, ?, ?, ?)`,
		studyID, time.Now().UTC().Format(time.RFC3339Nano), string(direction), string(spaceJSON))
	if err != nil {
		return laberrors.StoreWrite(err)
	}
	return nil
}

// GetStudy loads a study row.
func (s *Store) GetStudy(ctx context.Context, studyID string) (*StudyRecord, error) {
	var (
		rec       StudyRecord
		createdAt string
		space     string
		bestValue sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT study_id, created_at, direction, space, best_trial_id, best_value
		FROM studies WHERE study_id = ?`, studyID).
		Scan(&rec.StudyID, &createdAt, (*string)(&rec.Direction), &space, &rec.BestTrialID, &bestValue)
	if err == sql.ErrNoRows {
		return nil, laberrors.New(laberrors.ErrCodeStoreRead,
			fmt.Sprintf("study %s not found", studyID), err)
	}
	if err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreRead, fmt.Sprintf("load study: %v", err), err)
	}

	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.Space = json.RawMessage(space)
	if bestValue.Valid {
		v := bestValue.Float64
		rec.BestValue = &v
	}
	return &rec, nil
}

// BeginTrial records a trial in the running state.
func (s *Store) BeginTrial(ctx context.Context, t *TrialRecord) error {
	paramsJSON, err := json.Marshal(orEmpty(t.Params))
	if err != nil {
		return laberrors.StoreWrite(err)
	}

	if err := s.writerMu.lock(ctx); err != nil {
		return err
	}
	defer s.writerMu.unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trials (trial_id, study_id, number, params, state)
		VALUES (?, ?, ?, ?, ?)`,
		t.TrialID, t.StudyID, t.Number, string(paramsJSON), string(TrialRunning))
	if err != nil {
		return laberrors.StoreWrite(err)
	}
	return nil
}

// FinishTrial moves a running trial to a terminal state. Transitions out
// of a terminal state are rejected, never applied.
func (s *Store) FinishTrial(ctx context.Context, trialID string, state TrialState, value *float64) error {
	if state == TrialRunning {
		return laberrors.New(laberrors.ErrCodeInvalidInput, "running is not a terminal state", nil)
	}

	if err := s.writerMu.lock(ctx); err != nil {
		return err
	}
	defer s.writerMu.unlock()

	var v any
	if value != nil {
		v = *value
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE trials SET state = ?, value = ?
		WHERE trial_id = ? AND state = ?`,
		string(state), v, trialID, string(TrialRunning))
	if err != nil {
		return laberrors.StoreWrite(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return laberrors.StoreWrite(err)
	}
	if n == 0 {
		return laberrors.New(laberrors.ErrCodeInvalidInput,
			fmt.Sprintf("trial %s is not running; terminal states are final", trialID), nil)
	}
	return nil
}

// UpdateBest applies a candidate best value under the monotonicity guard:
// the row changes only if the candidate improves on the stored best in the
// study's direction. Returns whether the update applied.
func (s *Store) UpdateBest(ctx context.Context, studyID, trialID string, value float64, direction Direction) (bool, error) {
	if err := s.writerMu.lock(ctx); err != nil {
		return false, err
	}
	defer s.writerMu.unlock()

	cmp := "best_value < ?"
	if direction == Minimize {
		cmp = "best_value > ?"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE studies SET best_trial_id = ?, best_value = ?
		WHERE study_id = ? AND (best_value IS NULL OR `+cmp+`)`,
		trialID, value, studyID, value)
	if err != nil {
		return false, laberrors.StoreWrite(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, laberrors.StoreWrite(err)
	}
	return n > 0, nil
}

// ListTrials returns a study's trials ordered by trial number.
func (s *Store) ListTrials(ctx context.Context, studyID string) ([]*TrialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trial_id, study_id, number, params, value, state
		FROM trials WHERE study_id = ? ORDER BY number`, studyID)
	if err != nil {
		return nil, laberrors.New(laberrors.ErrCodeStoreRead, fmt.Sprintf("list trials: %v", err), err)
	}
	defer rows.Close()

	var out []*TrialRecord
	for rows.Next() {
		var (
			t          TrialRecord
			paramsJSON string
			value      sql.NullFloat64
		)
		if err := rows.Scan(&t.TrialID, &t.StudyID, &t.Number, &paramsJSON, &value, (*string)(&t.State)); err != nil {
			return nil, laberrors.New(laberrors.ErrCodeStoreRead, fmt.Sprintf("scan trial: %v", err), err)
		}
		if err := json.Unmarshal([]byte(paramsJSON), &t.Params); err != nil {
			return nil, laberrors.New(laberrors.ErrCodeStoreCorrupt, "bad trial params json", err)
		}
		if value.Valid {
			v := value.Float64
			t.Value = &v
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
