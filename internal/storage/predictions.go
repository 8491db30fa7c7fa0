package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/vinq/internal/predlog"
)

// timeLayout is fixed-width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SavePrediction persists a prediction log entry. It satisfies predlog.Sink.
func (s *Store) SavePrediction(e predlog.Entry) error {
	proba, err := json.Marshal(e.Proba)
	if err != nil {
		return fmt.Errorf("marshalling proba: %w", err)
	}
	classes, err := json.Marshal(e.Classes)
	if err != nil {
		return fmt.Errorf("marshalling classes: %w", err)
	}
	input, err := json.Marshal(e.Input)
	if err != nil {
		return fmt.Errorf("marshalling input: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO predictions (id, created_at, source, prediction, proba_json, classes_json, input_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Time.UTC().Format(timeLayout), e.Source, e.Prediction,
		string(proba), string(classes), string(input),
	)
	return err
}

// ListPredictions returns persisted predictions, newest first.
func (s *Store) ListPredictions(limit, offset int) ([]Prediction, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, source, prediction, proba_json, classes_json, input_json
		FROM predictions ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Prediction{}
	for rows.Next() {
		var p Prediction
		var createdAt, proba, classes, input string
		if err := rows.Scan(&p.ID, &createdAt, &p.Source, &p.Prediction, &proba, &classes, &input); err != nil {
			return nil, err
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		p.CreatedAt = t
		if err := json.Unmarshal([]byte(proba), &p.Proba); err != nil {
			return nil, fmt.Errorf("decoding proba of %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(classes), &p.Classes); err != nil {
			return nil, fmt.Errorf("decoding classes of %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(input), &p.Input); err != nil {
			return nil, fmt.Errorf("decoding input of %s: %w", p.ID, err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) CountPredictions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM predictions`).Scan(&n)
	return n, err
}

// DeletePredictions removes the whole persisted history and returns the
// number of rows deleted.
func (s *Store) DeletePredictions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM predictions`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
