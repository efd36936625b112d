package store

import (
	"database/sql"
	"errors"
	"fmt"

	"timeledger/internal/model"
)

// AppendOutcomes records the outcomes of a run. The log is append-only.
func (s *Store) AppendOutcomes(outcomes []model.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		for _, o := range outcomes {
			_, err := tx.Exec(
				`INSERT INTO outcomes (id, run_id, activity_id, kind, role, label, status, reason, detail, start_at, end_at, project_id, task_id, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				o.ID, o.RunID, o.ActivityID, string(o.Kind), o.Role, o.Label, string(o.Status), o.Reason, o.Detail,
				formatTime(o.Start), formatTime(o.End), o.ProjectID, o.TaskID, formatTime(o.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("insert outcome %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

// LatestRun returns the run id of the most recent outcome, or "".
func (s *Store) LatestRun() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT run_id FROM outcomes ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// ListOutcomes returns the outcomes of runID in insertion order. An empty
// runID lists the most recent outcomes across runs, newest last. limit <= 0
// means no limit.
func (s *Store) ListOutcomes(runID string, limit int) ([]model.Outcome, error) {
	if limit <= 0 {
		limit = -1
	}
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `id, run_id, activity_id, kind, role, label, status, reason, detail, start_at, end_at, project_id, task_id, created_at`
	if runID != "" {
		rows, err = s.db.Query(`SELECT `+cols+` FROM outcomes WHERE run_id = ? ORDER BY created_at, id LIMIT ?`, runID, limit)
	} else {
		rows, err = s.db.Query(`SELECT * FROM (SELECT `+cols+` FROM outcomes ORDER BY created_at DESC, id DESC LIMIT ?) ORDER BY created_at, id`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOutcome(rows *sql.Rows) (model.Outcome, error) {
	var (
		o                 model.Outcome
		kind, status      string
		start, end, creat string
	)
	if err := rows.Scan(&o.ID, &o.RunID, &o.ActivityID, &kind, &o.Role, &o.Label, &status, &o.Reason, &o.Detail,
		&start, &end, &o.ProjectID, &o.TaskID, &creat); err != nil {
		return o, err
	}
	o.Kind = model.Kind(kind)
	o.Status = model.Status(status)

	var err error
	if o.Start, err = parseTime("start_at", start); err != nil {
		return o, err
	}
	if o.End, err = parseTime("end_at", end); err != nil {
		return o, err
	}
	if o.CreatedAt, err = parseTime("created_at", creat); err != nil {
		return o, err
	}
	return o, nil
}
