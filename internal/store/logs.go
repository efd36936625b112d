package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"timeledger/internal/model"
)

// RecordBatch appends the activities found by one refresh under a new batch
// id. Meetings go to meeting_log and emails to email_log, each in the order
// given.
func (s *Store) RecordBatch(batchID string, createdAt time.Time, activities []model.Activity) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO batches (id, created_at) VALUES (?, ?)`, batchID, formatTime(createdAt)); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		for _, a := range activities {
			var err error
			switch a.Kind {
			case model.KindMeeting:
				_, err = tx.Exec(
					`INSERT INTO meeting_log (batch_id, activity_id, start_at, end_at, summary, domains, customer_id, project_id, task_id, classification)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					batchID, a.ID, formatTime(a.Start), formatTime(a.End), a.Label, joinDomains(a.Domains),
					a.CustomerID, a.ProjectID, a.TaskID, a.Classification,
				)
			case model.KindEmail:
				_, err = tx.Exec(
					`INSERT INTO email_log (batch_id, activity_id, sent_at, subject, domains, customer_id, project_id, task_id, classification)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					batchID, a.ID, formatTime(a.End), a.Label, joinDomains(a.Domains),
					a.CustomerID, a.ProjectID, a.TaskID, a.Classification,
				)
			default:
				err = fmt.Errorf("unknown activity kind %q", a.Kind)
			}
			if err != nil {
				return fmt.Errorf("record activity %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

// LatestBatch returns the id of the most recent refresh batch, or "" when
// nothing has been recorded yet.
func (s *Store) LatestBatch() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM batches ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// BatchActivities returns the activities of one batch: meetings first, then
// emails, each in recorded order.
func (s *Store) BatchActivities(batchID string) ([]model.Activity, error) {
	meetings, err := s.batchMeetings(batchID)
	if err != nil {
		return nil, err
	}
	emails, err := s.batchEmails(batchID)
	if err != nil {
		return nil, err
	}
	return append(meetings, emails...), nil
}

func (s *Store) batchMeetings(batchID string) ([]model.Activity, error) {
	rows, err := s.db.Query(
		`SELECT activity_id, start_at, end_at, summary, domains, customer_id, project_id, task_id, classification
		 FROM meeting_log WHERE batch_id = ? ORDER BY id`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		a := model.Activity{Kind: model.KindMeeting}
		var start, end, domains string
		if err := rows.Scan(&a.ID, &start, &end, &a.Label, &domains, &a.CustomerID, &a.ProjectID, &a.TaskID, &a.Classification); err != nil {
			return nil, err
		}
		if a.Start, err = parseTime("start_at", start); err != nil {
			return nil, err
		}
		if a.End, err = parseTime("end_at", end); err != nil {
			return nil, err
		}
		a.Domains = splitDomains(domains)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) batchEmails(batchID string) ([]model.Activity, error) {
	rows, err := s.db.Query(
		`SELECT activity_id, sent_at, subject, domains, customer_id, project_id, task_id, classification
		 FROM email_log WHERE batch_id = ? ORDER BY id`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		a := model.Activity{Kind: model.KindEmail}
		var sent, domains string
		if err := rows.Scan(&a.ID, &sent, &a.Label, &domains, &a.CustomerID, &a.ProjectID, &a.TaskID, &a.Classification); err != nil {
			return nil, err
		}
		if a.End, err = parseTime("sent_at", sent); err != nil {
			return nil, err
		}
		a.Start = a.End
		a.Domains = splitDomains(domains)
		out = append(out, a)
	}
	return out, rows.Err()
}
