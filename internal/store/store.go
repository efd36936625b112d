// Package store keeps the tabular state of timeledger in SQLite: the
// customer directory, the SKU priority table, the append-only candidate logs
// written by each refresh, and the append-only outcome log written by each run.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"timeledger/internal/model"

	_ "modernc.org/sqlite"
)

// Store manages all SQLite operations with WAL mode.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention wraps retryOp with the default config. Every write goes
// through it.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		domain      TEXT PRIMARY KEY,
		home_id     TEXT NOT NULL,
		sku         TEXT NOT NULL DEFAULT '',
		client_id   TEXT NOT NULL DEFAULT '',
		project_id  TEXT NOT NULL DEFAULT '',
		task_id     TEXT NOT NULL DEFAULT '',
		candidates  TEXT NOT NULL DEFAULT '',
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_customers_home ON customers(home_id);

	CREATE TABLE IF NOT EXISTS sku_priorities (
		sku   TEXT NOT NULL,
		role  TEXT NOT NULL,
		rank  INTEGER NOT NULL,
		PRIMARY KEY (sku, role)
	);

	CREATE TABLE IF NOT EXISTS batches (
		id         TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meeting_log (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id       TEXT NOT NULL REFERENCES batches(id),
		activity_id    TEXT NOT NULL,
		start_at       TEXT NOT NULL,
		end_at         TEXT NOT NULL,
		summary        TEXT NOT NULL,
		domains        TEXT NOT NULL,
		customer_id    TEXT NOT NULL DEFAULT '',
		project_id     TEXT NOT NULL DEFAULT '',
		task_id        TEXT NOT NULL DEFAULT '',
		classification TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_meeting_log_batch ON meeting_log(batch_id, id);

	CREATE TABLE IF NOT EXISTS email_log (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id       TEXT NOT NULL REFERENCES batches(id),
		activity_id    TEXT NOT NULL,
		sent_at        TEXT NOT NULL,
		subject        TEXT NOT NULL,
		domains        TEXT NOT NULL,
		customer_id    TEXT NOT NULL DEFAULT '',
		project_id     TEXT NOT NULL DEFAULT '',
		task_id        TEXT NOT NULL DEFAULT '',
		classification TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_email_log_batch ON email_log(batch_id, id);

	CREATE TABLE IF NOT EXISTS outcomes (
		id          TEXT PRIMARY KEY,
		run_id      TEXT NOT NULL,
		activity_id TEXT NOT NULL,
		kind        TEXT NOT NULL,
		role        TEXT NOT NULL,
		label       TEXT NOT NULL,
		status      TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		detail      TEXT NOT NULL DEFAULT '',
		start_at    TEXT NOT NULL,
		end_at      TEXT NOT NULL,
		project_id  TEXT NOT NULL DEFAULT '',
		task_id     TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

// UpsertCustomers inserts or replaces directory rows keyed by domain.
func (s *Store) UpsertCustomers(entries []model.DirectoryEntry) error {
	now := formatTime(time.Now())
	return s.inTx(func(tx *sql.Tx) error {
		for _, e := range entries {
			_, err := tx.Exec(
				`INSERT INTO customers (domain, home_id, sku, client_id, project_id, task_id, candidates, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(domain) DO UPDATE SET
				   home_id = excluded.home_id,
				   sku = excluded.sku,
				   client_id = excluded.client_id,
				   project_id = excluded.project_id,
				   task_id = excluded.task_id,
				   candidates = excluded.candidates,
				   updated_at = excluded.updated_at`,
				model.NormalizeDomain(e.Domain), strings.TrimSpace(e.HomeID), e.SKU, e.CustomerID,
				e.ProjectID, e.TaskID, e.Candidates, now,
			)
			if err != nil {
				return fmt.Errorf("upsert customer %s: %w", e.Domain, err)
			}
		}
		return nil
	})
}

// ListCustomers returns every directory row ordered by home id, then domain.
func (s *Store) ListCustomers() ([]model.DirectoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT domain, home_id, sku, client_id, project_id, task_id, candidates
		 FROM customers ORDER BY home_id, domain`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DirectoryEntry
	for rows.Next() {
		var e model.DirectoryEntry
		if err := rows.Scan(&e.Domain, &e.HomeID, &e.SKU, &e.CustomerID, &e.ProjectID, &e.TaskID, &e.Candidates); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// HomeIDs returns the distinct customer home ids in table order.
func (s *Store) HomeIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT home_id FROM customers ORDER BY home_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetCustomerProject records the chosen project on every row of homeID and
// clears any pending candidate list.
func (s *Store) SetCustomerProject(homeID string, c model.ProjectCandidate) error {
	now := formatTime(time.Now())
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`UPDATE customers SET sku = ?, client_id = ?, project_id = ?, task_id = ?, candidates = '', updated_at = ?
			 WHERE home_id = ?`,
			c.SKU, c.ClientID, c.ProjectID, c.TaskID, now, homeID,
		)
		return err
	})
}

// SetCustomerCandidates clears the project of every row of homeID and stores
// the candidates for manual review.
func (s *Store) SetCustomerCandidates(homeID, candidatesJSON string) error {
	now := formatTime(time.Now())
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`UPDATE customers SET sku = '', client_id = '', project_id = '', task_id = '', candidates = ?, updated_at = ?
			 WHERE home_id = ?`,
			candidatesJSON, now, homeID,
		)
		return err
	})
}

// ---------------------------------------------------------------------------
// Priorities
// ---------------------------------------------------------------------------

// ReplacePriorities swaps the whole priority table.
func (s *Store) ReplacePriorities(rows []model.PriorityRow) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM sku_priorities`); err != nil {
			return err
		}
		for _, r := range rows {
			if _, err := tx.Exec(
				`INSERT INTO sku_priorities (sku, role, rank) VALUES (?, ?, ?)
				 ON CONFLICT(sku, role) DO UPDATE SET rank = excluded.rank`,
				r.SKU, string(r.Role), r.Rank,
			); err != nil {
				return fmt.Errorf("insert priority %s/%s: %w", r.SKU, r.Role, err)
			}
		}
		return nil
	})
}

// ListPriorities returns every priority row ordered by SKU and role.
func (s *Store) ListPriorities() ([]model.PriorityRow, error) {
	rows, err := s.db.Query(`SELECT sku, role, rank FROM sku_priorities ORDER BY sku, role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PriorityRow
	for rows.Next() {
		var r model.PriorityRow
		var role string
		if err := rows.Scan(&r.SKU, &role, &r.Rank); err != nil {
			return nil, err
		}
		r.Role = model.Role(role)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", field, v, err)
	}
	return t, nil
}

func joinDomains(domains []string) string {
	return strings.Join(domains, ";")
}

func splitDomains(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ";")
}
