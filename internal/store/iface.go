package store

import (
	"time"

	"timeledger/internal/model"
)

// StoreInterface is the set of store operations used by the pipeline and the
// web server. *Store implements it.
type StoreInterface interface {
	Close() error

	// --- Customers ---

	UpsertCustomers(entries []model.DirectoryEntry) error
	ListCustomers() ([]model.DirectoryEntry, error)
	HomeIDs() ([]string, error)
	SetCustomerProject(homeID string, c model.ProjectCandidate) error
	SetCustomerCandidates(homeID, candidatesJSON string) error

	// --- Priorities ---

	ReplacePriorities(rows []model.PriorityRow) error
	ListPriorities() ([]model.PriorityRow, error)

	// --- Candidate logs ---

	RecordBatch(batchID string, createdAt time.Time, activities []model.Activity) error
	LatestBatch() (string, error)
	BatchActivities(batchID string) ([]model.Activity, error)

	// --- Outcomes ---

	AppendOutcomes(outcomes []model.Outcome) error
	LatestRun() (string, error)
	ListOutcomes(runID string, limit int) ([]model.Outcome, error)
}

var _ StoreInterface = (*Store)(nil)
