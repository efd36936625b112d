package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeledger/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

func TestCustomers(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertCustomers([]model.DirectoryEntry{
		{Domain: "Acme.com", HomeID: "101"},
		{Domain: "acme.co.uk", HomeID: "101"},
		{Domain: "globex.io", HomeID: "202"},
	}))

	got, err := s.ListCustomers()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "acme.co.uk", got[0].Domain)
	assert.Equal(t, "acme.com", got[1].Domain, "domains are normalized")

	ids, err := s.HomeIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "202"}, ids)

	chosen := model.ProjectCandidate{ClientID: "c1", SKU: "Pro", ProjectID: "p1", TaskID: "t1"}
	require.NoError(t, s.SetCustomerProject("101", chosen))
	require.NoError(t, s.SetCustomerCandidates("202", `[{"project":"p2"},{"project":"p3"}]`))

	got, err = s.ListCustomers()
	require.NoError(t, err)
	for _, e := range got[:2] {
		assert.Equal(t, "p1", e.ProjectID)
		assert.Equal(t, "c1", e.CustomerID)
		assert.Equal(t, "Pro", e.SKU)
		assert.Empty(t, e.Candidates)
	}
	assert.False(t, got[2].Enriched())
	assert.Contains(t, got[2].Candidates, "p3")

	// Re-importing a row overwrites it.
	require.NoError(t, s.UpsertCustomers([]model.DirectoryEntry{{Domain: "globex.io", HomeID: "203"}}))
	ids, err = s.HomeIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "203"}, ids)
}

func TestPriorities(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.ReplacePriorities([]model.PriorityRow{
		{SKU: "Pro", Role: model.RoleTC, Rank: 2},
		{SKU: "Enterprise", Role: model.RoleTC, Rank: 3},
	}))
	require.NoError(t, s.ReplacePriorities([]model.PriorityRow{
		{SKU: "Pro", Role: model.RoleIC, Rank: 1},
	}))

	rows, err := s.ListPriorities()
	require.NoError(t, err)
	assert.Equal(t, []model.PriorityRow{{SKU: "Pro", Role: model.RoleIC, Rank: 1}}, rows)
}

func TestBatches(t *testing.T) {
	s := newTestStore(t)

	id, err := s.LatestBatch()
	require.NoError(t, err)
	assert.Empty(t, id)

	first := []model.Activity{
		{ID: "e1", Kind: model.KindEmail, Start: t0, End: t0, Label: "Re: plan", Domains: []string{"acme.com"}},
		{ID: "m1", Kind: model.KindMeeting, Start: t0, End: t0.Add(time.Hour), Label: "Sync", Domains: []string{"acme.com", "globex.io"}, ProjectID: "p1", TaskID: "t1"},
		{ID: "e2", Kind: model.KindEmail, Start: t0.Add(time.Minute), End: t0.Add(time.Minute), Label: "Notes", Classification: "ambiguous"},
	}
	require.NoError(t, s.RecordBatch("b1", t0, first))
	require.NoError(t, s.RecordBatch("b2", t0.Add(time.Hour), first[:1]))

	id, err = s.LatestBatch()
	require.NoError(t, err)
	assert.Equal(t, "b2", id)

	got, err := s.BatchActivities("b1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m1", got[0].ID, "meetings come first")
	assert.Equal(t, []string{"acme.com", "globex.io"}, got[0].Domains)
	assert.True(t, got[0].End.Equal(t0.Add(time.Hour)))
	assert.Equal(t, "e1", got[1].ID)
	assert.True(t, got[1].Start.Equal(got[1].End))
	assert.Equal(t, "ambiguous", got[2].Classification)
	assert.Nil(t, got[2].Domains)

	err = s.RecordBatch("b1", t0, nil)
	assert.Error(t, err, "batch ids are unique")
}

func TestOutcomes(t *testing.T) {
	s := newTestStore(t)

	run, err := s.LatestRun()
	require.NoError(t, err)
	assert.Empty(t, run)

	mk := func(id, runID string, offset time.Duration, status model.Status) model.Outcome {
		return model.Outcome{
			ID: id, RunID: runID, ActivityID: "a-" + id, Kind: model.KindEmail, Role: model.OutcomePrimary,
			Label: id, Status: status, Start: t0, End: t0.Add(5 * time.Minute), CreatedAt: t0.Add(offset),
		}
	}
	require.NoError(t, s.AppendOutcomes([]model.Outcome{
		mk("o1", "r1", 0, model.StatusLogged),
		mk("o2", "r1", time.Second, model.StatusSkipped),
	}))
	require.NoError(t, s.AppendOutcomes([]model.Outcome{mk("o3", "r2", time.Minute, model.StatusLogged)}))
	require.NoError(t, s.AppendOutcomes(nil))

	run, err = s.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, "r2", run)

	got, err := s.ListOutcomes("r1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "o1", got[0].ID)
	assert.Equal(t, model.StatusSkipped, got[1].Status)
	assert.True(t, got[1].End.Equal(t0.Add(5*time.Minute)))

	got, err = s.ListOutcomes("", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "o2", got[0].ID)
	assert.Equal(t, "o3", got[1].ID)

	assert.Error(t, s.AppendOutcomes([]model.Outcome{mk("o1", "r3", 0, model.StatusLogged)}), "outcome ids are unique")
}
