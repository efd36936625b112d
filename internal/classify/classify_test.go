package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeledger/internal/model"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := NewDirectory([]model.DirectoryEntry{
		{Domain: "Acme.com", HomeID: "101", CustomerID: "c-acme", ProjectID: "p-pro", TaskID: "t-acme"},
		{Domain: "acme.co.uk", HomeID: "101", CustomerID: "c-acme", ProjectID: "p-pro", TaskID: "t-acme"},
		{Domain: "globex.io", HomeID: "202", CustomerID: "c-globex", ProjectID: "p-ent", TaskID: "t-globex"},
		{Domain: "initech.com", HomeID: "303"},
	})
	require.NoError(t, err)
	return d
}

func TestNewDirectory(t *testing.T) {
	d := testDirectory(t)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, 1, d.Pending())

	e, ok := d.Lookup(" ACME.COM ")
	require.True(t, ok)
	assert.Equal(t, "acme.com", e.Domain)

	_, ok = d.Lookup("initech.com")
	assert.False(t, ok, "unenriched rows are not resolvable")
}

func TestNewDirectory_RejectsMalformedRows(t *testing.T) {
	tests := []struct {
		name    string
		entries []model.DirectoryEntry
	}{
		{"missing domain", []model.DirectoryEntry{{HomeID: "1"}}},
		{"missing home id", []model.DirectoryEntry{{Domain: "a.com"}}},
		{"duplicate domain", []model.DirectoryEntry{{Domain: "a.com", HomeID: "1"}, {Domain: "A.com", HomeID: "2"}}},
		{"project without task", []model.DirectoryEntry{{Domain: "a.com", HomeID: "1", CustomerID: "c", ProjectID: "p"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDirectory(tt.entries)
			assert.ErrorIs(t, err, model.ErrInvalidDirectory)
		})
	}
}

func TestResolveDomains(t *testing.T) {
	d := testDirectory(t)

	tests := []struct {
		name    string
		domains []string
		project string
		wantErr error
	}{
		{"single hit", []string{"globex.io"}, "p-ent", nil},
		{"misses ignored", []string{"unknown.org", "acme.com", "initech.com"}, "p-pro", nil},
		{"hits agree", []string{"acme.com", "acme.co.uk"}, "p-pro", nil},
		{"case insensitive", []string{"GLOBEX.IO"}, "p-ent", nil},
		{"disagreement anywhere", []string{"acme.com", "unknown.org", "acme.co.uk", "globex.io"}, "", model.ErrAmbiguous},
		{"disagreement first", []string{"globex.io", "acme.com"}, "", model.ErrAmbiguous},
		{"no hits", []string{"unknown.org", "initech.com"}, "", model.ErrNoMatch},
		{"empty", nil, "", model.ErrNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.ResolveDomains(tt.domains)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.project, got.ProjectID)
		})
	}
}

func TestClassify(t *testing.T) {
	d := testDirectory(t)

	got := d.Classify(model.Activity{Kind: model.KindEmail, Domains: []string{"acme.com"}})
	assert.True(t, got.Resolved())
	assert.Equal(t, "c-acme", got.CustomerID)
	assert.Equal(t, "t-acme", got.TaskID)

	got = d.Classify(model.Activity{Kind: model.KindEmail, Domains: []string{"acme.com", "globex.io"}})
	assert.False(t, got.Resolved())
	assert.Equal(t, "ambiguous", got.Classification)
}

func TestSelectProject(t *testing.T) {
	prio := model.PriorityTable{"Pro": 2, "Enterprise": 3, "Starter": 1, "Legacy": 3}
	pro := model.ProjectCandidate{SKU: "Pro", ProjectID: "p1"}
	ent := model.ProjectCandidate{SKU: "Enterprise", ProjectID: "p2"}
	legacy := model.ProjectCandidate{SKU: "Legacy", ProjectID: "p3"}
	starter := model.ProjectCandidate{SKU: "Starter", ProjectID: "p4"}
	unranked := model.ProjectCandidate{SKU: "Unknown", ProjectID: "p5"}

	got, err := SelectProject("1", []model.ProjectCandidate{pro, ent, starter}, prio)
	require.NoError(t, err)
	assert.Equal(t, "p2", got.ProjectID)

	got, err = SelectProject("1", []model.ProjectCandidate{starter, ent, pro}, prio)
	require.NoError(t, err)
	assert.Equal(t, "p2", got.ProjectID, "order must not matter")

	_, err = SelectProject("1", []model.ProjectCandidate{ent, pro, legacy}, prio)
	assert.ErrorIs(t, err, model.ErrAmbiguousPriority)

	got, err = SelectProject("1", []model.ProjectCandidate{pro, pro, ent}, prio)
	require.NoError(t, err, "a tie below the top is irrelevant")
	assert.Equal(t, "p2", got.ProjectID)

	_, err = SelectProject("1", []model.ProjectCandidate{unranked}, prio)
	assert.ErrorIs(t, err, model.ErrNoMatch)

	_, err = SelectProject("1", nil, prio)
	assert.ErrorIs(t, err, model.ErrNoMatch)
}

func TestPriorityTableFor(t *testing.T) {
	rows := []model.PriorityRow{
		{SKU: "Pro", Role: model.RoleTC, Rank: 2},
		{SKU: "Pro", Role: model.RoleIC, Rank: 5},
		{SKU: "Enterprise", Role: model.RoleTC, Rank: 3},
	}
	assert.Equal(t, model.PriorityTable{"Pro": 2, "Enterprise": 3}, PriorityTableFor(rows, model.RoleTC))
	assert.Equal(t, model.PriorityTable{"Pro": 5}, PriorityTableFor(rows, model.RoleIC))
	assert.Empty(t, PriorityTableFor(rows, model.RoleONB))
}

func TestEnrich(t *testing.T) {
	projects := []model.Project{
		{ID: "p1", Name: "Pro", ClientID: "c1", Tasks: []model.Task{{ID: "t1", Name: "101"}, {ID: "t1b", Name: "101"}, {ID: "t2", Name: "202"}}},
		{ID: "p2", Name: "Enterprise", ClientID: "c1", Tasks: []model.Task{{ID: "t3", Name: "101"}}},
		{ID: "p3", Name: "Legacy", ClientID: "c2", Tasks: []model.Task{{ID: "t4", Name: "202"}, {ID: "t5", Name: "999"}}},
	}
	prio := model.PriorityTable{"Pro": 1, "Enterprise": 2, "Legacy": 1}

	byHome := CandidatesByHome(projects, []string{"101", "202", "303"})
	assert.Len(t, byHome["101"], 2, "one candidate per project")
	assert.Len(t, byHome["202"], 2)
	assert.Empty(t, byHome["303"])
	assert.NotContains(t, byHome, "999")

	sels := Enrich([]string{"101", "202", "303"}, projects, prio)
	require.Len(t, sels, 3)

	require.NotNil(t, sels[0].Chosen)
	assert.Equal(t, "p2", sels[0].Chosen.ProjectID)
	assert.Equal(t, "t3", sels[0].Chosen.TaskID)

	assert.Nil(t, sels[1].Chosen)
	assert.ErrorIs(t, sels[1].Err, model.ErrAmbiguousPriority)
	assert.Contains(t, sels[1].CandidatesJSON(), `"project":"p3"`)

	assert.ErrorIs(t, sels[2].Err, model.ErrNoMatch)
	assert.Equal(t, "[]", sels[2].CandidatesJSON())
}
