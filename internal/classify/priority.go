package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"timeledger/internal/model"
)

// PriorityTableFor builds the active priority column for role from the
// stored rows. Rows for other roles are ignored.
func PriorityTableFor(rows []model.PriorityRow, role model.Role) model.PriorityTable {
	t := make(model.PriorityTable)
	for _, r := range rows {
		if r.Role != role || strings.TrimSpace(r.SKU) == "" {
			continue
		}
		t[r.SKU] = r.Rank
	}
	return t
}

// SelectProject picks the candidate whose SKU has the strictly highest rank
// in prio. Candidates with an unranked SKU are ignored. A tie for the top
// rank is model.ErrAmbiguousPriority; the input order never breaks ties.
func SelectProject(homeID string, candidates []model.ProjectCandidate, prio model.PriorityTable) (model.ProjectCandidate, error) {
	var (
		best     model.ProjectCandidate
		bestRank int
		ties     int
	)
	for _, c := range candidates {
		rank, ok := prio[c.SKU]
		if !ok {
			continue
		}
		switch {
		case ties == 0 || rank > bestRank:
			best, bestRank, ties = c, rank, 1
		case rank == bestRank:
			ties++
		}
	}

	switch {
	case ties == 0:
		return model.ProjectCandidate{}, fmt.Errorf("home %s: no ranked candidate among %d: %w", homeID, len(candidates), model.ErrNoMatch)
	case ties > 1:
		return model.ProjectCandidate{}, fmt.Errorf("home %s: %d candidates share rank %d: %w", homeID, ties, bestRank, model.ErrAmbiguousPriority)
	}
	return best, nil
}

// Selection is the enrichment result for one customer home id. Exactly one
// of Chosen or Err is set; Candidates is kept for manual review on error.
type Selection struct {
	HomeID     string
	Chosen     *model.ProjectCandidate
	Candidates []model.ProjectCandidate
	Err        error
}

// CandidatesJSON encodes the candidates the way they are stored for review.
func (s Selection) CandidatesJSON() string {
	cands := s.Candidates
	if cands == nil {
		cands = []model.ProjectCandidate{}
	}
	b, err := json.Marshal(cands)
	if err != nil {
		return ""
	}
	return string(b)
}
