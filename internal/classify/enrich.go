package classify

import (
	appLog "timeledger/internal/log"
	"timeledger/internal/model"
)

// CandidatesByHome indexes the service's projects by customer home id: a
// project offers a customer when one of its tasks is named after the home id.
// A project is listed at most once per home id. Every requested home id is
// present in the result, possibly with no candidates.
func CandidatesByHome(projects []model.Project, homeIDs []string) map[string][]model.ProjectCandidate {
	out := make(map[string][]model.ProjectCandidate, len(homeIDs))
	for _, id := range homeIDs {
		out[id] = []model.ProjectCandidate{}
	}

	for _, p := range projects {
		for _, task := range p.Tasks {
			cands, wanted := out[task.Name]
			if !wanted || containsProject(cands, p.ID) {
				continue
			}
			out[task.Name] = append(cands, model.ProjectCandidate{
				ClientID:  p.ClientID,
				SKU:       p.Name,
				ProjectID: p.ID,
				TaskID:    task.ID,
			})
		}
	}
	return out
}

func containsProject(cands []model.ProjectCandidate, projectID string) bool {
	for _, c := range cands {
		if c.ProjectID == projectID {
			return true
		}
	}
	return false
}

// Enrich selects one project per home id. Home ids are processed in the given
// order so the result lines up with the customer table.
func Enrich(homeIDs []string, projects []model.Project, prio model.PriorityTable) []Selection {
	byHome := CandidatesByHome(projects, homeIDs)

	out := make([]Selection, 0, len(homeIDs))
	for _, id := range homeIDs {
		cands := byHome[id]
		sel := Selection{HomeID: id, Candidates: cands}

		chosen, err := SelectProject(id, cands, prio)
		if err != nil {
			sel.Err = err
			appLog.Info("enrich: customer left for review",
				"home_id", id,
				"candidates", len(cands),
				"reason", model.ClassificationLabel(err),
			)
		} else {
			sel.Chosen = &chosen
			appLog.Debug("enrich: customer resolved", "home_id", id, "sku", chosen.SKU, "project", chosen.ProjectID)
		}
		out = append(out, sel)
	}
	return out
}
