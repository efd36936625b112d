// Package classify resolves participant domains to the customer, project and
// task an activity is billed against, and picks a customer's project from
// the candidates offered by the time-tracking service.
//
// Both decisions are strict: disagreement between matched domains, or a tie
// at the top of the priority table, is reported as ambiguity rather than
// resolved by guessing, so that the directory can be corrected by hand.
package classify

import (
	"fmt"
	"strings"

	"timeledger/internal/model"
)

// Directory is a read-only, domain-keyed snapshot of the customer table.
type Directory struct {
	byDomain map[string]model.DirectoryEntry
	pending  int
}

// NewDirectory validates entries and indexes the enriched ones by normalized
// domain. A row without a domain or home id, a duplicated domain, or an
// enriched row missing its customer/task is rejected with
// model.ErrInvalidDirectory, since it would poison every classification in
// the run.
func NewDirectory(entries []model.DirectoryEntry) (*Directory, error) {
	d := &Directory{byDomain: make(map[string]model.DirectoryEntry, len(entries))}
	seen := make(map[string]struct{}, len(entries))

	for i, e := range entries {
		domain := model.NormalizeDomain(e.Domain)
		if domain == "" || strings.TrimSpace(e.HomeID) == "" {
			return nil, fmt.Errorf("row %d (%q): domain and home id are required: %w", i+1, e.Domain, model.ErrInvalidDirectory)
		}
		if _, dup := seen[domain]; dup {
			return nil, fmt.Errorf("row %d: domain %q listed twice: %w", i+1, domain, model.ErrInvalidDirectory)
		}
		seen[domain] = struct{}{}

		if !e.Enriched() {
			d.pending++
			continue
		}
		if e.CustomerID == "" || e.TaskID == "" {
			return nil, fmt.Errorf("row %d (%s): project %s without customer or task: %w", i+1, domain, e.ProjectID, model.ErrInvalidDirectory)
		}
		e.Domain = domain
		d.byDomain[domain] = e
	}
	return d, nil
}

// Len returns the number of domains that can be resolved.
func (d *Directory) Len() int { return len(d.byDomain) }

// Pending returns the number of known domains not yet enriched with a project.
func (d *Directory) Pending() int { return d.pending }

// Lookup returns the enriched entry for domain.
func (d *Directory) Lookup(domain string) (model.DirectoryEntry, bool) {
	e, ok := d.byDomain[model.NormalizeDomain(domain)]
	return e, ok
}

// ResolveDomains maps a participant domain set to a single directory entry.
//
// Domains are walked in input order. The first hit seeds the result; every
// later hit must carry the same project or the whole set is ambiguous.
// Domains without a hit are ignored, and no hit at all is model.ErrNoMatch.
func (d *Directory) ResolveDomains(domains []string) (model.DirectoryEntry, error) {
	var (
		seed  model.DirectoryEntry
		found bool
	)
	for _, domain := range domains {
		e, ok := d.Lookup(domain)
		if !ok {
			continue
		}
		if !found {
			seed, found = e, true
			continue
		}
		if e.ProjectID != seed.ProjectID {
			return model.DirectoryEntry{}, fmt.Errorf("%s bills %s but %s bills %s: %w",
				seed.Domain, seed.ProjectID, e.Domain, e.ProjectID, model.ErrAmbiguous)
		}
	}
	if !found {
		return model.DirectoryEntry{}, fmt.Errorf("none of %s: %w", strings.Join(domains, ";"), model.ErrNoMatch)
	}
	return seed, nil
}

// Classify returns a copy of a with customer, project and task filled in, or
// with Classification set to the reason it could not be.
func (d *Directory) Classify(a model.Activity) model.Activity {
	e, err := d.ResolveDomains(a.Domains)
	if err != nil {
		a.Classification = model.ClassificationLabel(err)
		return a
	}
	a.CustomerID = e.CustomerID
	a.ProjectID = e.ProjectID
	a.TaskID = e.TaskID
	a.Classification = ""
	return a
}
