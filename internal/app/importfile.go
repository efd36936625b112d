package app

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"timeledger/internal/classify"
	appLog "timeledger/internal/log"
	"timeledger/internal/model"
)

// DirectoryFile is the YAML document accepted by Import:
//
//	customers:
//	  - domain: acme.com
//	    home_id: "1001"
//	priorities:
//	  - sku: Enterprise
//	    ranks: {TC: 3, IC: 1}
type DirectoryFile struct {
	Customers  []model.DirectoryEntry `yaml:"customers"`
	Priorities []SKURanks             `yaml:"priorities"`
}

// SKURanks is one row of the priority table: a rank per role column.
type SKURanks struct {
	SKU   string         `yaml:"sku"`
	Ranks map[string]int `yaml:"ranks"`
}

// Rows flattens the priority table. Unknown roles are an error.
func (f DirectoryFile) Rows() ([]model.PriorityRow, error) {
	var out []model.PriorityRow
	for _, p := range f.Priorities {
		sku := strings.TrimSpace(p.SKU)
		if sku == "" {
			return nil, errors.New("priority row without sku")
		}
		for name, rank := range p.Ranks {
			role, ok := model.ParseRole(name)
			if !ok {
				return nil, fmt.Errorf("sku %s: unknown role %q", sku, name)
			}
			out = append(out, model.PriorityRow{SKU: sku, Role: role, Rank: rank})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SKU != out[j].SKU {
			return out[i].SKU < out[j].SKU
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

// ImportResult counts what Import wrote.
type ImportResult struct {
	Customers  int `json:"customers"`
	Priorities int `json:"priorities"`
}

// Import loads a directory file and merges it into the store. Customers are
// upserted by domain; a non-empty priority section replaces the whole table.
// The resulting directory is validated before anything is written.
func (a *App) Import(path string) (ImportResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ImportResult{}, err
	}
	var f DirectoryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return ImportResult{}, fmt.Errorf("parse %s: %w", path, err)
	}
	rows, err := f.Rows()
	if err != nil {
		return ImportResult{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if _, err := classify.NewDirectory(f.Customers); err != nil {
		return ImportResult{}, fmt.Errorf("import %s: %w", path, err)
	}
	existing, err := a.Store.ListCustomers()
	if err != nil {
		return ImportResult{}, fmt.Errorf("list customers: %w", err)
	}
	merged := make(map[string]model.DirectoryEntry, len(existing)+len(f.Customers))
	for _, e := range existing {
		merged[e.Domain] = e
	}
	for _, e := range f.Customers {
		merged[model.NormalizeDomain(e.Domain)] = e
	}
	all := make([]model.DirectoryEntry, 0, len(merged))
	for _, e := range merged {
		all = append(all, e)
	}
	if _, err := classify.NewDirectory(all); err != nil {
		return ImportResult{}, fmt.Errorf("import %s: %w", path, err)
	}

	if err := a.Store.UpsertCustomers(f.Customers); err != nil {
		return ImportResult{}, err
	}
	if len(rows) > 0 {
		if err := a.Store.ReplacePriorities(rows); err != nil {
			return ImportResult{}, err
		}
	}
	appLog.Info("import: directory loaded", "path", path, "customers", len(f.Customers), "priorities", len(rows))
	return ImportResult{Customers: len(f.Customers), Priorities: len(rows)}, nil
}
