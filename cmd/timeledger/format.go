package main

import (
	"fmt"
	"sort"
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"timeledger/internal/app"
	"timeledger/internal/model"
)

var (
	purple = lipgloss.Color("99")
	gray   = lipgloss.Color("245")
	green  = lipgloss.Color("42")
	amber  = lipgloss.Color("214")

	headerStyle = lipgloss.NewStyle().Foreground(purple).Bold(true).Align(lipgloss.Center).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Foreground(gray).Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(purple)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func formatCustomers(entries []model.DirectoryEntry) string {
	if len(entries) == 0 {
		return "No customers. Load some with `timeledger import`."
	}
	t := newTable("Domain", "Home ID", "SKU", "Project", "Task", "State")
	for _, e := range entries {
		state := "enriched"
		switch {
		case e.Candidates != "":
			state = "review"
		case !e.Enriched():
			state = "pending"
		}
		t.Row(e.Domain, e.HomeID, e.SKU, e.ProjectID, e.TaskID, state)
	}
	return t.String()
}

func formatOutcomes(outs []model.Outcome) string {
	if len(outs) == 0 {
		return "No outcomes."
	}
	logged := lipgloss.NewStyle().Foreground(green).Padding(0, 1)
	skipped := lipgloss.NewStyle().Foreground(amber).Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 4 && outs[row].Status == model.StatusLogged:
				return logged
			case col == 4:
				return skipped
			default:
				return cellStyle
			}
		}).
		Headers("Start", "End", "Kind", "Label", "Status", "Reason")

	for _, o := range outs {
		kind := string(o.Kind)
		if o.Role != "" && o.Role != model.OutcomePrimary {
			kind += "/" + o.Role
		}
		t.Row(
			o.Start.Local().Format("01-02 15:04"),
			o.End.Local().Format("15:04"),
			kind,
			truncateString(o.Label, 40),
			string(o.Status),
			o.Reason,
		)
	}
	return t.String()
}

func formatSummary(rep app.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (batch %s): %d logged, %d skipped", rep.RunID, rep.BatchID, rep.Summary.Logged, rep.Summary.Skipped)
	reasons := make([]string, 0, len(rep.Summary.Reasons))
	for r := range rep.Summary.Reasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(&b, "\n  %-28s %d", r, rep.Summary.Reasons[r])
	}
	return b.String()
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
