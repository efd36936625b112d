package model

import (
	"strings"
	"time"
)

// Kind distinguishes the two sources of billable activity.
type Kind string

const (
	KindMeeting Kind = "meeting"
	KindEmail   Kind = "email"
)

// Interval is a committed [Start, End] range on the owner's timeline.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether iv and other share more than a single boundary point.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

// Activity is a candidate meeting or email waiting for classification and
// window reconciliation. For emails Start == End == send time.
//
// ProjectID/TaskID/CustomerID are empty until the classifier resolves them.
type Activity struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Label      string    `json:"label"`
	Domains    []string  `json:"domains"`
	CustomerID string    `json:"customer_id,omitempty"`
	ProjectID  string    `json:"project_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`

	// Classification records why ProjectID is empty (e.g. "ambiguous").
	Classification string `json:"classification,omitempty"`
}

// Resolved reports whether the activity carries a project to bill against.
func (a Activity) Resolved() bool {
	return a.ProjectID != ""
}

// LoggedActivity is what gets committed to the time-tracking service.
type LoggedActivity struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Label     string    `json:"label"`
	ProjectID string    `json:"project_id"`
	TaskID    string    `json:"task_id"`
}

// Interval returns the committed window of the activity.
func (l LoggedActivity) Interval() Interval {
	return Interval{Start: l.Start, End: l.End}
}

// DirectoryEntry maps one participant domain to a customer and, once enriched,
// to the project/task used for billing.
type DirectoryEntry struct {
	Domain     string `json:"domain" yaml:"domain"`
	HomeID     string `json:"home_id" yaml:"home_id"`
	SKU        string `json:"sku,omitempty" yaml:"sku,omitempty"`
	CustomerID string `json:"customer_id,omitempty" yaml:"customer_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	TaskID     string `json:"task_id,omitempty" yaml:"task_id,omitempty"`

	// Candidates holds the JSON-encoded project candidates when enrichment
	// could not pick one, for manual review.
	Candidates string `json:"candidates,omitempty" yaml:"-"`
}

// Enriched reports whether the entry has been resolved to a project.
func (d DirectoryEntry) Enriched() bool {
	return d.ProjectID != ""
}

// ProjectCandidate is one project (with its per-customer task) that could
// bill a customer.
type ProjectCandidate struct {
	ClientID  string `json:"client"`
	SKU       string `json:"sku"`
	ProjectID string `json:"project"`
	TaskID    string `json:"task"`
}

// Role selects which priority column is active.
type Role string

const (
	RoleTC  Role = "TC"
	RoleIC  Role = "IC"
	RoleCT  Role = "CT"
	RoleONB Role = "ONB"
)

// Roles lists every supported role in column order.
var Roles = []Role{RoleTC, RoleIC, RoleCT, RoleONB}

// ParseRole returns the Role for s (case-insensitive) and whether it is known.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// PriorityRow ranks one SKU for one role.
type PriorityRow struct {
	SKU  string `json:"sku" yaml:"sku"`
	Role Role   `json:"role" yaml:"role"`
	Rank int    `json:"rank" yaml:"rank"`
}

// PriorityTable maps SKU name to rank for the active role. Higher wins.
type PriorityTable map[string]int

// NormalizeDomain lower-cases and trims a domain for directory lookups.
func NormalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}

// Project is a billable project as listed by the time-tracking service.
type Project struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ClientID string `json:"clientId"`
	Tasks    []Task `json:"tasks"`
}

// Task is a per-customer task within a project. Its name is the customer's
// home id.
type Task struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
