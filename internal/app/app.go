// Package app wires the ingestion sources, the row store, the classifier and
// the engine into the operations exposed by the CLI and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"timeledger/internal/classify"
	"timeledger/internal/engine"
	appLog "timeledger/internal/log"
	"timeledger/internal/model"
	"timeledger/internal/store"
)

// MeetingSource lists candidate meetings in a time range.
type MeetingSource interface {
	Meetings(ctx context.Context, from, to time.Time) ([]model.Activity, error)
}

// EmailSource lists candidate sent emails in a time range.
type EmailSource interface {
	Emails(ctx context.Context, from, to time.Time) ([]model.Activity, error)
}

// Tracker is the time-tracking service: it lists projects for enrichment,
// lists existing commitments and accepts new entries.
type Tracker interface {
	engine.Sink
	engine.CommitmentSource
	ListProjects(ctx context.Context) ([]model.Project, error)
}

// ErrNoBatch is returned by Log when no refresh has been recorded yet.
var ErrNoBatch = errors.New("no refreshed activities; run refresh first")

// App holds the collaborators of every operation.
type App struct {
	Store    store.StoreInterface
	Meetings MeetingSource // optional
	Emails   EmailSource   // optional
	Tracker  Tracker

	Role     model.Role
	Lookback time.Duration
	Options  engine.Options

	// LockPath serializes Run across processes. Empty disables locking.
	LockPath string

	Now func() time.Time
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Directory loads and validates the customer directory.
func (a *App) Directory() (*classify.Directory, error) {
	entries, err := a.Store.ListCustomers()
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return classify.NewDirectory(entries)
}

// RefreshResult describes one recorded batch.
type RefreshResult struct {
	BatchID    string `json:"batch_id"`
	Meetings   int    `json:"meetings"`
	Emails     int    `json:"emails"`
	Classified int    `json:"classified"`
}

// Refresh collects meetings and emails from the lookback window, classifies
// them against the directory and records them as a new batch. A failing
// source fails the refresh; no partial batch is written.
func (a *App) Refresh(ctx context.Context) (RefreshResult, error) {
	dir, err := a.Directory()
	if err != nil {
		return RefreshResult{}, err
	}

	to := a.now()
	from := to.Add(-a.Lookback)

	var activities []model.Activity
	res := RefreshResult{BatchID: ulid.Make().String()}
	if a.Meetings != nil {
		ms, err := a.Meetings.Meetings(ctx, from, to)
		if err != nil {
			return RefreshResult{}, fmt.Errorf("collect meetings: %w", err)
		}
		res.Meetings = len(ms)
		activities = append(activities, ms...)
	}
	if a.Emails != nil {
		es, err := a.Emails.Emails(ctx, from, to)
		if err != nil {
			return RefreshResult{}, fmt.Errorf("collect emails: %w", err)
		}
		res.Emails = len(es)
		activities = append(activities, es...)
	}

	for i := range activities {
		activities[i] = dir.Classify(activities[i])
		if activities[i].Resolved() {
			res.Classified++
		}
	}

	if err := a.Store.RecordBatch(res.BatchID, to, activities); err != nil {
		return RefreshResult{}, fmt.Errorf("record batch: %w", err)
	}
	appLog.Info("refresh: batch recorded",
		"batch", res.BatchID,
		"meetings", res.Meetings,
		"emails", res.Emails,
		"classified", res.Classified,
	)
	return res, nil
}

// EnrichResult counts the customers resolved by Enrich.
type EnrichResult struct {
	Resolved   int                  `json:"resolved"`
	Unresolved int                  `json:"unresolved"`
	Selections []classify.Selection `json:"-"`
}

// Enrich matches every customer home id against the tracker's projects and
// records the chosen project, or the candidates for manual review.
func (a *App) Enrich(ctx context.Context) (EnrichResult, error) {
	homeIDs, err := a.Store.HomeIDs()
	if err != nil {
		return EnrichResult{}, fmt.Errorf("list home ids: %w", err)
	}
	rows, err := a.Store.ListPriorities()
	if err != nil {
		return EnrichResult{}, fmt.Errorf("list priorities: %w", err)
	}
	projects, err := a.Tracker.ListProjects(ctx)
	if err != nil {
		return EnrichResult{}, fmt.Errorf("list projects: %w", err)
	}

	sels := classify.Enrich(homeIDs, projects, classify.PriorityTableFor(rows, a.Role))
	res := EnrichResult{Selections: sels}
	for _, sel := range sels {
		if sel.Chosen != nil {
			err = a.Store.SetCustomerProject(sel.HomeID, *sel.Chosen)
			res.Resolved++
		} else {
			err = a.Store.SetCustomerCandidates(sel.HomeID, sel.CandidatesJSON())
			res.Unresolved++
		}
		if err != nil {
			return res, fmt.Errorf("update customer %s: %w", sel.HomeID, err)
		}
	}
	appLog.Info("enrich: customers updated", "resolved", res.Resolved, "unresolved", res.Unresolved, "role", a.Role)
	return res, nil
}

// Report is the result of one logging run.
type Report struct {
	RunID    string          `json:"run_id"`
	BatchID  string          `json:"batch_id"`
	Summary  engine.Summary  `json:"summary"`
	Outcomes []model.Outcome `json:"outcomes"`
}

// Log reconciles the latest batch against the tracker's existing entries and
// commits what fits. Outcomes are appended to the store even when the run
// was cancelled part-way.
func (a *App) Log(ctx context.Context) (Report, error) {
	batch, err := a.Store.LatestBatch()
	if err != nil {
		return Report{}, fmt.Errorf("latest batch: %w", err)
	}
	if batch == "" {
		return Report{}, ErrNoBatch
	}
	activities, err := a.Store.BatchActivities(batch)
	if err != nil {
		return Report{}, fmt.Errorf("load batch %s: %w", batch, err)
	}
	dir, err := a.Directory()
	if err != nil {
		return Report{}, err
	}

	from, to := a.span(activities)
	tl, err := engine.SeedStore(ctx, overlapping{src: a.Tracker}, from, to)
	if err != nil {
		return Report{}, err
	}

	run := engine.New(tl, a.Tracker, dir, a.Options)
	outcomes := run.Process(ctx, activities)
	if err := a.Store.AppendOutcomes(outcomes); err != nil {
		return Report{}, fmt.Errorf("record outcomes: %w", err)
	}

	rep := Report{RunID: run.ID, BatchID: batch, Summary: engine.Summarize(outcomes), Outcomes: outcomes}
	appLog.Info("log: run finished",
		"run", rep.RunID,
		"batch", batch,
		"logged", rep.Summary.Logged,
		"skipped", rep.Summary.Skipped,
	)
	return rep, ctx.Err()
}

// span is the range of existing commitments that can affect the windows of
// activities: every window lies within the activity itself, the email
// window before the send time, or the auxiliary windows around a meeting.
func (a *App) span(activities []model.Activity) (time.Time, time.Time) {
	if len(activities) == 0 {
		now := a.now()
		return now.Add(-a.Lookback), now
	}
	from, to := activities[0].Start, activities[0].End
	for _, act := range activities[1:] {
		if act.Start.Before(from) {
			from = act.Start
		}
		if act.End.After(to) {
			to = act.End
		}
	}
	before := a.Options.Email.MaxEmail
	if a.Options.PrepMax > before {
		before = a.Options.PrepMax
	}
	return from.Add(-before), to.Add(a.Options.FollowUpMax)
}

// Run performs a refresh followed by a logging run while holding the run
// lock.
func (a *App) Run(ctx context.Context) (Report, error) {
	unlock, err := acquireLock(ctx, a.LockPath)
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	if _, err := a.Refresh(ctx); err != nil {
		return Report{}, err
	}
	return a.Log(ctx)
}

// seedMargin widens the commitment query on both sides. The tracker filters
// entries by their own start and end, so an entry that began before the span
// and still runs into it is only returned by a wider query.
const seedMargin = 24 * time.Hour

// overlapping queries src with seedMargin around [from, to] and keeps the
// intervals that intersect it.
type overlapping struct {
	src engine.CommitmentSource
}

func (o overlapping) Existing(ctx context.Context, from, to time.Time) ([]model.Interval, error) {
	ivs, err := o.src.Existing(ctx, from.Add(-seedMargin), to.Add(seedMargin))
	if err != nil {
		return nil, err
	}
	span := model.Interval{Start: from, End: to}
	out := make([]model.Interval, 0, len(ivs))
	for _, iv := range ivs {
		if iv.Overlaps(span) {
			out = append(out, iv)
		}
	}
	return out, nil
}
