// Package engine drives one reconciliation run over candidate activities.
//
// A Run owns the interval store for the owner's timeline. Activities are
// processed strictly in the order given; every committed activity is folded
// back into the store before the next one is considered, so processing order
// is part of the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	appLog "timeledger/internal/log"
	"timeledger/internal/model"
	"timeledger/internal/timeline"
)

// Sink persists a finalized time entry.
type Sink interface {
	Commit(ctx context.Context, a model.LoggedActivity) error
}

// CommitmentSource lists intervals already committed for the owner.
type CommitmentSource interface {
	Existing(ctx context.Context, from, to time.Time) ([]model.Interval, error)
}

// Classifier fills in the billing target of an unresolved activity.
type Classifier interface {
	Classify(a model.Activity) model.Activity
}

// DefaultAuxStartDelayFraction lets a preparation or follow-up window give up
// half its length to an adjacent commitment.
const DefaultAuxStartDelayFraction = 0.5

// Options are the tunables of a run.
type Options struct {
	Meeting timeline.MeetingTunables
	Email   timeline.EmailTunables

	// PrepMax and FollowUpMax are the maximum lengths of the auxiliary
	// windows around a meeting. Zero disables the window.
	PrepMax     time.Duration
	FollowUpMax time.Duration
}

func DefaultOptions() Options {
	return Options{
		Meeting: timeline.DefaultMeetingTunables(),
		Email:   timeline.DefaultEmailTunables(),
	}
}

// Run is the explicit context of one engine invocation.
type Run struct {
	ID string

	store      *timeline.Store
	sink       Sink
	classifier Classifier
	opts       Options
	now        func() time.Time
}

// New returns a run over store. classifier may be nil, in which case only
// activities resolved upstream can be logged.
func New(store *timeline.Store, sink Sink, classifier Classifier, opts Options) *Run {
	return &Run{
		ID:         ulid.Make().String(),
		store:      store,
		sink:       sink,
		classifier: classifier,
		opts:       opts,
		now:        time.Now,
	}
}

// SeedStore builds a store from the commitments recorded in [from, to].
func SeedStore(ctx context.Context, src CommitmentSource, from, to time.Time) (*timeline.Store, error) {
	existing, err := src.Existing(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list existing commitments: %w", err)
	}
	appLog.Info("engine: seeded timeline", "intervals", len(existing),
		"from", from.Format(time.RFC3339), "to", to.Format(time.RFC3339))
	return timeline.NewStore(existing...), nil
}

// Store exposes the run's timeline.
func (r *Run) Store() *timeline.Store { return r.store }

// Process handles activities in order and returns one outcome per primary
// activity plus one per attempted preparation/follow-up window. No activity
// aborts the run; context cancellation stops it between activities.
func (r *Run) Process(ctx context.Context, activities []model.Activity) []model.Outcome {
	outcomes := make([]model.Outcome, 0, len(activities))
	for _, a := range activities {
		if ctx.Err() != nil {
			appLog.Warn("engine: run cancelled", "run", r.ID, "remaining", len(activities)-len(outcomes))
			break
		}
		outcomes = append(outcomes, r.processOne(ctx, a)...)
	}
	return outcomes
}

func (r *Run) processOne(ctx context.Context, a model.Activity) []model.Outcome {
	if !a.Resolved() && r.classifier != nil && len(a.Domains) > 0 {
		a = r.classifier.Classify(a)
	}
	if !a.Resolved() {
		reason := a.Classification
		if reason == "" {
			reason = "no project"
		}
		err := fmt.Errorf("%s: %w", reason, model.ErrUnclassified)
		return []model.Outcome{r.skip(a, model.OutcomePrimary, a.Start, a.End, err)}
	}

	window, err := r.window(a)
	if err != nil {
		return []model.Outcome{r.skip(a, model.OutcomePrimary, a.Start, a.End, err)}
	}

	primary := r.commit(ctx, a, model.OutcomePrimary, a.Label, window)
	out := []model.Outcome{primary}
	if a.Kind != model.KindMeeting || primary.Status != model.StatusLogged {
		return out
	}

	if r.opts.PrepMax > 0 {
		prep := model.Interval{Start: window.Start.Add(-r.opts.PrepMax), End: window.Start}
		out = append(out, r.auxiliary(ctx, a, model.OutcomePreparation, "Preparation: "+a.Label, prep))
	}
	if r.opts.FollowUpMax > 0 {
		follow := model.Interval{Start: window.End, End: window.End.Add(r.opts.FollowUpMax)}
		out = append(out, r.auxiliary(ctx, a, model.OutcomeFollowUp, "Follow-up: "+a.Label, follow))
	}
	return out
}

func (r *Run) window(a model.Activity) (model.Interval, error) {
	switch a.Kind {
	case model.KindMeeting:
		return timeline.AdjustMeeting(r.store, model.Interval{Start: a.Start, End: a.End}, r.opts.Meeting)
	case model.KindEmail:
		return timeline.SynthesizeEmail(r.store, a.End, r.opts.Email)
	default:
		return model.Interval{}, fmt.Errorf("unknown activity kind %q", a.Kind)
	}
}

// auxiliary tries a preparation or follow-up window; it must keep at least
// half of its maximum length.
func (r *Run) auxiliary(ctx context.Context, a model.Activity, role, label string, w model.Interval) model.Outcome {
	tun := timeline.MeetingTunables{
		MinAdjustedFraction:   0.5,
		MaxStartDelayFraction: DefaultAuxStartDelayFraction,
	}
	adjusted, err := timeline.AdjustMeeting(r.store, w, tun)
	if err != nil {
		return r.skip(a, role, w.Start, w.End, err)
	}
	return r.commit(ctx, a, role, label, adjusted)
}

func (r *Run) commit(ctx context.Context, a model.Activity, role, label string, w model.Interval) model.Outcome {
	entry := model.LoggedActivity{
		Start:     w.Start,
		End:       w.End,
		Label:     label,
		ProjectID: a.ProjectID,
		TaskID:    a.TaskID,
	}
	if err := r.sink.Commit(ctx, entry); err != nil {
		appLog.Error("engine: commit failed", err, "run", r.ID, "activity", a.ID, "role", role)
		return r.skip(a, role, w.Start, w.End, fmt.Errorf("%w: %v", model.ErrSinkFailure, err))
	}
	r.store.Add(w)

	appLog.Info("engine: logged",
		"run", r.ID,
		"activity", a.ID,
		"kind", a.Kind,
		"role", role,
		"start", w.Start.Format(time.RFC3339),
		"end", w.End.Format(time.RFC3339),
		"project", a.ProjectID,
	)
	o := r.outcome(a, role, w.Start, w.End)
	o.Label = label
	o.Status = model.StatusLogged
	return o
}

func (r *Run) skip(a model.Activity, role string, start, end time.Time, err error) model.Outcome {
	reason := model.ReasonFor(err)
	if errors.Is(err, model.ErrSinkFailure) {
		appLog.Warn("engine: skipped after sink failure", "run", r.ID, "activity", a.ID, "role", role)
	} else {
		appLog.Debug("engine: skipped", "run", r.ID, "activity", a.ID, "role", role, "reason", reason, "detail", err.Error())
	}
	o := r.outcome(a, role, start, end)
	o.Status = model.StatusSkipped
	o.Reason = reason
	o.Detail = err.Error()
	return o
}

func (r *Run) outcome(a model.Activity, role string, start, end time.Time) model.Outcome {
	return model.Outcome{
		ID:         ulid.Make().String(),
		RunID:      r.ID,
		ActivityID: a.ID,
		Kind:       a.Kind,
		Role:       role,
		Label:      a.Label,
		Start:      start,
		End:        end,
		ProjectID:  a.ProjectID,
		TaskID:     a.TaskID,
		CreatedAt:  r.now().UTC(),
	}
}

// Summary counts outcomes by status and skip reason.
type Summary struct {
	Logged  int            `json:"logged"`
	Skipped int            `json:"skipped"`
	Reasons map[string]int `json:"reasons"`
}

func Summarize(outcomes []model.Outcome) Summary {
	s := Summary{Reasons: map[string]int{}}
	for _, o := range outcomes {
		switch o.Status {
		case model.StatusLogged:
			s.Logged++
		case model.StatusSkipped:
			s.Skipped++
			s.Reasons[o.Reason]++
		}
	}
	return s
}
