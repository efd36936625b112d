package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeledger/internal/classify"
	"timeledger/internal/model"
	"timeledger/internal/timeline"
)

var day = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time {
	return day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

type fakeSink struct {
	committed []model.LoggedActivity
	failOn    map[string]bool
}

func (s *fakeSink) Commit(_ context.Context, a model.LoggedActivity) error {
	if s.failOn[a.Label] {
		return errors.New("503 service unavailable")
	}
	s.committed = append(s.committed, a)
	return nil
}

type fakeCommitments struct {
	intervals []model.Interval
	err       error
}

func (f fakeCommitments) Existing(context.Context, time.Time, time.Time) ([]model.Interval, error) {
	return f.intervals, f.err
}

func meeting(id string, from, to time.Time) model.Activity {
	return model.Activity{ID: id, Kind: model.KindMeeting, Start: from, End: to, Label: "Sync " + id, ProjectID: "p1", TaskID: "t1"}
}

func email(id string, sent time.Time) model.Activity {
	return model.Activity{ID: id, Kind: model.KindEmail, Start: sent, End: sent, Label: "Re: " + id, ProjectID: "p1", TaskID: "t1"}
}

func TestProcess_MeetingShiftedPastSeededCommitment(t *testing.T) {
	sink := &fakeSink{}
	store := timeline.NewStore(model.Interval{Start: at(10, 0), End: at(10, 30)})
	run := New(store, sink, nil, DefaultOptions())

	out := run.Process(context.Background(), []model.Activity{meeting("m1", at(10, 15), at(11, 0))})

	require.Len(t, out, 1)
	assert.Equal(t, model.StatusLogged, out[0].Status)
	assert.Equal(t, at(10, 30), out[0].Start)
	assert.Equal(t, at(11, 0), out[0].End)
	require.Len(t, sink.committed, 1)
	assert.Equal(t, "p1", sink.committed[0].ProjectID)
	assert.Equal(t, 2, store.Len())
}

func TestProcess_OrderIsSignificant(t *testing.T) {
	m := meeting("m1", at(10, 0), at(11, 0))
	e := email("e1", at(10, 30))

	run := New(timeline.NewStore(), &fakeSink{}, nil, DefaultOptions())
	out := run.Process(context.Background(), []model.Activity{m, e})
	require.Len(t, out, 2)
	assert.Equal(t, model.StatusLogged, out[0].Status)
	assert.Equal(t, model.StatusSkipped, out[1].Status)
	assert.Equal(t, model.ReasonOverlaps, out[1].Reason)

	run = New(timeline.NewStore(), &fakeSink{}, nil, DefaultOptions())
	out = run.Process(context.Background(), []model.Activity{e, m})
	require.Len(t, out, 2)
	assert.Equal(t, model.StatusLogged, out[0].Status)
	assert.Equal(t, at(10, 15), out[0].Start)
	assert.Equal(t, model.StatusSkipped, out[1].Status, "the meeting would shrink below half")
}

func TestProcess_SameActivityTwiceIsLoggedOnce(t *testing.T) {
	sink := &fakeSink{}
	run := New(timeline.NewStore(), sink, nil, DefaultOptions())

	out := run.Process(context.Background(), []model.Activity{
		email("e1", at(12, 0)), email("e1", at(12, 0)),
		meeting("m1", at(14, 0), at(15, 0)), meeting("m1", at(14, 0), at(15, 0)),
	})

	require.Len(t, out, 4)
	assert.Equal(t, model.StatusLogged, out[0].Status)
	assert.Equal(t, model.ReasonOverlaps, out[1].Reason)
	assert.Equal(t, model.StatusLogged, out[2].Status)
	assert.Equal(t, model.ReasonOverlaps, out[3].Reason)
	assert.Len(t, sink.committed, 2)
}

func TestProcess_Unclassified(t *testing.T) {
	dir, err := classify.NewDirectory([]model.DirectoryEntry{
		{Domain: "acme.com", HomeID: "1", CustomerID: "c1", ProjectID: "p-acme", TaskID: "t-acme"},
		{Domain: "globex.io", HomeID: "2", CustomerID: "c2", ProjectID: "p-globex", TaskID: "t-globex"},
	})
	require.NoError(t, err)

	resolvable := model.Activity{ID: "e1", Kind: model.KindEmail, Start: at(9, 0), End: at(9, 0), Domains: []string{"acme.com"}}
	ambiguous := model.Activity{ID: "e2", Kind: model.KindEmail, Start: at(10, 0), End: at(10, 0), Domains: []string{"acme.com", "globex.io"}}
	bare := model.Activity{ID: "e3", Kind: model.KindEmail, Start: at(11, 0), End: at(11, 0)}

	sink := &fakeSink{}
	run := New(timeline.NewStore(), sink, dir, DefaultOptions())
	out := run.Process(context.Background(), []model.Activity{resolvable, ambiguous, bare})

	require.Len(t, out, 3)
	assert.Equal(t, model.StatusLogged, out[0].Status)
	assert.Equal(t, "p-acme", out[0].ProjectID)
	assert.Equal(t, model.ReasonUnclassified, out[1].Reason)
	assert.Contains(t, out[1].Detail, "ambiguous")
	assert.Equal(t, model.ReasonUnclassified, out[2].Reason)
	require.Len(t, sink.committed, 1)
	assert.Equal(t, "t-acme", sink.committed[0].TaskID)
}

func TestProcess_SinkFailureDoesNotBlockTimeline(t *testing.T) {
	first := meeting("m1", at(10, 0), at(11, 0))
	second := meeting("m2", at(10, 0), at(11, 0))
	sink := &fakeSink{failOn: map[string]bool{first.Label: true}}
	store := timeline.NewStore()
	run := New(store, sink, nil, DefaultOptions())

	out := run.Process(context.Background(), []model.Activity{first, second})

	require.Len(t, out, 2)
	assert.Equal(t, model.StatusSkipped, out[0].Status)
	assert.Equal(t, model.ReasonSinkError, out[0].Reason)
	assert.Contains(t, out[0].Detail, "503")
	assert.Equal(t, model.StatusLogged, out[1].Status, "failed commit must not reserve time")
	assert.Equal(t, 1, store.Len())
}

func TestProcess_AuxiliaryWindows(t *testing.T) {
	opts := DefaultOptions()
	opts.PrepMax = 10 * time.Minute
	opts.FollowUpMax = 10 * time.Minute

	sink := &fakeSink{}
	store := timeline.NewStore(
		model.Interval{Start: at(9, 40), End: at(9, 54)},
		model.Interval{Start: at(11, 2), End: at(12, 0)},
	)
	run := New(store, sink, nil, opts)
	out := run.Process(context.Background(), []model.Activity{meeting("m1", at(10, 0), at(11, 0))})

	require.Len(t, out, 3)
	assert.Equal(t, model.OutcomePrimary, out[0].Role)
	assert.Equal(t, model.StatusLogged, out[0].Status)

	assert.Equal(t, model.OutcomePreparation, out[1].Role)
	assert.Equal(t, model.StatusLogged, out[1].Status)
	assert.Equal(t, at(9, 54), out[1].Start)
	assert.Equal(t, at(10, 0), out[1].End)
	assert.Equal(t, "Preparation: Sync m1", out[1].Label)

	assert.Equal(t, model.OutcomeFollowUp, out[2].Role)
	assert.Equal(t, model.StatusSkipped, out[2].Status, "two minutes is less than half of ten")
	assert.Equal(t, model.ReasonOverlaps, out[2].Reason)

	assert.Len(t, sink.committed, 2)
}

func TestProcess_AuxiliaryFailureKeepsPrimary(t *testing.T) {
	opts := DefaultOptions()
	opts.PrepMax = 15 * time.Minute
	m := meeting("m1", at(10, 0), at(11, 0))
	sink := &fakeSink{failOn: map[string]bool{"Preparation: " + m.Label: true}}

	out := New(timeline.NewStore(), sink, nil, opts).Process(context.Background(), []model.Activity{m})

	require.Len(t, out, 2)
	assert.Equal(t, model.StatusLogged, out[0].Status)
	assert.Equal(t, model.ReasonSinkError, out[1].Reason)
}

func TestProcess_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := New(timeline.NewStore(), &fakeSink{}, nil, DefaultOptions()).
		Process(ctx, []model.Activity{email("e1", at(12, 0))})
	assert.Empty(t, out)
}

func TestSeedStore(t *testing.T) {
	src := fakeCommitments{intervals: []model.Interval{{Start: at(9, 0), End: at(10, 0)}}}
	store, err := SeedStore(context.Background(), src, at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	_, err = SeedStore(context.Background(), fakeCommitments{err: errors.New("401")}, at(0, 0), at(23, 0))
	assert.ErrorContains(t, err, "401")
}

func TestSummarize(t *testing.T) {
	s := Summarize([]model.Outcome{
		{Status: model.StatusLogged},
		{Status: model.StatusSkipped, Reason: model.ReasonOverlaps},
		{Status: model.StatusSkipped, Reason: model.ReasonOverlaps},
		{Status: model.StatusSkipped, Reason: model.ReasonUnclassified},
	})
	assert.Equal(t, 1, s.Logged)
	assert.Equal(t, 3, s.Skipped)
	assert.Equal(t, 2, s.Reasons[model.ReasonOverlaps])
}
