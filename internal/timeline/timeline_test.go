package timeline

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeledger/internal/model"
)

var day = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

// at parses "15:04" on a fixed day.
func at(t *testing.T, hhmm string) time.Time {
	t.Helper()
	tod, err := time.Parse("15:04", hhmm)
	require.NoError(t, err)
	return day.Add(time.Duration(tod.Hour())*time.Hour + time.Duration(tod.Minute())*time.Minute)
}

func iv(t *testing.T, from, to string) model.Interval {
	t.Helper()
	return model.Interval{Start: at(t, from), End: at(t, to)}
}

func TestStoreOverlaps(t *testing.T) {
	s := NewStore(iv(t, "09:00", "10:00"), iv(t, "11:00", "12:00"))

	tests := []struct {
		name   string
		window model.Interval
		want   bool
	}{
		{"exact gap shares only boundaries", iv(t, "10:00", "11:00"), false},
		{"strictly inside gap", iv(t, "10:15", "10:45"), false},
		{"covers tail of first", iv(t, "09:30", "10:30"), true},
		{"covers head of second", iv(t, "10:30", "11:01"), true},
		{"covers everything", iv(t, "08:00", "13:00"), true},
		{"inside first", iv(t, "09:10", "09:20"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Overlaps(tt.window))
		})
	}
}

func TestStoreClamps(t *testing.T) {
	s := NewStore(iv(t, "09:00", "10:00"), iv(t, "09:30", "10:20"), iv(t, "10:40", "11:00"))

	end, ok := s.LatestEndBefore(at(t, "10:20"), at(t, "09:00"))
	require.True(t, ok)
	assert.Equal(t, at(t, "10:20"), end, "upper bound is inclusive")

	end, ok = s.LatestEndBefore(at(t, "10:19"), at(t, "09:00"))
	require.True(t, ok)
	assert.Equal(t, at(t, "10:00"), end)

	_, ok = s.LatestEndBefore(at(t, "10:30"), at(t, "10:20"))
	assert.False(t, ok, "lower bound is exclusive")

	start, ok := s.EarliestStartAfter(at(t, "09:00"), at(t, "12:00"))
	require.True(t, ok)
	assert.Equal(t, at(t, "09:30"), start)

	_, ok = s.EarliestStartAfter(at(t, "10:40"), at(t, "12:00"))
	assert.False(t, ok, "start equal to the lower bound is not after it")

	_, ok = s.EarliestStartAfter(at(t, "10:00"), at(t, "10:40"))
	assert.False(t, ok, "start equal to the upper bound is excluded")
}

func TestStoreIntervalsIsCopy(t *testing.T) {
	s := NewStore(iv(t, "09:00", "10:00"))
	got := s.Intervals()
	got[0].End = at(t, "23:00")
	assert.Equal(t, at(t, "10:00"), s.Intervals()[0].End)
	s.Add(iv(t, "10:00", "10:30"))
	assert.Equal(t, 2, s.Len())
}

func TestAdjustMeeting_AdvancesStartPastEarlierCommitment(t *testing.T) {
	s := NewStore(iv(t, "10:00", "10:30"))

	got, err := AdjustMeeting(s, iv(t, "10:15", "11:00"), DefaultMeetingTunables())
	require.NoError(t, err)
	assert.Equal(t, iv(t, "10:30", "11:00"), got)
}

func TestAdjustMeeting_RetractsEndBeforeLaterCommitment(t *testing.T) {
	s := NewStore(iv(t, "10:45", "11:30"), iv(t, "10:50", "11:40"))

	got, err := AdjustMeeting(s, iv(t, "10:00", "11:00"), DefaultMeetingTunables())
	require.NoError(t, err)
	assert.Equal(t, iv(t, "10:00", "10:45"), got)
}

func TestAdjustMeeting_Untouched(t *testing.T) {
	s := NewStore(iv(t, "08:00", "09:00"), iv(t, "11:00", "12:00"))

	got, err := AdjustMeeting(s, iv(t, "09:00", "11:00"), DefaultMeetingTunables())
	require.NoError(t, err)
	assert.Equal(t, iv(t, "09:00", "11:00"), got)
}

func TestAdjustMeeting_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		stored  []model.Interval
		meeting model.Interval
	}{
		{
			name:    "shrinks below half",
			stored:  []model.Interval{iv(t, "10:20", "11:30")},
			meeting: iv(t, "10:00", "11:00"),
		},
		{
			name:    "earlier commitment ends beyond tolerated delay",
			stored:  []model.Interval{iv(t, "09:00", "10:40")},
			meeting: iv(t, "10:00", "11:00"),
		},
		{
			name:    "commitment covers whole meeting",
			stored:  []model.Interval{iv(t, "09:00", "12:00")},
			meeting: iv(t, "10:00", "11:00"),
		},
		{
			name:    "zero length",
			meeting: iv(t, "10:00", "10:00"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AdjustMeeting(NewStore(tt.stored...), tt.meeting, DefaultMeetingTunables())
			assert.ErrorIs(t, err, model.ErrWindowRejected)
		})
	}
}

func TestAdjustMeeting_SecondAttemptRejected(t *testing.T) {
	s := NewStore(iv(t, "10:00", "10:30"))
	meeting := iv(t, "10:15", "11:00")

	first, err := AdjustMeeting(s, meeting, DefaultMeetingTunables())
	require.NoError(t, err)
	s.Add(first)

	_, err = AdjustMeeting(s, meeting, DefaultMeetingTunables())
	assert.ErrorIs(t, err, model.ErrWindowRejected)
}

func TestAdjustMeeting_NeverGrowsNorOverlaps(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tun := DefaultMeetingTunables()

	for i := 0; i < 500; i++ {
		s := randomStore(rng, 4)
		start := day.Add(time.Duration(8*60+rng.Intn(8*60)) * time.Minute)
		meeting := model.Interval{Start: start, End: start.Add(time.Duration(15+rng.Intn(90)) * time.Minute)}

		got, err := AdjustMeeting(s, meeting, tun)
		if err != nil {
			require.True(t, errors.Is(err, model.ErrWindowRejected), "unexpected error: %v", err)
			continue
		}
		assert.False(t, got.Start.Before(meeting.Start))
		assert.False(t, got.End.After(meeting.End))
		assert.LessOrEqual(t, got.Duration(), meeting.Duration())
		assert.False(t, s.Overlaps(got), "accepted window %v overlaps %v", got, s.Intervals())
	}
}

func TestSynthesizeEmail(t *testing.T) {
	tests := []struct {
		name   string
		stored []model.Interval
		sent   string
		want   model.Interval
	}{
		{"empty timeline", nil, "12:00", iv(t, "11:45", "12:00")},
		{"pulled back by small overlap", []model.Interval{iv(t, "11:58", "12:10")}, "12:00", iv(t, "11:43", "11:58")},
		{"pushed forward past earlier work", []model.Interval{iv(t, "11:40", "11:50")}, "12:00", iv(t, "11:50", "12:00")},
		{"earlier commitment outside window", []model.Interval{iv(t, "11:00", "11:30")}, "12:00", iv(t, "11:45", "12:00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SynthesizeEmail(NewStore(tt.stored...), at(t, tt.sent), DefaultEmailTunables())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSynthesizeEmail_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		stored []model.Interval
	}{
		{"send time deep inside a meeting", []model.Interval{iv(t, "11:50", "12:10")}},
		{"too little room before send", []model.Interval{iv(t, "11:40", "11:57")}},
		{"chained commitments before send", []model.Interval{iv(t, "11:30", "11:57"), iv(t, "11:57", "12:01")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SynthesizeEmail(NewStore(tt.stored...), at(t, "12:00"), DefaultEmailTunables())
			assert.ErrorIs(t, err, model.ErrWindowRejected)
		})
	}
}

func TestSynthesizeEmail_SecondAttemptRejected(t *testing.T) {
	s := NewStore()
	first, err := SynthesizeEmail(s, at(t, "12:00"), DefaultEmailTunables())
	require.NoError(t, err)
	s.Add(first)

	_, err = SynthesizeEmail(s, at(t, "12:00"), DefaultEmailTunables())
	assert.ErrorIs(t, err, model.ErrWindowRejected)
}

func TestSynthesizeEmail_StaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tun := DefaultEmailTunables()

	for i := 0; i < 500; i++ {
		s := randomStore(rng, 5)
		sent := day.Add(time.Duration(8*60+rng.Intn(8*60)) * time.Minute)

		got, err := SynthesizeEmail(s, sent, tun)
		if err != nil {
			require.ErrorIs(t, err, model.ErrWindowRejected)
			continue
		}
		assert.False(t, got.End.After(sent))
		assert.False(t, got.Start.Before(sent.Add(-tun.MaxEmail)))
		assert.GreaterOrEqual(t, got.Duration(), tun.MinEmail)
		assert.False(t, s.Overlaps(got))
	}
}

func TestTunablesValidate(t *testing.T) {
	assert.NoError(t, DefaultMeetingTunables().Validate())
	assert.NoError(t, DefaultEmailTunables().Validate())

	assert.Error(t, MeetingTunables{MinAdjustedFraction: 0, MaxStartDelayFraction: 0.3}.Validate())
	assert.Error(t, MeetingTunables{MinAdjustedFraction: 0.5, MaxStartDelayFraction: 1}.Validate())

	bad := DefaultEmailTunables()
	bad.MaxOverlap = bad.MinEmail
	assert.Error(t, bad.Validate())
}

// randomStore builds up to n disjoint intervals during the working day.
func randomStore(rng *rand.Rand, n int) *Store {
	s := NewStore()
	cursor := day.Add(8 * time.Hour)
	for i := 0; i < n; i++ {
		cursor = cursor.Add(time.Duration(rng.Intn(120)) * time.Minute)
		length := time.Duration(5+rng.Intn(60)) * time.Minute
		s.Add(model.Interval{Start: cursor, End: cursor.Add(length)})
		cursor = cursor.Add(length)
	}
	return s
}
