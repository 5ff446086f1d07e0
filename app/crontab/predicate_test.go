package crontab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePredicate(t *testing.T) {
	tbl := []struct {
		spec    string
		wantErr bool
	}{
		{"* * * * *", false},
		{"0,30 * * * *", false},
		{"*/5 1-18 * * 1-5", false},
		{"0 0 1 JAN,DEC SUN", false},
		{"@daily", false},
		{"@yearly", false},
		{"CRON_TZ=UTC 0 1 * * *", false},
		{"* * * *", true},
		{"* * * * * *", true},
		{"61 * * * *", true},
		{"* 24 * * *", true},
		{"abc", true},
		{"", true},
		{"@every 1h", true},
		{"@reboot", true},
		{"@sometimes", true},
	}

	for _, tt := range tbl {
		t.Run(tt.spec, func(t *testing.T) {
			p, err := ParsePredicate(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, p.IsZero())
				return
			}
			require.NoError(t, err)
			assert.False(t, p.IsZero())
		})
	}
}

func TestPredicate_MatchWildcard(t *testing.T) {
	p, err := ParsePredicate("* * * * *")
	require.NoError(t, err)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	for i := 0; i < 60*24*3; i += 7 {
		assert.True(t, p.Match(ts.Add(time.Duration(i)*time.Minute)))
	}
}

func TestPredicate_MatchList(t *testing.T) {
	p, err := ParsePredicate("0,30 * * * *")
	require.NoError(t, err)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)
	matched := 0
	for i := 0; i < 60*24; i++ {
		ts := day.Add(time.Duration(i) * time.Minute)
		want := ts.Minute() == 0 || ts.Minute() == 30
		assert.Equal(t, want, p.Match(ts), "%v", ts)
		if want {
			matched++
		}
	}
	assert.Equal(t, 48, matched)
	assert.True(t, p.Match(day.Add(30*time.Minute+45*time.Second)), "seconds ignored")
}

func TestPredicate_MatchAllFieldsRequired(t *testing.T) {
	// friday the 13th only, day-of-month and day-of-week are both required
	p, err := ParsePredicate("0 0 13 * 5")
	require.NoError(t, err)

	assert.True(t, p.Match(time.Date(2026, 2, 13, 0, 0, 0, 0, time.Local)))  // friday
	assert.False(t, p.Match(time.Date(2026, 1, 13, 0, 0, 0, 0, time.Local))) // tuesday
	assert.False(t, p.Match(time.Date(2026, 2, 20, 0, 0, 0, 0, time.Local))) // friday, not 13th
	assert.False(t, p.Match(time.Date(2026, 2, 13, 0, 1, 0, 0, time.Local)))
}

func TestPredicate_MatchTimeZone(t *testing.T) {
	p, err := ParsePredicate("CRON_TZ=UTC 0 1 * * *")
	require.NoError(t, err)
	nytz, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	assert.True(t, p.Match(time.Date(2026, 6, 1, 1, 0, 0, 0, time.UTC)))
	assert.True(t, p.Match(time.Date(2026, 5, 31, 21, 0, 0, 0, nytz)), "same instant in other zone")
	assert.False(t, p.Match(time.Date(2026, 6, 1, 1, 0, 0, 0, nytz)))
}

func TestPredicate_Next(t *testing.T) {
	tbl := []struct {
		spec string
		from time.Time
		next time.Time
	}{
		{"0,30 * * * *", time.Date(2026, 3, 10, 10, 5, 0, 0, time.Local), time.Date(2026, 3, 10, 10, 30, 0, 0, time.Local)},
		{"0,30 * * * *", time.Date(2026, 3, 10, 10, 30, 0, 0, time.Local), time.Date(2026, 3, 10, 11, 0, 0, 0, time.Local)},
		{"0,30 * * * *", time.Date(2026, 3, 10, 10, 29, 59, 0, time.Local), time.Date(2026, 3, 10, 10, 30, 0, 0, time.Local)},
		{"0 0 13 * 5", time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local), time.Date(2026, 2, 13, 0, 0, 0, 0, time.Local)},
		{"0 0 1 12 *", time.Date(2026, 12, 1, 0, 0, 0, 0, time.Local), time.Date(2027, 12, 1, 0, 0, 0, 0, time.Local)},
		{"@daily", time.Date(2026, 12, 31, 23, 59, 0, 0, time.Local), time.Date(2027, 1, 1, 0, 0, 0, 0, time.Local)},
		{"0 0 31 2 *", time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local), time.Time{}},
	}

	for _, tt := range tbl {
		t.Run(tt.spec, func(t *testing.T) {
			p, err := ParsePredicate(tt.spec)
			require.NoError(t, err)
			next := p.Next(tt.from)
			if tt.next.IsZero() {
				assert.True(t, next.IsZero())
				return
			}
			assert.True(t, tt.next.Equal(next), "expected %v, got %v", tt.next, next)
			assert.True(t, p.Match(next))
		})
	}
}

func TestPredicate_Zero(t *testing.T) {
	var p Predicate
	assert.False(t, p.Match(time.Now()))
	assert.True(t, p.Next(time.Now()).IsZero())
}
