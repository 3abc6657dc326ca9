package calendar

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEasterSunday(t *testing.T) {
	cases := map[int]time.Time{
		2019: date(2019, time.April, 21),
		2024: date(2024, time.March, 31),
		2025: date(2025, time.April, 20),
		2026: date(2026, time.April, 5),
		2038: date(2038, time.April, 25),
	}
	for year, want := range cases {
		assert.Equal(t, want, EasterSunday(year), "easter %d", year)
	}
}

func TestHolidaysForYear2025(t *testing.T) {
	cal := New()
	got := cal.HolidaysForYear(2025)

	want := []time.Time{
		date(2025, time.January, 1),
		date(2025, time.January, 6),
		date(2025, time.March, 24),
		date(2025, time.April, 17),
		date(2025, time.April, 18),
		date(2025, time.May, 1),
		date(2025, time.June, 2),
		date(2025, time.June, 23),
		date(2025, time.June, 30), // San Pedro and Sagrado Corazón coincide
		date(2025, time.July, 20),
		date(2025, time.August, 7),
		date(2025, time.August, 18),
		date(2025, time.October, 13),
		date(2025, time.November, 3),
		date(2025, time.November, 17),
		date(2025, time.December, 8),
		date(2025, time.December, 25),
	}
	assert.Equal(t, want, got)
}

func TestHolyWeek2025(t *testing.T) {
	cal := New()
	assert.True(t, cal.IsHoliday(date(2025, time.April, 17)))
	assert.True(t, cal.IsHoliday(date(2025, time.April, 18)))
	assert.False(t, cal.IsHoliday(date(2025, time.April, 19)))
	assert.False(t, cal.IsHoliday(date(2025, time.April, 21)), "easter monday is not a holiday")
}

func TestMovedToMonday(t *testing.T) {
	cal := New()
	// Jan 6 2024 is a Saturday, observed Monday Jan 8.
	assert.False(t, cal.IsHoliday(date(2024, time.January, 6)))
	assert.True(t, cal.IsHoliday(date(2024, time.January, 8)))
	// Jan 6 2025 is already a Monday.
	assert.True(t, cal.IsHoliday(date(2025, time.January, 6)))
}

func TestIsBusinessDayWholeYear(t *testing.T) {
	cal := New()
	for _, year := range []int{2024, 2025, 2026} {
		holidays := map[time.Time]bool{}
		for _, h := range cal.HolidaysForYear(year) {
			holidays[h] = true
		}
		for d := date(year, time.January, 1); d.Year() == year; d = d.AddDate(0, 0, 1) {
			switch {
			case d.Weekday() == time.Sunday:
				assert.False(t, cal.IsBusinessDay(d), "sunday %s", d.Format(DateLayout))
			case holidays[d]:
				assert.False(t, cal.IsBusinessDay(d), "holiday %s", d.Format(DateLayout))
			default:
				assert.True(t, cal.IsBusinessDay(d), "weekday %s", d.Format(DateLayout))
			}
		}
	}
}

func TestNextBusinessDay(t *testing.T) {
	cal := New()
	// Saturday -> Monday
	assert.Equal(t, date(2025, time.March, 3), cal.NextBusinessDay(date(2025, time.March, 1)))
	// Wednesday before Holy Thursday -> Saturday
	assert.Equal(t, date(2025, time.April, 19), cal.NextBusinessDay(date(2025, time.April, 16)))
	// Across the year boundary: Dec 31 2025 (Wed) -> Jan 2 2026
	assert.Equal(t, date(2026, time.January, 2), cal.NextBusinessDay(date(2025, time.December, 31)))
	// Time of day is ignored
	assert.Equal(t, date(2025, time.March, 4), cal.NextBusinessDay(time.Date(2025, time.March, 3, 22, 15, 0, 0, time.UTC)))
}

func TestAdvanceToBusinessDay(t *testing.T) {
	cal := New()
	assert.Equal(t, date(2025, time.March, 3), cal.AdvanceToBusinessDay(date(2025, time.March, 3)))
	assert.Equal(t, date(2025, time.March, 25), cal.AdvanceToBusinessDay(date(2025, time.March, 23)))
}

func TestHolidaysAreNamed(t *testing.T) {
	cal := New()
	holidays := cal.Holidays(2025)
	require.Len(t, holidays, 17)
	assert.Equal(t, "Año Nuevo", holidays[0].Name)
	for _, h := range holidays {
		assert.NotEmpty(t, h.Name)
	}
}

func TestCacheIsCopiedAndResettable(t *testing.T) {
	cal := New()
	first := cal.HolidaysForYear(2025)
	first[0] = date(1999, time.January, 1)
	assert.Equal(t, date(2025, time.January, 1), cal.HolidaysForYear(2025)[0])

	cal.Reset()
	assert.Empty(t, cal.years)
	assert.Len(t, cal.HolidaysForYear(2025), 17)
	assert.Len(t, cal.years, 1)
}

func TestConcurrentAccess(t *testing.T) {
	cal := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			year := 2020 + i%4
			assert.True(t, cal.IsHoliday(date(year, time.December, 25)))
		}(i)
	}
	wg.Wait()
	assert.Len(t, cal.years, 4)
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 3, DaysBetween(date(2025, time.March, 1), time.Date(2025, time.March, 4, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, -1, DaysBetween(date(2025, time.March, 2), date(2025, time.March, 1)))
}
