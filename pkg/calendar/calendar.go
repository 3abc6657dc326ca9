// Package calendar computes the Colombian business-day calendar.
//
// A business day is any day that is neither a Sunday nor a statutory holiday.
// Holidays are derived per year from fixed dates, moved-to-Monday dates and
// offsets from Easter Sunday, and are memoized by year.
package calendar

import (
	"sort"
	"sync"
	"time"
)

// DateLayout is the ISO calendar date layout used across the module.
const DateLayout = "2006-01-02"

// Holiday is a statutory holiday observed on Date.
type Holiday struct {
	Date time.Time `json:"date"`
	Name string    `json:"name"`
}

type monthDay struct {
	month time.Month
	day   int
	name  string
}

type easterOffset struct {
	days int
	name string
}

var (
	fixedHolidays = []monthDay{
		{time.January, 1, "Año Nuevo"},
		{time.May, 1, "Día del Trabajo"},
		{time.July, 20, "Día de la Independencia"},
		{time.August, 7, "Batalla de Boyacá"},
		{time.December, 8, "Inmaculada Concepción"},
		{time.December, 25, "Navidad"},
	}

	// Observed on the following Monday when the date is not a Monday.
	mondayHolidays = []monthDay{
		{time.January, 6, "Reyes Magos"},
		{time.March, 19, "San José"},
		{time.June, 29, "San Pedro y San Pablo"},
		{time.August, 15, "Asunción de la Virgen"},
		{time.October, 12, "Día de la Raza"},
		{time.November, 1, "Todos los Santos"},
		{time.November, 11, "Independencia de Cartagena"},
	}

	mondayEasterHolidays = []easterOffset{
		{39, "Ascensión del Señor"},
		{60, "Corpus Christi"},
		{68, "Sagrado Corazón"},
	}

	easterHolidays = []easterOffset{
		{-3, "Jueves Santo"},
		{-2, "Viernes Santo"},
	}
)

type yearHolidays struct {
	list  []Holiday
	dates []time.Time
	index map[int]string
}

// Calendar answers business-day questions and caches holidays per year.
// The zero value is not usable; use New.
type Calendar struct {
	mu    sync.RWMutex
	years map[int]*yearHolidays
}

// Default is the shared calendar used by callers that do not inject their own.
var Default = New()

// New returns a calendar with an empty holiday cache.
func New() *Calendar {
	return &Calendar{years: make(map[int]*yearHolidays)}
}

// Reset drops every cached year.
func (c *Calendar) Reset() {
	c.mu.Lock()
	c.years = make(map[int]*yearHolidays)
	c.mu.Unlock()
}

// Day truncates t to its calendar date, keeping t's own year, month and day,
// and returns it at midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// EasterSunday computes Easter Sunday of the Gregorian year using the
// Meeus/Jones/Butcher algorithm.
func EasterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// nextMonday returns date when it is a Monday, otherwise the following Monday.
func nextMonday(date time.Time) time.Time {
	shift := (int(time.Monday) - int(date.Weekday()) + 7) % 7
	return date.AddDate(0, 0, shift)
}

func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

func computeYear(year int) *yearHolidays {
	easter := EasterSunday(year)
	var list []Holiday

	for _, h := range fixedHolidays {
		list = append(list, Holiday{Date: time.Date(year, h.month, h.day, 0, 0, 0, 0, time.UTC), Name: h.name})
	}
	for _, h := range mondayHolidays {
		list = append(list, Holiday{Date: nextMonday(time.Date(year, h.month, h.day, 0, 0, 0, 0, time.UTC)), Name: h.name})
	}
	for _, h := range mondayEasterHolidays {
		list = append(list, Holiday{Date: nextMonday(easter.AddDate(0, 0, h.days)), Name: h.name})
	}
	for _, h := range easterHolidays {
		list = append(list, Holiday{Date: easter.AddDate(0, 0, h.days), Name: h.name})
	}

	sort.SliceStable(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })

	yh := &yearHolidays{index: make(map[int]string, len(list))}
	for _, h := range list {
		key := dateKey(h.Date)
		if _, dup := yh.index[key]; dup {
			continue
		}
		yh.index[key] = h.Name
		yh.list = append(yh.list, h)
		yh.dates = append(yh.dates, h.Date)
	}
	return yh
}

func (c *Calendar) year(year int) *yearHolidays {
	c.mu.RLock()
	yh, ok := c.years[year]
	c.mu.RUnlock()
	if ok {
		return yh
	}

	// Computed outside the lock; two goroutines racing on the same year
	// produce identical results and the first store wins.
	yh = computeYear(year)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.years[year]; ok {
		return existing
	}
	c.years[year] = yh
	return yh
}

// HolidaysForYear returns the sorted holiday dates of year.
func (c *Calendar) HolidaysForYear(year int) []time.Time {
	dates := c.year(year).dates
	out := make([]time.Time, len(dates))
	copy(out, dates)
	return out
}

// Holidays returns the named holidays of year, sorted by date.
func (c *Calendar) Holidays(year int) []Holiday {
	list := c.year(year).list
	out := make([]Holiday, len(list))
	copy(out, list)
	return out
}

// IsHoliday reports whether date is a statutory holiday.
func (c *Calendar) IsHoliday(date time.Time) bool {
	_, ok := c.year(date.Year()).index[dateKey(date)]
	return ok
}

// IsBusinessDay reports whether date is neither a Sunday nor a holiday.
func (c *Calendar) IsBusinessDay(date time.Time) bool {
	if date.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(date)
}

// NextBusinessDay returns the first business day strictly after date.
func (c *Calendar) NextBusinessDay(date time.Time) time.Time {
	next := Day(date).AddDate(0, 0, 1)
	for !c.IsBusinessDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// AdvanceToBusinessDay returns date itself when it is a business day,
// otherwise the next business day after it.
func (c *Calendar) AdvanceToBusinessDay(date time.Time) time.Time {
	day := Day(date)
	if c.IsBusinessDay(day) {
		return day
	}
	return c.NextBusinessDay(day)
}
