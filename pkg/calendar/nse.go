// Package calendar answers "is the market open" for NSE/BSE sessions in
// Indian Standard Time.
package calendar

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// IST is fixed at UTC+05:30; India does not observe daylight saving.
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session marks the phase of the trading day.
type Session string

const (
	SessionClosed  Session = "CLOSED"
	SessionPreOpen Session = "PRE_OPEN"
	SessionRegular Session = "REGULAR"
	SessionPost    Session = "POST_CLOSE"
)

// Session boundaries, minutes from midnight IST. The regular session is
// half-open: the open instant trades, the close instant does not.
const (
	preOpenStart = 9 * 60        // 09:00
	regularOpen  = 9*60 + 15     // 09:15
	regularClose = 15*60 + 30    // 15:30
	postStart    = 15*60 + 40    // 15:40
	postEnd      = 16 * 60       // 16:00
)

// NSE exchange holidays. Weekends are handled separately.
var defaultHolidays = []string{
	// 2025
	"2025-02-26", // Maha Shivratri
	"2025-03-14", // Holi
	"2025-03-31", // Id-Ul-Fitr
	"2025-04-10", // Shri Mahavir Jayanti
	"2025-04-14", // Dr. Ambedkar Jayanti
	"2025-04-18", // Good Friday
	"2025-05-01", // Maharashtra Day
	"2025-08-15", // Independence Day
	"2025-08-27", // Ganesh Chaturthi
	"2025-10-02", // Gandhi Jayanti / Dussehra
	"2025-10-21", // Diwali Laxmi Pujan
	"2025-10-22", // Diwali Balipratipada
	"2025-11-05", // Guru Nanak Jayanti
	"2025-12-25", // Christmas
	// 2026
	"2026-01-26", // Republic Day
	"2026-03-03", // Holi
	"2026-03-20", // Id-Ul-Fitr
	"2026-04-01", // Annual Bank Closing
	"2026-04-03", // Good Friday
	"2026-04-14", // Dr. Ambedkar Jayanti
	"2026-05-01", // Maharashtra Day
	"2026-08-15", // Independence Day
	"2026-10-02", // Gandhi Jayanti
	"2026-11-09", // Diwali Laxmi Pujan
	"2026-11-10", // Diwali Balipratipada
	"2026-11-24", // Guru Nanak Jayanti
	"2026-12-25", // Christmas
}

// Calendar holds the holiday set and resolves session state. Safe for
// concurrent use.
type Calendar struct {
	mu       sync.RWMutex
	holidays map[string]struct{}
}

// New creates a Calendar seeded with the builtin NSE holiday list.
func New() *Calendar {
	c := &Calendar{holidays: make(map[string]struct{}, len(defaultHolidays))}
	for _, d := range defaultHolidays {
		c.holidays[d] = struct{}{}
	}
	return c
}

// LoadHolidays merges extra holiday dates from a YAML file of the form
// holidays: ["2027-01-26", ...]. Invalid dates fail the whole load.
func (c *Calendar) LoadHolidays(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read holiday file: %w", err)
	}
	var doc struct {
		Holidays []string `yaml:"holidays"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse holiday file %s: %w", path, err)
	}
	for _, d := range doc.Holidays {
		if _, err := time.ParseInLocation("2006-01-02", d, IST); err != nil {
			return fmt.Errorf("holiday %q: %w", d, err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range doc.Holidays {
		c.holidays[d] = struct{}{}
	}
	return nil
}

// AddHoliday registers one holiday date given as YYYY-MM-DD.
func (c *Calendar) AddHoliday(date string) error {
	if _, err := time.ParseInLocation("2006-01-02", date, IST); err != nil {
		return fmt.Errorf("invalid holiday date %q: %w", date, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holidays[date] = struct{}{}
	return nil
}

// RemoveHoliday deletes a holiday date. Removing an absent date is a no-op.
func (c *Calendar) RemoveHoliday(date string) error {
	if _, err := time.ParseInLocation("2006-01-02", date, IST); err != nil {
		return fmt.Errorf("invalid holiday date %q: %w", date, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.holidays, date)
	return nil
}

// IsHoliday reports whether the given instant falls on an exchange holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	key := t.In(IST).Format("2006-01-02")
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.holidays[key]
	return ok
}

// IsTradingDay reports whether the instant falls on a weekday that is not
// a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	if wd := ist.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.IsHoliday(ist)
}

// SessionAt classifies the instant into a trading session.
func (c *Calendar) SessionAt(t time.Time) Session {
	ist := t.In(IST)
	if !c.IsTradingDay(ist) {
		return SessionClosed
	}
	m := ist.Hour()*60 + ist.Minute()
	switch {
	case m >= preOpenStart && m < regularOpen:
		return SessionPreOpen
	case m >= regularOpen && m < regularClose:
		return SessionRegular
	case m >= postStart && m < postEnd:
		return SessionPost
	default:
		return SessionClosed
	}
}

// IsOpen reports whether the regular session is trading at the instant.
func (c *Calendar) IsOpen(t time.Time) bool {
	return c.SessionAt(t) == SessionRegular
}

// NextTradingDay returns the first trading day strictly after the instant,
// at midnight IST.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	ist := t.In(IST)
	day := time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, IST)
	for {
		day = day.AddDate(0, 0, 1)
		if c.IsTradingDay(day) {
			return day
		}
	}
}

// NextOpen returns the next instant at which the regular session opens.
// If the session is currently open it returns the following day's open.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	if c.IsTradingDay(ist) {
		open := sessionInstant(ist, regularOpen)
		if ist.Before(open) {
			return open
		}
	}
	return sessionInstant(c.NextTradingDay(ist), regularOpen)
}

// TimeUntilOpen returns how long until the next regular-session open, or 0
// when the session is open now.
func (c *Calendar) TimeUntilOpen(t time.Time) time.Duration {
	if c.IsOpen(t) {
		return 0
	}
	return c.NextOpen(t).Sub(t)
}

// TimeUntilClose returns how long until the regular session closes, or 0
// when the market is not in the regular session.
func (c *Calendar) TimeUntilClose(t time.Time) time.Duration {
	if !c.IsOpen(t) {
		return 0
	}
	ist := t.In(IST)
	return sessionInstant(ist, regularClose).Sub(t)
}

// UpcomingHolidays returns the holidays within days of the instant,
// sorted. A zero or negative horizon returns every remaining holiday.
func (c *Calendar) UpcomingHolidays(t time.Time, days int) []string {
	ist := t.In(IST)
	from := ist.Format("2006-01-02")
	until := ""
	if days > 0 {
		until = ist.AddDate(0, 0, days).Format("2006-01-02")
	}
	c.mu.RLock()
	out := make([]string, 0, len(c.holidays))
	for d := range c.holidays {
		if d >= from && (until == "" || d <= until) {
			out = append(out, d)
		}
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

func sessionInstant(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, IST)
}
