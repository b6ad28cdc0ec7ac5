package util

import "time"

// SessionDate truncates t to its trading-session date (UTC midnight). The
// daily-loss window and session-start equity reset on session-date changes.
func SessionDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameSession reports whether a and b fall on the same trading-session date.
func SameSession(a, b time.Time) bool {
	return SessionDate(a).Equal(SessionDate(b))
}

// TradingCalendar provides market-hours awareness for a specific market.
type TradingCalendar struct {
	loc   *time.Location
	open  time.Duration // offset from local midnight
	close time.Duration
}

// NewUSCalendar creates a calendar for US regular trading hours
// (NYSE 9:30-16:00 America/New_York, weekdays). Exchange holidays are not
// modelled; the live feed simply produces no bars on those days.
func NewUSCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &TradingCalendar{
		loc:   loc,
		open:  9*time.Hour + 30*time.Minute,
		close: 16 * time.Hour,
	}
}

// IsMarketOpen returns whether the market is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.loc)
	offset := local.Sub(midnight)
	return offset >= tc.open && offset < tc.close
}
