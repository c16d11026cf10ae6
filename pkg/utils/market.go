package utils

import (
	"time"
	_ "time/tzdata"
)

// ET is the US Eastern location the listed-options market trades in.
var ET *time.Location

func init() {
	var err error
	ET, err = time.LoadLocation("America/New_York")
	if err != nil {
		ET = time.FixedZone("EST", -5*60*60)
	}
}

// NowET returns the current time in US Eastern. Its calendar date is the
// market's trading date, which differs from the UTC date after 8 PM ET.
func NowET() time.Time {
	return time.Now().In(ET)
}

// Session is a phase of the NYSE trading day.
type Session int

const (
	SessionClosed Session = iota
	SessionPreMarket
	SessionRegular
	SessionAfterHours
)

func (s Session) String() string {
	switch s {
	case SessionPreMarket:
		return "PRE-MARKET"
	case SessionRegular:
		return "OPEN"
	case SessionAfterHours:
		return "AFTER-HOURS"
	default:
		return "CLOSED"
	}
}

// SessionTimes returns the pre-market start (4:00), the regular open (9:30)
// and the close (16:00) in ET on the calendar date of t.
func SessionTimes(t time.Time) (preMarket, open, close time.Time) {
	d := t.In(ET)
	y, m, day := d.Date()
	preMarket = time.Date(y, m, day, 4, 0, 0, 0, ET)
	open = time.Date(y, m, day, 9, 30, 0, 0, ET)
	close = time.Date(y, m, day, 16, 0, 0, 0, ET)
	return preMarket, open, close
}

// nyseHolidays lists full-day NYSE closures by ET date.
var nyseHolidays = map[string]string{
	"2026-01-01": "New Year's Day",
	"2026-01-19": "Martin Luther King Jr. Day",
	"2026-02-16": "Washington's Birthday",
	"2026-04-03": "Good Friday",
	"2026-05-25": "Memorial Day",
	"2026-06-19": "Juneteenth",
	"2026-07-03": "Independence Day (observed)",
	"2026-09-07": "Labor Day",
	"2026-11-26": "Thanksgiving Day",
	"2026-12-25": "Christmas Day",
}

// Holiday reports the NYSE holiday falling on the ET date of t.
func Holiday(t time.Time) (string, bool) {
	name, ok := nyseHolidays[t.In(ET).Format("2006-01-02")]
	return name, ok
}

// IsTradingDay reports whether the ET date of t is a weekday the exchange
// is open.
func IsTradingDay(t time.Time) bool {
	switch t.In(ET).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := Holiday(t)
	return !holiday
}

// SessionAt returns the trading phase at t. Weekends and holidays are
// SessionClosed all day.
func SessionAt(t time.Time) Session {
	if !IsTradingDay(t) {
		return SessionClosed
	}
	pre, open, close := SessionTimes(t)
	switch {
	case t.Before(pre):
		return SessionClosed
	case t.Before(open):
		return SessionPreMarket
	case t.Before(close):
		return SessionRegular
	case t.Before(pre.Add(16 * time.Hour)): // 20:00 ET
		return SessionAfterHours
	default:
		return SessionClosed
	}
}

// IsMarketOpenAt reports whether the regular session is open at t.
func IsMarketOpenAt(t time.Time) bool {
	return SessionAt(t) == SessionRegular
}

// FormatDateTimeET formats t as "2006-01-02 15:04:05 MST" in US Eastern.
func FormatDateTimeET(t time.Time) string {
	return t.In(ET).Format("2006-01-02 15:04:05 MST")
}

// MarketStatusAt describes the market at t, naming the reason on closed days.
func MarketStatusAt(t time.Time) string {
	switch t.In(ET).Weekday() {
	case time.Saturday, time.Sunday:
		return "CLOSED (Weekend)"
	}
	if name, ok := Holiday(t); ok {
		return "CLOSED (" + name + ")"
	}
	return SessionAt(t).String()
}
