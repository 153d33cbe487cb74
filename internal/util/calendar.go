package util

import (
	"time"
	_ "time/tzdata" // America/New_York must resolve on minimal images.

	"barsync/internal/domain"
)

var marketLoc = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// MarketLocation returns the US equity market time zone.
func MarketLocation() *time.Location { return marketLoc }

// MarketDate returns midnight (ET) of the market date containing t.
func MarketDate(t time.Time) time.Time {
	et := t.In(marketLoc)
	return time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, marketLoc)
}

// AtClock returns the instant at hh:mm ET on the market date of day.
func AtClock(day time.Time, hh, mm int) time.Time {
	d := MarketDate(day)
	return time.Date(d.Year(), d.Month(), d.Day(), hh, mm, 0, 0, marketLoc)
}

// ClassifySession tags a bar timestamp by its ET wall clock:
// 04:00-09:30 pre, 09:30-16:00 regular, 16:00-20:00 after.
func ClassifySession(t time.Time) domain.Session {
	et := t.In(marketLoc)
	mins := et.Hour()*60 + et.Minute()
	switch {
	case mins >= 4*60 && mins < 9*60+30:
		return domain.SessionPre
	case mins >= 9*60+30 && mins < 16*60:
		return domain.SessionRegular
	case mins >= 16*60 && mins < 20*60:
		return domain.SessionAfter
	default:
		return domain.SessionClosed
	}
}

// MarketDay returns midnight ET of the calendar date carried by d's own
// year, month and day fields, ignoring d's location. Use it for date-only
// values such as job windows.
func MarketDay(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, marketLoc)
}
