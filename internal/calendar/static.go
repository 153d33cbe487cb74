package calendar

import (
	"context"
	"time"
)

// Static is an offline Source: every weekday trades 09:30-16:00 ET except
// configured holidays, with optional early closes.
type Static struct {
	Holidays    map[string]bool   // YYYY-MM-DD
	EarlyCloses map[string]string // YYYY-MM-DD -> HH:MM
}

// NewStatic builds a Static source from holiday dates and early closes.
func NewStatic(holidays []string, earlyCloses map[string]string) *Static {
	h := make(map[string]bool, len(holidays))
	for _, d := range holidays {
		h[d] = true
	}
	if earlyCloses == nil {
		earlyCloses = map[string]string{}
	}
	return &Static{Holidays: h, EarlyCloses: earlyCloses}
}

// Days lists the trading days in [from, to].
func (s *Static) Days(_ context.Context, from, to time.Time) ([]Day, error) {
	var out []Day
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		date := d.Format(dateLayout)
		if s.Holidays[date] {
			continue
		}
		closeAt := "16:00"
		if c, ok := s.EarlyCloses[date]; ok {
			closeAt = c
		}
		out = append(out, Day{Date: date, Open: "09:30", Close: closeAt})
	}
	return out, nil
}
