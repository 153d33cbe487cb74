package us

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"barsync/internal/calendar"
	"barsync/internal/config"
)

// Compile-time interface check.
var _ calendar.Source = (*CalendarSource)(nil)

type calendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// CalendarSource reads the trading calendar from the Alpaca trading API.
type CalendarSource struct {
	client calendarClient
}

// NewCalendarSource creates a CalendarSource using the Alpaca trading API
// credentials and base URL.
func NewCalendarSource(cfg config.Alpaca) *CalendarSource {
	return &CalendarSource{client: alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})}
}

// Days returns the trading days in [from, to] with their regular session
// times in ET.
func (s *CalendarSource) Days(ctx context.Context, from, to time.Time) ([]calendar.Day, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	days, err := s.client.GetCalendar(alpaca.GetCalendarRequest{
		Start: from,
		End:   to,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}

	out := make([]calendar.Day, 0, len(days))
	for _, d := range days {
		if _, err := time.Parse("2006-01-02", d.Date); err != nil {
			return nil, fmt.Errorf("calendar day %q: %w", d.Date, err)
		}
		out = append(out, calendar.Day{Date: d.Date, Open: d.Open, Close: d.Close})
	}
	return out, nil
}
