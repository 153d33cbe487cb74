package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func bar(o, h, l, c string) Bar {
	return Bar{
		Symbol:    "AAPL",
		Timestamp: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		Open:      decimal.RequireFromString(o),
		High:      decimal.RequireFromString(h),
		Low:       decimal.RequireFromString(l),
		Close:     decimal.RequireFromString(c),
		Volume:    100,
	}
}

func TestBarValidate(t *testing.T) {
	tests := []struct {
		name    string
		bar     Bar
		wantErr bool
	}{
		{"valid", bar("100", "101", "99", "100.5"), false},
		{"high below open", bar("100", "99", "98", "99.5"), true},
		{"high below close", bar("100", "100.2", "99", "100.5"), true},
		{"low above close", bar("100", "101", "99.8", "99.5"), true},
		{"flat bar", bar("100", "100", "100", "100"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bar.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidBar) {
				t.Errorf("error %v does not wrap ErrInvalidBar", err)
			}
		})
	}
}

func TestBarValidateVolume(t *testing.T) {
	b := bar("100", "101", "99", "100.5")
	b.Volume = -1
	if err := b.Validate(); !errors.Is(err, ErrInvalidBar) {
		t.Errorf("negative volume: got %v, want ErrInvalidBar", err)
	}
}

func TestFetchJobResumeFrom(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	job := FetchJob{Status: JobFailed}

	if got := job.ResumeFrom(start); !got.Equal(start) {
		t.Errorf("ResumeFrom without checkpoint = %v, want %v", got, start)
	}

	last := time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC)
	job.LastBarTime = &last
	want := time.Date(2024, 1, 2, 10, 31, 0, 0, time.UTC)
	if got := job.ResumeFrom(start); !got.Equal(want) {
		t.Errorf("ResumeFrom = %v, want %v", got, want)
	}
	if !job.Incomplete() {
		t.Error("failed job should be incomplete")
	}
}

func TestGapMissingMinutes(t *testing.T) {
	g := Gap{
		Start: time.Date(2024, 1, 2, 10, 1, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 10, 5, 0, 0, time.UTC),
	}
	if got := g.MissingMinutes(); got != 3 {
		t.Errorf("MissingMinutes() = %d, want 3", got)
	}
}

func TestWorst(t *testing.T) {
	if Worst(StatusPass, StatusWarn) != StatusWarn {
		t.Error("pass vs warn should be warn")
	}
	if Worst(StatusFail, StatusWarn) != StatusFail {
		t.Error("fail vs warn should be fail")
	}
	if Worst(StatusPass, StatusPass) != StatusPass {
		t.Error("pass vs pass should be pass")
	}
}

func TestDateRangeDays(t *testing.T) {
	r := DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	if r.Days() != 3 {
		t.Errorf("Days() = %d, want 3", r.Days())
	}
}
