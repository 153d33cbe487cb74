package quality

import (
	"context"

	"barsync/internal/domain"
)

// Summary aggregates reports for several symbols.
type Summary struct {
	Reports []domain.QualityReport `json:"reports"`
	Pass    int                    `json:"pass"`
	Warn    int                    `json:"warn"`
	Fail    int                    `json:"fail"`
	Overall domain.Status          `json:"overall"`
}

// Summarize counts report statuses; Overall is the worst of them.
func Summarize(reports []domain.QualityReport) Summary {
	s := Summary{Reports: reports, Overall: domain.StatusPass}
	for _, r := range reports {
		switch r.Status {
		case domain.StatusFail:
			s.Fail++
		case domain.StatusWarn:
			s.Warn++
		default:
			s.Pass++
		}
		s.Overall = domain.Worst(s.Overall, r.Status)
	}
	return s
}

// VerifyAll verifies symbols one after another.
func (v *Verifier) VerifyAll(ctx context.Context, symbols []string) Summary {
	reports := make([]domain.QualityReport, 0, len(symbols))
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			reports = append(reports, v.Unverified(sym, err))
			continue
		}
		reports = append(reports, v.Verify(ctx, sym))
	}
	return Summarize(reports)
}
