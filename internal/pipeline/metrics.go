package pipeline

import (
	"github.com/shopspring/decimal"

	"github.com/tallycrm/tally/internal/model"
)

// Metrics are the headline numbers derived from a pipeline Result.
type Metrics struct {
	OpenCount    int             `json:"open_count"`
	OpenTotal    decimal.Decimal `json:"open_total"`
	WeightedOpen decimal.Decimal `json:"weighted_open_total"`
	WonCount     int             `json:"won_count"`
	WonTotal     decimal.Decimal `json:"won_total"`
	LostCount    int             `json:"lost_count"`
	LostTotal    decimal.Decimal `json:"lost_total"`
	WinRate      decimal.Decimal `json:"win_rate"`
}

// Summarize derives Metrics from r. WinRate is won / (won + lost) by count,
// rounded to four places, and zero when no deal has closed.
func Summarize(r Result) Metrics {
	m := Metrics{
		OpenTotal:    decimal.Zero,
		WeightedOpen: decimal.Zero,
		WonTotal:     decimal.Zero,
		LostTotal:    decimal.Zero,
		WinRate:      decimal.Zero,
	}
	for _, s := range r.Stages {
		switch s.Stage {
		case model.StageWon:
			m.WonCount = s.Count
			m.WonTotal = s.Total
		case model.StageLost:
			m.LostCount = s.Count
			m.LostTotal = s.Total
		default:
			m.OpenCount += s.Count
			m.OpenTotal = m.OpenTotal.Add(s.Total)
			m.WeightedOpen = m.WeightedOpen.Add(s.WeightedTotal)
		}
	}
	if closed := m.WonCount + m.LostCount; closed > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WonCount)).
			DivRound(decimal.NewFromInt(int64(closed)), 4)
	}
	return m
}
