package models

import "time"

// History statuses.
const (
	HistorySuccess = "success"
	HistoryCached  = "cached"
	HistoryFailed  = "failed"
)

// HistoryEntry is one row of the analysis audit trail.
type HistoryEntry struct {
	ISRC           string
	AnalysisType   string
	Status         string
	Confidence     *float64
	ProcessingTime time.Duration
	Error          string
	CreatedAt      time.Time
}

// AnalysisType names the option set in the audit trail.
func (o Options) AnalysisType() string {
	t := "quick"
	if o.Comprehensive {
		t = "comprehensive"
	}
	if o.IncludeLyrics {
		t += "+lyrics"
	}
	if o.IncludeCredits {
		t += "+credits"
	}
	return t
}
