package models

import "time"

// Stage names where a symbol dropped out of a cycle.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageAnalyze   Stage = "analyze"
	StageStore     Stage = "store"
	StageCancelled Stage = "cancelled"
)

type SymbolFailure struct {
	Symbol string `json:"symbol"`
	Stage  Stage  `json:"stage"`
	Error  string `json:"error"`
}

// CycleReport describes what one collection cycle did. Summary is nil when
// the cycle was aborted before the summary was written.
type CycleReport struct {
	CycleID    string           `json:"cycle_id"`
	Exchange   string           `json:"exchange"`
	Time       time.Time        `json:"time"`
	Attempted  int              `json:"attempted"`
	Records    []PressureRecord `json:"records"`
	Failures   []SymbolFailure  `json:"failures"`
	Summary    *MarketSummary   `json:"summary,omitempty"`
	Duration   time.Duration    `json:"duration"`
	Aborted    bool             `json:"aborted"`
	AbortError string           `json:"abort_error,omitempty"`
}

// Persisted is the number of symbols that made it into the store.
func (r *CycleReport) Persisted() int {
	return len(r.Records)
}

// Record returns the persisted record for symbol, if any.
func (r *CycleReport) Record(symbol string) (PressureRecord, bool) {
	for _, rec := range r.Records {
		if rec.Symbol == symbol {
			return rec, true
		}
	}
	return PressureRecord{}, false
}
