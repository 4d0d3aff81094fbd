package models

import "time"

// Imbalance is the analysis result for one snapshot.
type Imbalance struct {
	BidVolume float64 `json:"bid_volume"`
	AskVolume float64 `json:"ask_volume"`
	Percent   float64 `json:"imbalance"`
}

// PressureRecord is one persisted per-symbol observation. (Time, Symbol) is
// unique.
type PressureRecord struct {
	Time      time.Time `json:"time"`
	Symbol    string    `json:"symbol"`
	BidVolume float64   `json:"bid_volume"`
	AskVolume float64   `json:"ask_volume"`
	Imbalance float64   `json:"imbalance"`
}

// MarketSummary aggregates the records persisted in one cycle and shares
// their Time.
type MarketSummary struct {
	Time           time.Time `json:"time"`
	TotalBidVolume float64   `json:"total_bid_volume"`
	TotalAskVolume float64   `json:"total_ask_volume"`
	TotalImbalance float64   `json:"total_imbalance"`
}
