package models

import "time"

// PriceLevel is one side entry of a depth snapshot. Price and quantity keep
// the exchange's decimal text so nothing is lost before analysis.
type PriceLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// DepthSnapshot is a point-in-time view of the top levels of one order book.
// It is never persisted.
type DepthSnapshot struct {
	Exchange     string       `json:"exchange"`
	Symbol       string       `json:"symbol"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	LastUpdateID int64        `json:"lastUpdateId"`
	FetchedAt    time.Time    `json:"fetchedAt"`
}
