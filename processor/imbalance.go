package processor

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"pressureflow/models"
)

// ErrAnalysis marks a snapshot that cannot be turned into volumes.
var ErrAnalysis = errors.New("analysis error")

var hundred = decimal.NewFromInt(100)

// Analyze sums bid and ask quantities of a snapshot and computes the
// imbalance percentage. A quantity that is not a finite non-negative number
// rejects the whole snapshot.
func Analyze(snapshot *models.DepthSnapshot) (models.Imbalance, error) {
	if snapshot == nil {
		return models.Imbalance{}, fmt.Errorf("%w: nil snapshot", ErrAnalysis)
	}

	bid, err := sumQuantities(snapshot.Bids, "bid")
	if err != nil {
		return models.Imbalance{}, fmt.Errorf("%w: %s: %v", ErrAnalysis, snapshot.Symbol, err)
	}
	ask, err := sumQuantities(snapshot.Asks, "ask")
	if err != nil {
		return models.Imbalance{}, fmt.Errorf("%w: %s: %v", ErrAnalysis, snapshot.Symbol, err)
	}

	return models.Imbalance{
		BidVolume: bid.InexactFloat64(),
		AskVolume: ask.InexactFloat64(),
		Percent:   ImbalancePercent(bid, ask),
	}, nil
}

func sumQuantities(levels []models.PriceLevel, side string) (decimal.Decimal, error) {
	total := decimal.Zero
	for i, level := range levels {
		qty, err := decimal.NewFromString(level.Quantity)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s level %d: quantity %q is not numeric", side, i, level.Quantity)
		}
		if qty.IsNegative() {
			return decimal.Zero, fmt.Errorf("%s level %d: negative quantity %s", side, i, level.Quantity)
		}
		total = total.Add(qty)
	}
	return total, nil
}

// ImbalancePercent returns (bid-ask)/(bid+ask)*100, or 0 when both volumes
// are zero.
func ImbalancePercent(bid, ask decimal.Decimal) float64 {
	total := bid.Add(ask)
	if total.IsZero() {
		return 0
	}
	return bid.Sub(ask).Mul(hundred).Div(total).InexactFloat64()
}
