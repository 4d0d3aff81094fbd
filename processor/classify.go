package processor

import "math"

// Pressure is the direction an imbalance points to.
type Pressure string

const (
	PressureBuyers   Pressure = "buyers"
	PressureSellers  Pressure = "sellers"
	PressureBalanced Pressure = "balanced"
)

// DefaultThreshold is the imbalance percentage beyond which one side is
// considered dominant.
const DefaultThreshold = 10.0

// Classify maps an imbalance percentage onto a pressure direction. Values
// exactly on the threshold are balanced.
func Classify(percent, threshold float64) Pressure {
	threshold = math.Abs(threshold)
	switch {
	case percent > threshold:
		return PressureBuyers
	case percent < -threshold:
		return PressureSellers
	default:
		return PressureBalanced
	}
}

// Label is the human readable form used in signal text.
func (p Pressure) Label() string {
	switch p {
	case PressureBuyers:
		return "buyer pressure"
	case PressureSellers:
		return "seller pressure"
	default:
		return "balanced"
	}
}
