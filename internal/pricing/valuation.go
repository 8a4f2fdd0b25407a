package pricing

import "github.com/shopspring/decimal"

// BondMarketValue returns faceValue * pricePct / 100 rounded to cents.
// Decimal arithmetic keeps sums like 10000 * 101.131 / 100 exact.
func BondMarketValue(faceValue, pricePct float64) float64 {
	return decimal.NewFromFloat(faceValue).
		Mul(decimal.NewFromFloat(pricePct)).
		Div(decimal.NewFromInt(100)).
		Round(2).
		InexactFloat64()
}

// ValueInputs collects the candidate prices for one position.
type ValueInputs struct {
	ManualOverride *float64 // user-entered current value, wins over everything
	LivePrice      *float64 // latest feed price
	PurchasePrice  *float64 // stored cost basis
	Par            float64  // last resort (100 for bonds, 0 for stocks)
}

// Resolve applies the canonical precedence uniformly across all pages:
// manual override > live API price > purchase price > par.
func (v ValueInputs) Resolve() (float64, Source) {
	switch {
	case v.ManualOverride != nil:
		return *v.ManualOverride, SourceManual
	case v.LivePrice != nil:
		return *v.LivePrice, SourceAPI
	case v.PurchasePrice != nil:
		return *v.PurchasePrice, SourceFallback
	default:
		return v.Par, SourceFallback
	}
}
