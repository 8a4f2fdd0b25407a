package pricing

import (
	"math"
	"time"
)

// Source identifies where a price value came from.
type Source string

const (
	SourceAPI      Source = "api"
	SourceManual   Source = "manual"
	SourceFallback Source = "fallback"
)

// Quote is the normalized equity quote shape. All wire-format guessing happens
// in the feed clients; everything above them operates on this record.
type Quote struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	DisplayName string    `json:"display_name,omitempty"`
	Sector      string    `json:"sector,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
	Source      Source    `json:"source"`
	Stale       bool      `json:"stale,omitempty"`
}

// Valid reports whether the quote satisfies the price invariant: a finite
// number >= 0. Feed clients drop quotes that fail this rather than emit them.
func (q Quote) Valid() bool {
	return !math.IsNaN(q.Price) && !math.IsInf(q.Price, 0) && q.Price >= 0
}

// BondPrice is a bond price expressed as percent of par.
// Market value = FaceValue * PricePct / 100.
type BondPrice struct {
	Identifier string    `json:"identifier"`
	ISIN       string    `json:"isin,omitempty"`
	PricePct   float64   `json:"price_pct"`
	FetchedAt  time.Time `json:"fetched_at"`
	Source     Source    `json:"source"`
	Stale      bool      `json:"stale,omitempty"`
}

// RateTable maps currency codes to multipliers relative to Base.
// For a USD table, Rates[ccy] is units of ccy per 1 USD.
type RateTable struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	FetchedAt time.Time          `json:"fetched_at"`
	Fallback  bool               `json:"fallback"`
}

// Rate returns the multiplier for ccy and whether the table knows it.
// Base always resolves to 1 even when absent from the map.
func (t RateTable) Rate(ccy string) (float64, bool) {
	if ccy == t.Base {
		return 1, true
	}
	r, ok := t.Rates[ccy]
	if !ok || r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}
