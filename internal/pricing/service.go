package pricing

import (
	"context"

	"github.com/sirupsen/logrus"

	"portfoliopricing/internal/logging"
)

// EquityFeed is the equity client as seen by the service.
type EquityFeed interface {
	Quote(ctx context.Context, ticker string) (*Quote, error)
	Quotes(ctx context.Context, tickers []string) map[string]Quote
}

// BondFeed is the bond client as seen by the service.
type BondFeed interface {
	PricePct(ctx context.Context, identifier string) (*BondPrice, error)
}

// RateFeed is the FX client as seen by the service.
type RateFeed interface {
	RateTable(ctx context.Context, base string) RateTable
}

// Service composes the three feed clients into the one stable pricing API the
// rest of the application consumes. Every "value in USD" computation in the
// app goes through here.
type Service struct {
	equities EquityFeed
	bonds    BondFeed
	rates    RateFeed
	log      *logrus.Logger
}

func NewService(equities EquityFeed, bonds BondFeed, rates RateFeed) *Service {
	return &Service{equities: equities, bonds: bonds, rates: rates, log: logging.Logger()}
}

// GetQuote is the single-item, validating path: feed errors surface to the
// caller so a ticker-validation endpoint can distinguish unknown from down.
func (s *Service) GetQuote(ctx context.Context, ticker string) (*Quote, error) {
	q, err := s.equities.Quote(ctx, ticker)
	if err != nil {
		s.log.WithField("ticker", ticker).WithError(err).Debug("quote lookup failed")
		return nil, err
	}
	return q, nil
}

// GetQuotes never fails; unresolved tickers are simply absent from the map.
func (s *Service) GetQuotes(ctx context.Context, tickers []string) map[string]Quote {
	return s.equities.Quotes(ctx, tickers)
}

// BondPricePct returns the percent-of-par price for a bond identifier.
func (s *Service) BondPricePct(ctx context.Context, identifier string) (*BondPrice, error) {
	return s.bonds.PricePct(ctx, identifier)
}

// USDRates returns the USD-based rate table, degraded but never failing.
func (s *Service) USDRates(ctx context.Context) RateTable {
	return s.rates.RateTable(ctx, "USD")
}

// Rates returns the rate table for an arbitrary base currency.
func (s *Service) Rates(ctx context.Context, base string) RateTable {
	return s.rates.RateTable(ctx, base)
}

// ConvertToUSD converts amount from currency into USD using the latest USD
// table. The table maps currency to units per 1 USD, so the conversion is a
// division. An empty or USD currency, and any currency the table does not
// know, return the amount unchanged: an approximate number is preferred over
// breaking downstream aggregate sums.
func (s *Service) ConvertToUSD(ctx context.Context, amount float64, currency string) float64 {
	if currency == "" || currency == "USD" || amount == 0 {
		return amount
	}
	table := s.USDRates(ctx)
	rate, ok := table.Rate(currency)
	if !ok {
		s.log.WithField("currency", currency).Debug("currency missing from rate table, passing amount through")
		return amount
	}
	return amount / rate
}

// Convert converts between two arbitrary currencies by crossing through USD.
func (s *Service) Convert(ctx context.Context, amount float64, from, to string) float64 {
	usd := s.ConvertToUSD(ctx, amount, from)
	if to == "" || to == "USD" {
		return usd
	}
	rate, ok := s.USDRates(ctx).Rate(to)
	if !ok {
		return usd
	}
	return usd * rate
}

// StockValueUSD computes the USD market value of an equity position using
// the canonical precedence (manual override, live price, purchase price).
// Manual and purchase prices are interpreted in positionCurrency; a live
// price carries its own currency from the feed.
func (s *Service) StockValueUSD(ctx context.Context, ticker string, quantity float64, manual, purchase *float64, positionCurrency string) (float64, Source) {
	in := ValueInputs{ManualOverride: manual, PurchasePrice: purchase}
	quoteCurrency := positionCurrency
	if q, err := s.equities.Quote(ctx, ticker); err == nil && q != nil {
		p := q.Price
		in.LivePrice = &p
		if q.Currency != "" {
			quoteCurrency = q.Currency
		}
	}
	price, src := in.Resolve()
	ccy := positionCurrency
	if src == SourceAPI {
		ccy = quoteCurrency
	}
	return s.ConvertToUSD(ctx, price*quantity, ccy), src
}

// BondValueUSD computes the USD market value of a bond position. The live
// percent-of-par price is fetched when available; manualPct and purchasePct
// follow the same precedence, and par (100%) is the last resort.
func (s *Service) BondValueUSD(ctx context.Context, identifier string, faceValue float64, manualPct, purchasePct *float64, currency string) (float64, Source) {
	in := ValueInputs{ManualOverride: manualPct, PurchasePrice: purchasePct, Par: 100}
	if bp, err := s.bonds.PricePct(ctx, identifier); err == nil && bp != nil {
		p := bp.PricePct
		in.LivePrice = &p
	}
	pct, src := in.Resolve()
	return s.ConvertToUSD(ctx, BondMarketValue(faceValue, pct), currency), src
}
