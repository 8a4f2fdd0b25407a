package subscribe_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfoliopricing/internal/pricing"
	"portfoliopricing/internal/subscribe"
)

type scriptedEquities struct {
	mu     sync.Mutex
	quotes map[string]pricing.Quote
	fail   bool
	calls  int
}

func (f *scriptedEquities) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *scriptedEquities) Quote(_ context.Context, ticker string) (*pricing.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, &pricing.ProviderUnavailableError{Provider: "equity"}
	}
	if q, ok := f.quotes[ticker]; ok {
		return &q, nil
	}
	return nil, &pricing.NotFoundError{Kind: "ticker", Identifier: ticker}
}

func (f *scriptedEquities) Quotes(ctx context.Context, tickers []string) map[string]pricing.Quote {
	out := make(map[string]pricing.Quote)
	for _, t := range tickers {
		if q, err := f.Quote(ctx, t); err == nil {
			out[t] = *q
		}
	}
	return out
}

type scriptedBonds struct {
	prices map[string]float64
}

func (f *scriptedBonds) PricePct(_ context.Context, identifier string) (*pricing.BondPrice, error) {
	if pct, ok := f.prices[identifier]; ok {
		return &pricing.BondPrice{Identifier: identifier, PricePct: pct, Source: pricing.SourceAPI}, nil
	}
	return nil, &pricing.NotFoundError{Kind: "bond", Identifier: identifier}
}

type scriptedRates struct {
	table pricing.RateTable
}

func (f *scriptedRates) RateTable(context.Context, string) pricing.RateTable { return f.table }

func newFixture(equities *scriptedEquities) (*subscribe.Scheduler, *subscribe.ManualClock) {
	svc := pricing.NewService(
		equities,
		&scriptedBonds{prices: map[string]float64{"US912828U816": 101.131}},
		&scriptedRates{table: pricing.RateTable{Base: "USD", Rates: map[string]float64{"EUR": 0.9}}},
	)
	clock := subscribe.NewManualClock(time.Unix(1_700_000_000, 0))
	return subscribe.NewScheduler(svc, clock), clock
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		panic("unreachable")
	}
}

func awaitTicker(t *testing.T, clock *subscribe.ManualClock) {
	t.Helper()
	require.Eventually(t, func() bool { return clock.Tickers() == 1 },
		2*time.Second, time.Millisecond)
}

func TestPrices_LoadingTransitionsOncePerCycle(t *testing.T) {
	equities := &scriptedEquities{quotes: map[string]pricing.Quote{
		"AAPL": {Symbol: "AAPL", Price: 200, Currency: "USD", Source: pricing.SourceAPI},
	}}
	sch, clock := newFixture(equities)

	snaps := make(chan subscribe.PriceSnapshot, 8)
	sub := sch.Prices([]string{"aapl"}, subscribe.Options{Interval: time.Minute},
		func(s subscribe.PriceSnapshot) { snaps <- s })
	defer sub.Cancel()

	first := recv(t, snaps)
	assert.True(t, first.Loading)
	assert.Empty(t, first.Values)

	second := recv(t, snaps)
	assert.False(t, second.Loading)
	require.Contains(t, second.Values, "AAPL")
	assert.Equal(t, 200.0, second.Values["AAPL"].Price)
	assert.Empty(t, second.Errors)

	// The next cycle only runs when the ticker fires.
	awaitTicker(t, clock)
	clock.Tick(time.Minute)

	assert.True(t, recv(t, snaps).Loading)
	assert.False(t, recv(t, snaps).Loading)
}

func TestPrices_FailedFetchStillClearsLoading(t *testing.T) {
	equities := &scriptedEquities{fail: true}
	sch, _ := newFixture(equities)

	snaps := make(chan subscribe.PriceSnapshot, 8)
	sub := sch.Prices([]string{"AAPL"}, subscribe.Options{Interval: time.Minute},
		func(s subscribe.PriceSnapshot) { snaps <- s })
	defer sub.Cancel()

	assert.True(t, recv(t, snaps).Loading)

	terminal := recv(t, snaps)
	assert.False(t, terminal.Loading, "loading must clear even when every fetch failed")
	assert.Empty(t, terminal.Values)
	require.Contains(t, terminal.Errors, "AAPL")
	var unavailable *pricing.ProviderUnavailableError
	assert.ErrorAs(t, terminal.Errors["AAPL"], &unavailable)
}

func TestPrices_KeepsLastValueWhenRefreshFails(t *testing.T) {
	equities := &scriptedEquities{quotes: map[string]pricing.Quote{
		"AAPL": {Symbol: "AAPL", Price: 200, Currency: "USD", Source: pricing.SourceAPI},
	}}
	sch, clock := newFixture(equities)

	snaps := make(chan subscribe.PriceSnapshot, 8)
	sub := sch.Prices([]string{"AAPL"}, subscribe.Options{Interval: time.Minute},
		func(s subscribe.PriceSnapshot) { snaps <- s })
	defer sub.Cancel()

	recv(t, snaps) // loading
	require.Contains(t, recv(t, snaps).Values, "AAPL")

	equities.setFail(true)
	awaitTicker(t, clock)
	clock.Tick(time.Minute)

	recv(t, snaps) // loading
	terminal := recv(t, snaps)
	require.Contains(t, terminal.Values, "AAPL", "last good value survives a failed refresh")
	assert.Equal(t, 200.0, terminal.Values["AAPL"].Price)
	assert.Contains(t, terminal.Errors, "AAPL")
}

func TestPrices_CancelStopsDeliveries(t *testing.T) {
	equities := &scriptedEquities{quotes: map[string]pricing.Quote{
		"AAPL": {Symbol: "AAPL", Price: 200, Currency: "USD", Source: pricing.SourceAPI},
	}}
	sch, clock := newFixture(equities)

	snaps := make(chan subscribe.PriceSnapshot, 8)
	sub := sch.Prices([]string{"AAPL"}, subscribe.Options{Interval: time.Minute},
		func(s subscribe.PriceSnapshot) { snaps <- s })

	recv(t, snaps)
	recv(t, snaps)
	awaitTicker(t, clock)

	sub.Cancel()
	sub.Cancel() // idempotent
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription loop did not exit after cancel")
	}

	clock.Tick(time.Minute)
	select {
	case s := <-snaps:
		t.Fatalf("unexpected snapshot after cancel: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBondPrices_PerIdentifierErrors(t *testing.T) {
	sch, _ := newFixture(&scriptedEquities{})

	snaps := make(chan subscribe.BondSnapshot, 8)
	sub := sch.BondPrices([]string{"US912828U816", "XS0000000009"}, subscribe.Options{Interval: time.Minute},
		func(s subscribe.BondSnapshot) { snaps <- s })
	defer sub.Cancel()

	assert.True(t, recv(t, snaps).Loading)

	terminal := recv(t, snaps)
	assert.False(t, terminal.Loading)
	require.Contains(t, terminal.Values, "US912828U816")
	assert.InDelta(t, 101.131, terminal.Values["US912828U816"].PricePct, 1e-9)
	require.Contains(t, terminal.Errors, "XS0000000009")
	assert.True(t, pricing.IsNotFound(terminal.Errors["XS0000000009"]))
}

func TestExchangeRates_DeliversTable(t *testing.T) {
	sch, _ := newFixture(&scriptedEquities{})

	snaps := make(chan subscribe.RateSnapshot, 8)
	sub := sch.ExchangeRates("USD", subscribe.Options{Interval: time.Minute},
		func(s subscribe.RateSnapshot) { snaps <- s })
	defer sub.Cancel()

	assert.True(t, recv(t, snaps).Loading)

	terminal := recv(t, snaps)
	assert.False(t, terminal.Loading)
	assert.Equal(t, "USD", terminal.Table.Base)
	rate, ok := terminal.Table.Rate("EUR")
	require.True(t, ok)
	assert.Equal(t, 0.9, rate)
}
