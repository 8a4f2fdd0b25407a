// Package subscribe owns the polling side of the pricing engine: each
// subscription runs an immediate refresh cycle, then refetches on its own
// ticker until cancelled. Results are pushed to the subscriber as snapshots;
// the underlying cache keeps concurrent subscriptions down to one outbound
// call per key per cycle.
package subscribe

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"portfoliopricing/internal/logging"
	"portfoliopricing/internal/metrics"
	"portfoliopricing/internal/pricing"
)

// Options tune one subscription.
type Options struct {
	Interval     time.Duration // refresh interval, default 30s
	FetchTimeout time.Duration // per-cycle fetch budget, default 15s
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 15 * time.Second
	}
	return o
}

// PriceSnapshot is delivered to equity subscribers. Errors is keyed per
// ticker so one failing symbol never marks the whole subscription errored.
type PriceSnapshot struct {
	Values  map[string]pricing.Quote
	Loading bool
	Errors  map[string]error
}

// BondSnapshot is delivered to bond subscribers.
type BondSnapshot struct {
	Values  map[string]pricing.BondPrice
	Loading bool
	Errors  map[string]error
}

// RateSnapshot is delivered to FX subscribers. The rate feed never errors;
// degradation shows up as Table.Fallback instead.
type RateSnapshot struct {
	Table   pricing.RateTable
	Loading bool
}

// Subscription is the cancel handle returned to subscribers.
type Subscription struct {
	ID uuid.UUID

	once   sync.Once
	cancel chan struct{}
	done   chan struct{}
}

func newSubscription() *Subscription {
	return &Subscription{
		ID:     uuid.New(),
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Cancel stops the ticker and all further deliveries. It is idempotent.
// An in-flight fetch is not interrupted: it completes and populates the
// cache for future callers, but its result is no longer delivered.
func (s *Subscription) Cancel() {
	s.once.Do(func() { close(s.cancel) })
}

// Done is closed once the subscription loop has fully exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) cancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

// Scheduler creates polling subscriptions on top of the pricing service.
type Scheduler struct {
	svc   *pricing.Service
	clock Clock
	log   *logrus.Logger
}

func NewScheduler(svc *pricing.Service, clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler{svc: svc, clock: clock, log: logging.Logger()}
}

// Prices subscribes to quote refreshes for tickers.
func (sch *Scheduler) Prices(tickers []string, opts Options, deliver func(PriceSnapshot)) *Subscription {
	normalized := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			normalized = append(normalized, t)
		}
	}

	sub := newSubscription()
	values := make(map[string]pricing.Quote, len(normalized))
	go sch.run(sub, opts.withDefaults(), func(ctx context.Context) func() {
		// Loading has already been announced; fetch, then build the
		// terminal delivery.
		errs := make(map[string]error)
		for _, t := range normalized {
			q, err := sch.svc.GetQuote(ctx, t)
			if err != nil {
				errs[t] = err
				continue
			}
			if q != nil {
				values[q.Symbol] = *q
			}
		}
		snap := PriceSnapshot{Values: copyQuotes(values), Errors: errs}
		return func() { deliver(snap) }
	}, func() {
		deliver(PriceSnapshot{Values: copyQuotes(values), Loading: true})
	})
	return sub
}

// BondPrices subscribes to percent-of-par refreshes for bond identifiers.
func (sch *Scheduler) BondPrices(identifiers []string, opts Options, deliver func(BondSnapshot)) *Subscription {
	sub := newSubscription()
	values := make(map[string]pricing.BondPrice, len(identifiers))
	go sch.run(sub, opts.withDefaults(), func(ctx context.Context) func() {
		errs := make(map[string]error)
		for _, id := range identifiers {
			bp, err := sch.svc.BondPricePct(ctx, id)
			if err != nil {
				errs[id] = err
				continue
			}
			if bp != nil {
				values[id] = *bp
			}
		}
		snap := BondSnapshot{Values: copyBonds(values), Errors: errs}
		return func() { deliver(snap) }
	}, func() {
		deliver(BondSnapshot{Values: copyBonds(values), Loading: true})
	})
	return sub
}

// ExchangeRates subscribes to rate table refreshes for base.
func (sch *Scheduler) ExchangeRates(base string, opts Options, deliver func(RateSnapshot)) *Subscription {
	sub := newSubscription()
	go sch.run(sub, opts.withDefaults(), func(ctx context.Context) func() {
		table := sch.svc.Rates(ctx, base)
		return func() { deliver(RateSnapshot{Table: table}) }
	}, func() {
		deliver(RateSnapshot{Loading: true})
	})
	return sub
}

// run is the shared subscription loop: one immediate cycle, then one per
// tick. A cycle always announces Loading, fetches, and delivers a terminal
// snapshot with Loading false -- also when every fetch failed. That exact
// false->true->false transition is what keeps "updating" indicators from
// sticking.
func (sch *Scheduler) run(sub *Subscription, opts Options, fetch func(context.Context) func(), announceLoading func()) {
	metrics.ActiveSubscriptions.Inc()
	defer metrics.ActiveSubscriptions.Dec()
	defer close(sub.done)

	log := sch.log.WithField("subscription", sub.ID.String())
	log.Debug("subscription started")
	defer log.Debug("subscription stopped")

	cycle := func() {
		if sub.cancelled() {
			return
		}
		announceLoading()

		ctx, cancel := context.WithTimeout(context.Background(), opts.FetchTimeout)
		finish := fetch(ctx)
		cancel()

		// The fetch populated the cache either way; a cancelled
		// subscriber just no longer hears about it.
		if sub.cancelled() {
			return
		}
		finish()
	}

	cycle()

	ticker := sch.clock.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.cancel:
			return
		case <-ticker.C():
			cycle()
		}
	}
}

func copyQuotes(in map[string]pricing.Quote) map[string]pricing.Quote {
	out := make(map[string]pricing.Quote, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyBonds(in map[string]pricing.BondPrice) map[string]pricing.BondPrice {
	out := make(map[string]pricing.BondPrice, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
