// Command fetch is a one-shot lookup tool: it wires the feed clients the same
// way the server does, runs a single fetch, and prints the result as JSON.
//
//	fetch -tickers AAPL,MSFT
//	fetch -bond US912828U816
//	fetch -rates EUR
//	fetch -convert 100 -from EUR -to USD
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"portfoliopricing/internal/cache"
	"portfoliopricing/internal/config"
	"portfoliopricing/internal/feed/bond"
	"portfoliopricing/internal/feed/equity"
	"portfoliopricing/internal/feed/fx"
	"portfoliopricing/internal/feed/ratelimit"
	"portfoliopricing/internal/httpx"
	"portfoliopricing/internal/logging"
	"portfoliopricing/internal/pricing"
)

func main() {
	var (
		tickersCSV = flag.String("tickers", "", "comma-separated stock tickers")
		bondID     = flag.String("bond", "", "bond identifier (ISIN, numeric id, or name)")
		ratesBase  = flag.String("rates", "", "print the rate table for this base currency")
		convert    = flag.Float64("convert", 0, "amount to convert (use with -from/-to)")
		from       = flag.String("from", "", "source currency for -convert")
		to         = flag.String("to", "USD", "target currency for -convert")
		timeout    = flag.Int("timeout", 15, "request timeout seconds")
		configPath = flag.String("config", os.Getenv("CONFIG_FILE"), "path to pricing.yaml (optional)")
	)
	flag.Parse()

	logging.Init()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	svc, err := buildService(cfg, time.Duration(*timeout)*time.Second)
	if err != nil {
		log.Fatalf("wiring: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeout)*time.Second)
	defer cancel()

	switch {
	case *tickersCSV != "":
		tickers := splitCSV(*tickersCSV)
		quotes := svc.GetQuotes(ctx, tickers)
		if len(quotes) == 0 {
			log.Fatal("no quotes received")
		}
		printJSON(struct {
			Quotes map[string]pricing.Quote `json:"quotes"`
		}{quotes})

	case *bondID != "":
		bp, err := svc.BondPricePct(ctx, *bondID)
		if err != nil {
			log.Fatalf("bond: %v", err)
		}
		printJSON(bp)

	case *ratesBase != "":
		printJSON(svc.Rates(ctx, strings.ToUpper(*ratesBase)))

	case *from != "":
		printJSON(struct {
			Amount    float64 `json:"amount"`
			From      string  `json:"from"`
			To        string  `json:"to"`
			Converted float64 `json:"converted"`
		}{*convert, strings.ToUpper(*from), strings.ToUpper(*to),
			svc.Convert(ctx, *convert, strings.ToUpper(*from), strings.ToUpper(*to))})

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func buildService(cfg config.Config, timeout time.Duration) (*pricing.Service, error) {
	hc := httpx.New(timeout)
	store := cache.New()

	equities, err := equity.NewClient(store,
		equity.WithBaseURL(cfg.Equity.Endpoint),
		equity.WithHTTPClient(hc.HTTP),
		equity.WithTTL(cfg.Equity.TTL()),
		equity.WithLimiter(ratelimit.PerMinute(cfg.Equity.MaxRequestsPerMinute, cfg.Equity.Burst)),
		equity.WithBatchLimit(cfg.Equity.MaxConcurrency),
	)
	if err != nil {
		return nil, err
	}

	bonds := bond.New(bond.Config{
		Name:   "bonds",
		URL:    cfg.Bond.Endpoint,
		APIKey: cfg.Bond.APIKey,
		TTL:    cfg.Bond.TTL(),
	}, hc, store, bond.NewStaticCatalog(cfg.Bond.Catalog))

	rates := fx.New(fx.Config{
		Name: "fx",
		URL:  cfg.FX.Endpoint,
		TTL:  cfg.FX.TTL(),
	}, hc, store)

	return pricing.NewService(equities, bonds, rates), nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
