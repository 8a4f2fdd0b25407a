package main

import (
	"os"
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
	logging.Init()
	log := logging.Logger()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	if cfg.Bond.Endpoint != "" && cfg.Bond.APIKey == "" {
		log.Warn("bond endpoint configured without PRICING_BOND_API_KEY")
	}

	svc, err := buildService(cfg)
	if err != nil {
		log.WithError(err).Fatal("wiring")
	}

	if err := NewServer(cfg, svc).ListenAndServe(); err != nil {
		log.WithError(err).Fatal("server")
	}
}

func buildService(cfg config.Config) (*pricing.Service, error) {
	hc := httpx.New(10 * time.Second)
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
	if cfg.Bond.MaxRequestsPerMinute > 0 {
		bonds.SetLimiter(ratelimit.PerMinute(cfg.Bond.MaxRequestsPerMinute, cfg.Bond.Burst))
	}

	rates := fx.New(fx.Config{
		Name: "fx",
		URL:  cfg.FX.Endpoint,
		TTL:  cfg.FX.TTL(),
	}, hc, store)

	return pricing.NewService(equities, bonds, rates), nil
}
