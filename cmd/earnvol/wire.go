package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seenimoa/earnvol/internal/config"
	"github.com/seenimoa/earnvol/internal/datasource"
	"github.com/seenimoa/earnvol/internal/logging"
	"github.com/seenimoa/earnvol/internal/scan"
	"github.com/seenimoa/earnvol/internal/store"
	"github.com/seenimoa/earnvol/internal/volatility"
	"github.com/seenimoa/earnvol/pkg/models"
	"github.com/seenimoa/earnvol/pkg/utils"
)

// marketData is an option chain source the engine and the passthrough
// endpoints can read from.
type marketData interface {
	volatility.MarketData
	Name() string
	Snapshot(ctx context.Context, ticker, expiration string) (*models.OptionChainSnapshot, error)
}

// app holds the collaborators built from the loaded config.
type app struct {
	logger  zerolog.Logger
	yahoo   *datasource.YFinance
	market  marketData // yahoo unless engine.source selects cboe
	finnhub *datasource.Finnhub
	engine  *volatility.Engine
	store   *store.Store // nil when no database is configured
}

// engineParams maps the engine config section onto volatility parameters.
func engineParams(c config.EngineConfig) volatility.Params {
	return volatility.Params{
		Window:          c.Window,
		TradingPeriods:  c.TradingPeriods,
		MinDays:         c.MinDays,
		IVHorizon:       c.IVHorizon,
		VolumeWindow:    c.VolumeWindow,
		HistoryLookback: c.HistoryLookback,
		Thresholds: volatility.Thresholds{
			MinAverageVolume: c.Thresholds.MinAvgVolume,
			MinIVRVRatio:     c.Thresholds.MinIVRV,
			MaxTermSlope:     c.Thresholds.MaxTermSlope,
		},
	}
}

// httpOptions maps the shared HTTP settings of the yahoo section onto
// client options.
func httpOptions(c config.YahooConfig, baseURL string, logger zerolog.Logger) []datasource.Option {
	return []datasource.Option{
		datasource.WithBaseURL(baseURL),
		datasource.WithHTTPClient(&http.Client{Timeout: time.Duration(c.TimeoutSec) * time.Second}),
		datasource.WithRateLimit(c.RatePerSec, c.Burst),
		datasource.WithMaxRetry(time.Duration(c.MaxRetrySec) * time.Second),
		datasource.WithCacheTTL(time.Duration(c.CacheTTLSec) * time.Second),
		datasource.WithLogger(logger),
	}
}

// finnhubOptions maps the finnhub config section onto client options. The
// HTTP and retry settings are shared with the yahoo section.
func finnhubOptions(c config.Config, logger zerolog.Logger) []datasource.Option {
	return []datasource.Option{
		datasource.WithBaseURL(c.Finnhub.BaseURL),
		datasource.WithHTTPClient(&http.Client{Timeout: time.Duration(c.Yahoo.TimeoutSec) * time.Second}),
		datasource.WithMaxRetry(time.Duration(c.Yahoo.MaxRetrySec) * time.Second),
		datasource.WithLogger(logging.Component(logger, "finnhub")),
	}
}

func scanConfig(c config.Config, dryRun bool) scan.Config {
	return scan.Config{
		HorizonDays:  c.Finnhub.HorizonDays,
		MinMarketCap: c.Scan.MinMarketCap,
		Concurrency:  c.Scan.Concurrency,
		DryRun:       dryRun,
	}
}

// newApp builds the clients and engine. The database is opened only when
// needDB is set; a configured but unreachable database is an error.
func newApp(ctx context.Context, cfg *config.Config, needDB bool) (*app, error) {
	logger := logging.New(cfg.Logging)

	a := &app{logger: logger}
	a.yahoo = datasource.NewYFinance(
		httpOptions(cfg.Yahoo, cfg.Yahoo.BaseURL, logging.Component(logger, "yfinance"))...)
	a.market = a.yahoo
	if strings.EqualFold(cfg.Engine.Source, "cboe") {
		a.market = datasource.NewCBOE(
			httpOptions(cfg.Yahoo, cfg.CBOE.BaseURL, logging.Component(logger, "cboe"))...)
	}
	a.finnhub = datasource.NewFinnhub(cfg.Finnhub.APIKey, finnhubOptions(*cfg, logger)...)
	// Days to expiry count from the ET trading date, not the host's date.
	a.engine = volatility.NewEngine(a.market, engineParams(cfg.Engine),
		volatility.WithClock(utils.NowET),
		volatility.WithLogger(logging.Component(logger, "engine")))
	logger.Debug().
		Str("market_data", a.market.Name()).
		Str("quotes", a.yahoo.Name()).
		Str("calendar", a.finnhub.Name()).
		Msg("data sources configured")

	if needDB {
		st, err := store.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.store = st
	}
	return a, nil
}

// scanner builds the earnings scan over the app's collaborators.
func (a *app) scanner(cfg *config.Config, dryRun bool) *scan.Scanner {
	var repo scan.Repository
	if a.store != nil {
		repo = a.store
	}
	return scan.New(a.finnhub, a.yahoo, a.engine, repo, scanConfig(*cfg, dryRun),
		scan.WithClock(utils.NowET),
		scan.WithLogger(logging.Component(a.logger, "scan")))
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}
