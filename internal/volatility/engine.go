// Package volatility implements the earnings volatility engine: expiration
// filtering, ATM implied volatility extraction, term-structure
// interpolation, Yang-Zhang realized volatility and the rating table.
//
// The engine keeps no state between calls. One Recommend call fetches a
// ticker's snapshot through MarketData and always returns a DecisionRecord.
package volatility

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seenimoa/earnvol/pkg/models"
)

// MarketData is the set of reads the engine needs from a market-data source.
type MarketData interface {
	// Expirations lists the option expiration dates (YYYY-MM-DD) of ticker.
	Expirations(ctx context.Context, ticker string) ([]string, error)
	// OptionChain returns the calls and puts listed for one expiration.
	OptionChain(ctx context.Context, ticker, expiration string) (*models.ExpirationChain, error)
	// PriceHistory returns chronological daily bars covering lookback, e.g. "3mo".
	PriceHistory(ctx context.Context, ticker, lookback string) ([]models.PriceBar, error)
	// CurrentPrice returns the latest underlying price.
	CurrentPrice(ctx context.Context, ticker string) (float64, error)
}

// Params configures the engine.
type Params struct {
	Window          int        // Yang-Zhang window
	TradingPeriods  int        // annualisation periods per year
	MinDays         int        // expiration horizon for the filter and slope
	IVHorizon       int        // day count the IV in the IV/RV ratio is sampled at
	VolumeWindow    int        // sessions in the average volume
	HistoryLookback string     // price history lookback passed to MarketData
	Thresholds      Thresholds // rating cut-offs
}

// DefaultParams returns the standard 30-day Yang-Zhang, 45-day slope setup.
func DefaultParams() Params {
	return Params{
		Window:          DefaultWindow,
		TradingPeriods:  DefaultTradingPeriods,
		MinDays:         DefaultMinDays,
		IVHorizon:       30,
		VolumeWindow:    30,
		HistoryLookback: "3mo",
		Thresholds:      DefaultThresholds(),
	}
}

// Snapshot is every input of one computation, already fetched.
type Snapshot struct {
	Ticker       string
	Chains       []models.ExpirationChain // filtered, ascending by expiration
	CurrentPrice float64
	History      []models.PriceBar
}

// Analysis is the intermediate result of a successful computation.
type Analysis struct {
	Points       []AtmPoint
	Signal       Signal
	RealizedVol  float64
	Straddle     *float64
	ExpectedMove *float64
	Rating       models.Rating
}

// Analyze runs the pipeline on a fetched snapshot. It never returns partial
// results: any failed precondition yields an error and a zero Analysis.
func (p Params) Analyze(snap Snapshot, today time.Time) (Analysis, error) {
	points, err := ExtractATMPoints(snap.Chains, snap.CurrentPrice, today)
	if err != nil {
		return Analysis{}, err
	}
	return p.analyzePoints(snap, points)
}

// analyzePoints finishes the pipeline from ATM points already extracted
// from snap.Chains.
func (p Params) analyzePoints(snap Snapshot, points []AtmPoint) (Analysis, error) {
	var straddle *float64
	if nearest, ok := NearestChain(snap.Chains, points); ok {
		straddle = ExtractStraddle(nearest, snap.CurrentPrice)
	}

	ts, err := BuildTermStructure(points)
	if err != nil {
		return Analysis{}, err
	}
	slope, err := ts.TermSlope(points[0].DaysToExpiry, p.MinDays)
	if err != nil {
		return Analysis{}, err
	}

	rv, err := RealizedVolatility(snap.History, p.Window, p.TradingPeriods)
	if err != nil {
		return Analysis{}, err
	}
	if rv == 0 {
		return Analysis{}, fmt.Errorf("%w: zero realized volatility", ErrInsufficientHistory)
	}

	avgVolume, err := AverageVolume(snap.History, p.VolumeWindow)
	if err != nil {
		return Analysis{}, err
	}

	sig := Signal{
		AverageVolume: avgVolume,
		IVRVRatio:     ts.At(float64(p.IVHorizon)) / rv,
		TermSlope:     slope,
	}
	if !finite(sig.AverageVolume, sig.IVRVRatio, sig.TermSlope) {
		return Analysis{}, fmt.Errorf("non-finite signal %+v", sig)
	}

	return Analysis{
		Points:       points,
		Signal:       sig,
		RealizedVol:  rv,
		Straddle:     straddle,
		ExpectedMove: ExpectedMovePercent(straddle, snap.CurrentPrice),
		Rating:       p.Thresholds.Rate(sig),
	}, nil
}

// Engine computes recommendations from a MarketData source.
// It is safe for concurrent use.
type Engine struct {
	md     MarketData
	params Params
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used to determine today's date.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine reading from md.
func NewEngine(md MarketData, params Params, opts ...Option) *Engine {
	e := &Engine{
		md:     md,
		params: params,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Params returns the engine's parameters.
func (e *Engine) Params() Params { return e.params }

// Recommend computes the decision record for ticker. Failures are reported
// in the record, never as an error.
func (e *Engine) Recommend(ctx context.Context, ticker string) models.DecisionRecord {
	now := e.now()
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	a, err := e.compute(ctx, ticker, now)
	if err != nil {
		e.logger.Warn().
			Str("ticker", ticker).
			Str("kind", Kind(err)).
			Err(err).
			Msg("recommendation failed")
		return models.ErrorRecord(ticker, BoundaryMessage(ticker, err), now)
	}

	e.logger.Debug().
		Str("ticker", ticker).
		Int("expirations", len(a.Points)).
		Float64("iv_rv", a.Signal.IVRVRatio).
		Float64("slope", a.Signal.TermSlope).
		Float64("avg_volume", a.Signal.AverageVolume).
		Int("rating", int(a.Rating)).
		Msg("recommendation computed")

	return Record(ticker, a, now)
}

// Record converts a successful analysis into an OK decision record.
func Record(ticker string, a Analysis, at time.Time) models.DecisionRecord {
	avg := a.Signal.AverageVolume
	ratio := a.Signal.IVRVRatio
	slope := a.Signal.TermSlope
	rating := a.Rating
	return models.DecisionRecord{
		Status:              models.StatusOK,
		Message:             msgOK,
		Ticker:              ticker,
		AverageVolume:       &avg,
		IVRVRatio:           &ratio,
		TermSlope:           &slope,
		ExpectedMovePercent: a.ExpectedMove,
		Rating:              &rating,
		ComputedAt:          at,
	}
}

func (e *Engine) compute(ctx context.Context, ticker string, now time.Time) (Analysis, error) {
	if ticker == "" {
		return Analysis{}, ErrInvalidTicker
	}

	dates, err := e.md.Expirations(ctx, ticker)
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrNoOptions, err)
	}
	if len(dates) == 0 {
		return Analysis{}, fmt.Errorf("%w: %s", ErrNoOptions, ticker)
	}

	dates, err = FilterExpirations(dates, now, e.params.MinDays)
	if err != nil {
		return Analysis{}, err
	}

	chains := make([]models.ExpirationChain, 0, len(dates))
	for _, d := range dates {
		chain, err := e.md.OptionChain(ctx, ticker, d)
		if err != nil {
			if ctx.Err() != nil {
				return Analysis{}, ctx.Err()
			}
			e.logger.Debug().Str("ticker", ticker).Str("expiration", d).Err(err).Msg("skipping expiration")
			continue
		}
		chains = append(chains, *chain)
	}

	spot, err := e.md.CurrentPrice(ctx, ticker)
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if spot <= 0 || math.IsNaN(spot) {
		return Analysis{}, fmt.Errorf("%w: got %v", ErrPriceUnavailable, spot)
	}

	// Fail on an empty chain set before paying for the history fetch.
	points, err := ExtractATMPoints(chains, spot, now)
	if err != nil {
		return Analysis{}, err
	}

	history, err := e.md.PriceHistory(ctx, ticker, e.params.HistoryLookback)
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrInsufficientHistory, err)
	}

	return e.params.analyzePoints(Snapshot{
		Ticker:       ticker,
		Chains:       chains,
		CurrentPrice: spot,
		History:      history,
	}, points)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
