// Package scan runs the weekly earnings scan: it pulls the upcoming
// earnings calendar, filters it to large liquid names, computes a
// recommendation for each and stores the result.
package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/earnvol/pkg/models"
)

// Calendar lists upcoming earnings announcements.
type Calendar interface {
	EarningsCalendar(ctx context.Context, from, to time.Time) ([]models.EarningsEvent, error)
}

// MarketCaps looks up market capitalisation.
type MarketCaps interface {
	MarketCap(ctx context.Context, ticker string) (float64, error)
}

// Recommender computes a decision record for one ticker.
type Recommender interface {
	Recommend(ctx context.Context, ticker string) models.DecisionRecord
}

// Repository stores scan results.
type Repository interface {
	Upsert(ctx context.Context, row models.EarningsRow) error
	DeleteBefore(ctx context.Context, day time.Time) (int64, error)
	DeleteTodayBeforeOpen(ctx context.Context, day time.Time) (int64, error)
}

// Config controls which calendar entries are scanned.
type Config struct {
	HorizonDays  int     // calendar days ahead to scan
	MinMarketCap float64 // skip smaller companies
	Concurrency  int     // parallel recommendations
	DryRun       bool    // compute rows without writing them
}

// Summary reports the outcome of one scan.
type Summary struct {
	Considered int                  `json:"considered"`
	Skipped    int                  `json:"skipped"`
	Written    int                  `json:"written"`
	Failed     int                  `json:"failed"`
	Rows       []models.EarningsRow `json:"rows"`
}

// CleanupResult reports rows removed by Cleanup.
type CleanupResult struct {
	Past       int64 `json:"past"`
	BeforeOpen int64 `json:"before_open"`
}

// Scanner wires the calendar, engine and store together.
type Scanner struct {
	calendar Calendar
	caps     MarketCaps
	rec      Recommender
	repo     Repository
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithClock overrides the clock used for the calendar window and cleanup.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// WithLogger sets the scanner logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

// New creates a Scanner. repo may be nil when cfg.DryRun is set.
func New(cal Calendar, caps MarketCaps, rec Recommender, repo Repository, cfg Config, opts ...Option) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 7
	}
	s := &Scanner{
		calendar: cal,
		caps:     caps,
		rec:      rec,
		repo:     repo,
		cfg:      cfg,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errNoRepository = errors.New("scan: no repository configured")

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeWritten
	outcomeFailed
)

// Run scans the next HorizonDays of announcements. It fails only when the
// calendar cannot be read or ctx is cancelled; per-ticker problems are
// counted in the summary.
func (s *Scanner) Run(ctx context.Context) (Summary, error) {
	if !s.cfg.DryRun && s.repo == nil {
		return Summary{}, errNoRepository
	}

	from := s.now()
	to := from.AddDate(0, 0, s.cfg.HorizonDays)
	events, err := s.calendar.EarningsCalendar(ctx, from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("scan: read calendar: %w", err)
	}
	events = dedupe(events)

	var (
		mu      sync.Mutex
		summary = Summary{Considered: len(events), Rows: []models.EarningsRow{}}
	)
	record := func(o outcome, row *models.EarningsRow) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeSkipped:
			summary.Skipped++
		case outcomeFailed:
			summary.Failed++
		case outcomeWritten:
			summary.Written++
			summary.Rows = append(summary.Rows, *row)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, ev := range events {
		g.Go(func() error {
			o, row := s.process(gctx, ev)
			record(o, row)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return summary, fmt.Errorf("scan: %w", err)
	}

	sort.Slice(summary.Rows, func(i, j int) bool { return summary.Rows[i].Ticker < summary.Rows[j].Ticker })
	s.logger.Info().
		Int("considered", summary.Considered).
		Int("skipped", summary.Skipped).
		Int("written", summary.Written).
		Int("failed", summary.Failed).
		Bool("dry_run", s.cfg.DryRun).
		Msg("earnings scan complete")
	return summary, nil
}

func (s *Scanner) process(ctx context.Context, ev models.EarningsEvent) (outcome, *models.EarningsRow) {
	log := s.logger.With().Str("ticker", ev.Ticker).Logger()

	if ev.Hour == "" {
		log.Debug().Msg("skipping: no announcement hour")
		return outcomeSkipped, nil
	}
	date, err := time.Parse(models.DateLayout, ev.Date)
	if err != nil {
		log.Debug().Str("date", ev.Date).Msg("skipping: bad date")
		return outcomeSkipped, nil
	}

	mc, err := s.caps.MarketCap(ctx, ev.Ticker)
	if err != nil {
		log.Debug().Err(err).Msg("skipping: market cap unavailable")
		return outcomeSkipped, nil
	}
	if mc < s.cfg.MinMarketCap {
		log.Debug().Float64("market_cap", mc).Msg("skipping: below market cap floor")
		return outcomeSkipped, nil
	}

	rec := s.rec.Recommend(ctx, ev.Ticker)
	if !rec.OK() {
		log.Info().Str("message", rec.Message).Msg("recommendation failed")
		return outcomeFailed, nil
	}

	row, ok := rowFor(ev, date, rec)
	if !ok {
		log.Debug().Msg("skipping: non-finite metrics")
		return outcomeSkipped, nil
	}

	if !s.cfg.DryRun {
		if err := s.repo.Upsert(ctx, row); err != nil {
			log.Error().Err(err).Msg("store recommendation")
			return outcomeFailed, nil
		}
	}
	return outcomeWritten, &row
}

// rowFor builds the stored row. A missing expected move is stored as 0.
func rowFor(ev models.EarningsEvent, date time.Time, rec models.DecisionRecord) (models.EarningsRow, bool) {
	if rec.AverageVolume == nil || rec.IVRVRatio == nil || rec.TermSlope == nil || rec.Rating == nil {
		return models.EarningsRow{}, false
	}
	for _, v := range []float64{*rec.AverageVolume, *rec.IVRVRatio, *rec.TermSlope} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.EarningsRow{}, false
		}
	}

	move := 0.0
	if rec.ExpectedMovePercent != nil {
		move = *rec.ExpectedMovePercent
	}
	return models.EarningsRow{
		Ticker:         ev.Ticker,
		EarningsDate:   date,
		EarningsTiming: ev.Hour,
		ExpectedMove:   move,
		AvgVolume:      *rec.AverageVolume,
		IVRVRatio:      *rec.IVRVRatio,
		TermSlope:      *rec.TermSlope,
		EPSEstimate:    ev.EPSEstimate,
		Rating:         int(*rec.Rating),
	}.Rounded(), true
}

// dedupe keeps the first calendar entry of each ticker.
func dedupe(events []models.EarningsEvent) []models.EarningsEvent {
	seen := make(map[string]bool, len(events))
	out := events[:0:0]
	for _, ev := range events {
		if seen[ev.Ticker] {
			continue
		}
		seen[ev.Ticker] = true
		out = append(out, ev)
	}
	return out
}

// DeletePast removes rows whose announcement date has passed.
func (s *Scanner) DeletePast(ctx context.Context) (int64, error) {
	if s.repo == nil {
		return 0, errNoRepository
	}
	n, err := s.repo.DeleteBefore(ctx, s.today())
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("rows", n).Msg("deleted past earnings")
	return n, nil
}

// DeleteBeforeOpen removes today's before-market-open rows.
func (s *Scanner) DeleteBeforeOpen(ctx context.Context) (int64, error) {
	if s.repo == nil {
		return 0, errNoRepository
	}
	n, err := s.repo.DeleteTodayBeforeOpen(ctx, s.today())
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("rows", n).Msg("deleted before-open earnings")
	return n, nil
}

// Cleanup removes past rows and today's before-open rows.
func (s *Scanner) Cleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	var err error
	if res.Past, err = s.DeletePast(ctx); err != nil {
		return res, err
	}
	if res.BeforeOpen, err = s.DeleteBeforeOpen(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Update deletes past rows, then scans. It is the scheduled weekday refresh.
func (s *Scanner) Update(ctx context.Context) (Summary, error) {
	if _, err := s.DeletePast(ctx); err != nil {
		return Summary{}, err
	}
	return s.Run(ctx)
}

func (s *Scanner) today() time.Time {
	y, m, d := s.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
