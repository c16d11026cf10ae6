// Package api provides the HTTP REST API server for earnvol.
//
// It exposes per-ticker recommendations, the stored earnings table with scan
// and cleanup triggers, cron-gated job endpoints, option chain passthrough
// and stock detail and chart lookups.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/seenimoa/earnvol/internal/config"
	"github.com/seenimoa/earnvol/internal/datasource"
	"github.com/seenimoa/earnvol/internal/scan"
	"github.com/seenimoa/earnvol/pkg/models"
	"github.com/seenimoa/earnvol/pkg/utils"
)

// Recommender produces a decision record for one ticker.
type Recommender interface {
	Recommend(ctx context.Context, ticker string) models.DecisionRecord
}

// Earnings reads the stored earnings table.
type Earnings interface {
	List(ctx context.Context) ([]models.EarningsRow, error)
}

// Jobs runs the scan and cleanup operations behind the earnings endpoints.
type Jobs interface {
	Run(ctx context.Context) (scan.Summary, error)
	Update(ctx context.Context) (scan.Summary, error)
	DeletePast(ctx context.Context) (int64, error)
	DeleteBeforeOpen(ctx context.Context) (int64, error)
}

// Options serves raw option chain data.
type Options interface {
	Expirations(ctx context.Context, ticker string) ([]string, error)
	Snapshot(ctx context.Context, ticker, expiration string) (*models.OptionChainSnapshot, error)
}

// Stocks serves quote details and price charts.
type Stocks interface {
	Details(ctx context.Context, ticker string) (*models.StockDetails, error)
	Chart(ctx context.Context, ticker, rng string) (*models.PriceChart, error)
}

// Deps bundles the server's collaborators. Nil members disable their routes'
// functionality with a 503.
type Deps struct {
	Recommender Recommender
	Earnings    Earnings
	Jobs        Jobs
	Options     Options
	Stocks      Stocks
}

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	deps    Deps
	logger  zerolog.Logger
	version string
	now     func() time.Time
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps, logger zerolog.Logger, version string) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		version: version,
		now:     utils.NowET,
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server and blocks until SIGINT/SIGTERM or
// ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	s.logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(corsOptions(s.cfg.API.CORSOrigins)))

	// Health check
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Recommendations
		r.Get("/recommendation/{ticker}", s.handleRecommendation)

		// Earnings table
		r.Get("/earnings", s.handleListEarnings)
		r.Post("/earnings", s.handleScanEarnings)
		r.Delete("/earnings", s.handleDeletePast)
		r.Delete("/earnings/current", s.handleDeleteBeforeOpen)

		// Scheduled jobs, invoked by an external cron
		r.Group(func(r chi.Router) {
			r.Use(s.requireCronAgent)
			r.Get("/cron/update-earnings", s.handleCronUpdate)
			r.Get("/cron/delete-before-market", s.handleCronDeleteBeforeOpen)
		})

		// Option chain passthrough
		r.Get("/options/{ticker}/expirations", s.handleExpirations)
		r.Get("/options/{ticker}", s.handleOptionChain)

		// Stock details and charts
		r.Get("/stock/{ticker}/details", s.handleStockDetails)
		r.Get("/stock/{ticker}/chart", s.handleStockChart)
	})

	return r
}

// ============================================================
// Middleware
// ============================================================

// requestLogger logs one line per request through the server logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// corsOptions allows the configured origins only. No origins means no
// cross-origin access, and a wildcard never carries credentials.
func corsOptions(origins []string) cors.Options {
	opts := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(origins) == 0 {
		// An empty list would otherwise allow every origin.
		opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	for _, o := range origins {
		if o == "*" {
			opts.AllowCredentials = false
		}
	}
	return opts
}

// requireCronAgent rejects requests whose User-Agent is not the configured
// cron caller.
func (s *Server) requireCronAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.API.CronUserAgent
		if want == "" || r.UserAgent() != want {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// DeleteResult reports how many rows a cleanup removed.
type DeleteResult struct {
	Deleted int64 `json:"deleted"`
}

// ExpirationsResponse lists the expirations of one ticker.
type ExpirationsResponse struct {
	Ticker      string   `json:"ticker"`
	Expirations []string `json:"expirations"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":        "ok",
			"version":       s.version,
			"market_status": utils.MarketStatusAt(now),
			"market_open":   utils.IsMarketOpenAt(now),
			"time_et":       utils.FormatDateTimeET(now),
		},
	})
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recommender == nil {
		writeError(w, http.StatusServiceUnavailable, "recommendations not configured")
		return
	}
	ticker := utils.NormalizeTicker(chi.URLParam(r, "ticker"))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	// Failed analyses are still a 200: the record carries the error status.
	rec := s.deps.Recommender.Recommend(ctx, ticker)
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    rec,
	})
}

func (s *Server) handleListEarnings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Earnings == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	rows, err := s.deps.Earnings.List(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list earnings")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []models.EarningsRow{}
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    rows,
	})
}

func (s *Server) handleScanEarnings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "scan not configured")
		return
	}
	sum, err := s.deps.Jobs.Run(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("earnings scan")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    sum,
	})
}

func (s *Server) handleDeletePast(w http.ResponseWriter, r *http.Request) {
	s.runDelete(w, r, "delete past earnings", func(ctx context.Context) (int64, error) {
		return s.deps.Jobs.DeletePast(ctx)
	})
}

func (s *Server) handleDeleteBeforeOpen(w http.ResponseWriter, r *http.Request) {
	s.runDelete(w, r, "delete before-open earnings", func(ctx context.Context) (int64, error) {
		return s.deps.Jobs.DeleteBeforeOpen(ctx)
	})
}

func (s *Server) handleCronUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "scan not configured")
		return
	}
	sum, err := s.deps.Jobs.Update(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("cron update earnings")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    sum,
	})
}

func (s *Server) handleCronDeleteBeforeOpen(w http.ResponseWriter, r *http.Request) {
	s.handleDeleteBeforeOpen(w, r)
}

func (s *Server) runDelete(w http.ResponseWriter, r *http.Request, what string, fn func(context.Context) (int64, error)) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	n, err := fn(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg(what)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    DeleteResult{Deleted: n},
	})
}

func (s *Server) handleExpirations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Options == nil {
		writeError(w, http.StatusServiceUnavailable, "market data not configured")
		return
	}
	ticker := utils.NormalizeTicker(chi.URLParam(r, "ticker"))

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	dates, err := s.deps.Options.Expirations(ctx, ticker)
	if err != nil {
		writeDataError(w, err)
		return
	}
	if len(dates) == 0 {
		writeError(w, http.StatusNotFound, "no options found for "+ticker)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    ExpirationsResponse{Ticker: ticker, Expirations: dates},
	})
}

func (s *Server) handleOptionChain(w http.ResponseWriter, r *http.Request) {
	if s.deps.Options == nil {
		writeError(w, http.StatusServiceUnavailable, "market data not configured")
		return
	}
	ticker := utils.NormalizeTicker(chi.URLParam(r, "ticker"))

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	expiration := r.URL.Query().Get("expiration")
	if expiration == "" {
		dates, err := s.deps.Options.Expirations(ctx, ticker)
		if err != nil {
			writeDataError(w, err)
			return
		}
		if len(dates) == 0 {
			writeError(w, http.StatusNotFound, "no options found for "+ticker)
			return
		}
		expiration = dates[0]
	} else if _, err := time.Parse(models.DateLayout, expiration); err != nil {
		writeError(w, http.StatusBadRequest, "expiration must be YYYY-MM-DD")
		return
	}

	snap, err := s.deps.Options.Snapshot(ctx, ticker, expiration)
	if err != nil {
		writeDataError(w, err)
		return
	}
	if !snap.Chain.Usable() {
		writeError(w, http.StatusNotFound, "no options found for "+ticker+" at "+expiration)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    snap,
	})
}

func (s *Server) handleStockDetails(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stocks == nil {
		writeError(w, http.StatusServiceUnavailable, "market data not configured")
		return
	}
	ticker := utils.NormalizeTicker(chi.URLParam(r, "ticker"))

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	details, err := s.deps.Stocks.Details(ctx, ticker)
	if err != nil {
		writeDataError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    details,
	})
}

func (s *Server) handleStockChart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stocks == nil {
		writeError(w, http.StatusServiceUnavailable, "market data not configured")
		return
	}
	ticker := utils.NormalizeTicker(chi.URLParam(r, "ticker"))
	rng := r.URL.Query().Get("range")
	if rng == "" {
		rng = "1D"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	chart, err := s.deps.Stocks.Chart(ctx, ticker, rng)
	if err != nil {
		writeDataError(w, err)
		return
	}
	if len(chart.Points) == 0 {
		writeError(w, http.StatusNotFound, "no chart data for "+ticker+" in range "+chart.Range)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    chart,
	})
}

// ============================================================
// Helpers
// ============================================================

// writeDataError maps a market data failure to a response status.
func writeDataError(w http.ResponseWriter, err error) {
	if errors.Is(err, datasource.ErrTickerNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var httpErr *datasource.ErrHTTP
	if errors.As(err, &httpErr) {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
