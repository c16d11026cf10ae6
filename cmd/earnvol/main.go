// Command earnvol computes earnings volatility term-structure signals.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/earnvol/api"
	"github.com/seenimoa/earnvol/internal/config"
	"github.com/seenimoa/earnvol/internal/logging"
	"github.com/seenimoa/earnvol/internal/scheduler"
	"github.com/seenimoa/earnvol/internal/store"
	"github.com/seenimoa/earnvol/pkg/models"
	"github.com/seenimoa/earnvol/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "earnvol",
	Short: "Earnings volatility term-structure signals",
	Long: `earnvol rates upcoming earnings events for short-volatility trades.

For each ticker it builds the implied volatility term structure from the
listed option chains, compares 30-day implied against Yang-Zhang realized
volatility, and classifies the setup as favorable, marginal or unfavorable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(statusCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("earnvol %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Recommend Command ---

var recommendCmd = &cobra.Command{
	Use:   "recommend [ticker]",
	Short: "Compute the earnings volatility signal for a ticker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		rec := a.engine.Recommend(ctx, utils.NormalizeTicker(args[0]))
		if asJSON {
			return printJSON(rec)
		}
		printRecord(rec)
		if !rec.OK() {
			return fmt.Errorf("%s", rec.Message)
		}
		return nil
	},
}

func init() {
	recommendCmd.Flags().Bool("json", false, "print the decision record as JSON")
}

func printRecord(rec models.DecisionRecord) {
	fmt.Printf("%s: %s\n", rec.Ticker, rec.Message)
	if !rec.OK() {
		return
	}
	fmt.Printf("  Avg volume (30d):  %.0f\n", *rec.AverageVolume)
	fmt.Printf("  IV30 / RV30:       %.4f\n", *rec.IVRVRatio)
	fmt.Printf("  Term slope 0-45:   %.6f\n", *rec.TermSlope)
	if rec.ExpectedMovePercent != nil {
		fmt.Printf("  Expected move:     %.2f%%\n", *rec.ExpectedMovePercent)
	} else {
		fmt.Printf("  Expected move:     n/a\n")
	}
	fmt.Printf("  Rating:            %s (%d)\n", rec.EffectiveRating(), rec.EffectiveRating())
}

// --- Scan Command ---

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the earnings calendar and store ratings",
	Long: `Fetch upcoming earnings from Finnhub, skip companies below the market cap
floor, compute a recommendation for each and upsert the rows into Postgres.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, !dryRun)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.scanner(cfg, dryRun).Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(sum)
	},
}

func init() {
	scanCmd.Flags().Bool("dry-run", false, "compute rows without writing them")
}

// --- Cleanup Command ---

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete past rows and today's before-open rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.scanner(cfg, false).Cleanup(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		withCron, _ := cmd.Flags().GetBool("with-cron")

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, cfg.Database.URL != "")
		if err != nil {
			return err
		}
		defer a.Close()

		deps := api.Deps{
			Recommender: a.engine,
			Options:     a.market,
			Stocks:      a.yahoo,
		}
		if a.store != nil {
			jobs := a.scanner(cfg, false)
			deps.Earnings = a.store
			deps.Jobs = jobs

			if withCron || cfg.Cron.Enabled {
				sched := scheduler.New(jobs, logging.Component(a.logger, "scheduler"),
					scheduler.WithTradingCalendar(utils.IsTradingDay))
				if err := sched.Start(cfg.Cron.UpdateEarnings, cfg.Cron.DeleteBeforeMarket); err != nil {
					return err
				}
				defer stopScheduler(sched)
			}
		} else {
			a.logger.Warn().Msg("database not configured; earnings endpoints disabled")
		}

		srv := api.NewServer(cfg, deps, logging.Component(a.logger, "api"), version)
		return srv.ListenAndServe(ctx, cfg.API.Addr())
	},
}

func init() {
	serveCmd.Flags().Bool("with-cron", false, "also run the scheduled earnings jobs")
}

func stopScheduler(s *scheduler.Scheduler) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.Stop(ctx)
}

// --- Cron Command ---

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run the scheduled earnings jobs in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		sched := scheduler.New(a.scanner(cfg, false), logging.Component(a.logger, "scheduler"),
			scheduler.WithTradingCalendar(utils.IsTradingDay))
		if err := sched.Start(cfg.Cron.UpdateEarnings, cfg.Cron.DeleteBeforeMarket); err != nil {
			return err
		}
		for _, next := range sched.Next() {
			a.logger.Info().Time("next", next).Msg("scheduled")
		}

		<-ctx.Done()
		stopScheduler(sched)
		return nil
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  earnvol: System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		now := utils.NowET()
		fmt.Printf("  Market Status: %s\n", utils.MarketStatusAt(now))
		fmt.Printf("  Time (ET):     %s\n", utils.FormatDateTimeET(now))
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    Engine:        %s, window %d, min days %d\n", cfg.Engine.Source, cfg.Engine.Window, cfg.Engine.MinDays)
		fmt.Printf("    Scan:          horizon %dd, min cap %.0f\n", cfg.Finnhub.HorizonDays, cfg.Scan.MinMarketCap)
		fmt.Printf("    Cron:          %q / %q (enabled: %v)\n", cfg.Cron.UpdateEarnings, cfg.Cron.DeleteBeforeMarket, cfg.Cron.Enabled)
		fmt.Printf("    API Server:    %s\n", cfg.API.Addr())
		fmt.Println()

		fmt.Println("  Credentials:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}
		fmt.Println()

		fmt.Print("  Database:      ")
		if cfg.Database.URL == "" {
			fmt.Println("not configured")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			st, err := store.Open(ctx, cfg.Database.URL)
			if err == nil {
				err = st.Ping(ctx)
				st.Close()
			}
			if err != nil {
				fmt.Printf("❌ %v\n", err)
			} else {
				fmt.Println("✅ reachable")
			}
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
