package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/irfndi/celebrum-netinfer/internal/cache"
	"github.com/irfndi/celebrum-netinfer/internal/database"
	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/internal/services"
	"github.com/irfndi/celebrum-netinfer/pkg/interfaces"
	"github.com/spf13/cobra"
)

var analyzeOpts struct {
	input     string
	symbols   []string
	hours     int
	output    string
	full      bool
	estimator string
	threads   string
	seed      uint64
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis and write the result as JSON",
	Example: `  netinfer analyze --input prices.csv --output result.json
  netinfer analyze --symbols BTC,ETH,SOL --hours 72`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if (analyzeOpts.input == "") == (len(analyzeOpts.symbols) == 0) {
			return errors.New("exactly one of --input or --symbols is required")
		}
		return runAnalyze(cmd.Context(), cmd, cmd.OutOrStdout())
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVarP(&analyzeOpts.input, "input", "i", "", "CSV file with a timestamp column and one price column per asset")
	f.StringSliceVar(&analyzeOpts.symbols, "symbols", nil, "load these symbols from the price database")
	f.IntVar(&analyzeOpts.hours, "hours", 0, "hours of stored prices to load (default analysis.time_hours)")
	f.StringVarP(&analyzeOpts.output, "output", "o", "", "output file (default stdout)")
	f.BoolVar(&analyzeOpts.full, "full", false, "write the full result instead of the report")
	f.StringVar(&analyzeOpts.estimator, "estimator", "", "override analysis.cmi_estimator")
	f.StringVar(&analyzeOpts.threads, "threads", "", "override analysis.num_threads")
	f.Uint64Var(&analyzeOpts.seed, "seed", 0, "override analysis.seed")
}

func runAnalyze(ctx context.Context, cmd *cobra.Command, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := current.cfg.Analysis
	if analyzeOpts.estimator != "" {
		cfg.CMIEstimator = analyzeOpts.estimator
	}
	if analyzeOpts.threads != "" {
		cfg.NumThreads = analyzeOpts.threads
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = analyzeOpts.seed
	}

	set, cleanup, err := loadSeries(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	svc, err := services.NewNetworkAnalysisService(cfg, current.logger, nil, nil, nil)
	if err != nil {
		return err
	}
	result, err := svc.Analyze(ctx, set)
	if err != nil {
		return err
	}

	var payload interface{} = models.NewAnalysisReport(result)
	if analyzeOpts.full {
		payload = result
	}

	out := stdout
	if analyzeOpts.output != "" {
		f, err := os.Create(analyzeOpts.output)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

// loadSeries reads the CSV input or loads the symbols through the Redis
// cache (when enabled) and the price repository.
func loadSeries(ctx context.Context) (*models.SeriesSet, func(), error) {
	if analyzeOpts.input != "" {
		f, err := os.Open(analyzeOpts.input)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		set, err := readSeriesCSV(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse %s: %w", analyzeOpts.input, err)
		}
		return set, func() {}, nil
	}

	source, cleanup, err := newSeriesSource(ctx)
	if err != nil {
		return nil, nil, err
	}
	hours := analyzeOpts.hours
	if hours == 0 {
		hours = current.cfg.Analysis.TimeHours
	}
	set, err := source.LoadSeries(ctx, interfaces.SeriesRequest{
		Symbols: analyzeOpts.symbols,
		Hours:   hours,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return set, cleanup, nil
}

// storage holds the open connections behind a SeriesSource.
type storage struct {
	db    *database.PostgresDB
	redis *database.RedisClient
}

func (s *storage) close() {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

func openStorage(ctx context.Context) (*storage, error) {
	db, err := database.NewPostgresConnection(ctx, current.cfg.Database, current.logger)
	if err != nil {
		return nil, err
	}
	st := &storage{db: db}
	if current.cfg.Cache.Enabled {
		redis, err := database.NewRedisConnection(ctx, current.cfg.Redis, current.logger)
		if err != nil {
			current.logger.WithError(err).Warn("Redis unavailable, series cache disabled")
		} else {
			st.redis = redis
		}
	}
	return st, nil
}

// source layers the cache (when Redis is up) over a retried, breaker
// guarded price repository.
func (s *storage) source() interfaces.SeriesSource {
	repo := database.NewPriceRepository(database.NewTracedPool(s.db.Pool, current.logger), current.logger)
	breaker := services.NewCircuitBreaker("price_database", services.CircuitBreakerConfig{}, current.logger)
	var src interfaces.SeriesSource = services.NewGuardedSource(repo, breaker, services.DefaultRetryPolicy(), isPermanentLoadError, current.logger)
	if s.redis == nil {
		return src
	}
	c := cache.NewRedisSeriesCache(s.redis.Client, current.cfg.Cache.TTL, current.logger)
	return cache.NewCachedSource(c, src)
}

func isPermanentLoadError(err error) bool {
	return errors.Is(err, database.ErrNoPrices)
}

func newSeriesSource(ctx context.Context) (interfaces.SeriesSource, func(), error) {
	st, err := openStorage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("price database unavailable (%s): %w", strings.Join(analyzeOpts.symbols, ","), err)
	}
	return st.source(), st.close, nil
}
