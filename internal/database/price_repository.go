package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/internal/utils"
	"github.com/irfndi/celebrum-netinfer/pkg/interfaces"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

// DefaultWindowHours is used when a request leaves Hours at zero.
const DefaultWindowHours = 72

// ErrNoPrices is returned when none of the requested symbols has stored prices.
var ErrNoPrices = errors.New("no stored prices for the requested symbols")

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const latestHourQuery = `
		SELECT MAX(md.timestamp)
		FROM market_data md
		JOIN trading_pairs tp ON md.trading_pair_id = tp.id
		WHERE tp.symbol = ANY($1)
	`

const hourlyPricesQuery = `
		SELECT tp.symbol, date_trunc('hour', md.timestamp) AS bucket, AVG(md.last_price)::float8 AS price
		FROM market_data md
		JOIN trading_pairs tp ON md.trading_pair_id = tp.id
		WHERE tp.symbol = ANY($1) AND md.timestamp >= $2 AND md.timestamp < $3
		GROUP BY tp.symbol, bucket
		ORDER BY bucket, tp.symbol
	`

// PriceRepository builds hourly SeriesSets from stored ticker snapshots.
type PriceRepository struct {
	pool   DatabasePool
	logger *logrus.Entry
}

var _ interfaces.SeriesSource = (*PriceRepository)(nil)

// NewPriceRepository creates a new price repository.
func NewPriceRepository(pool DatabasePool, logger *logrus.Logger) *PriceRepository {
	return &PriceRepository{
		pool:   pool,
		logger: logging.WithComponent(logger, "price_repository"),
	}
}

// LatestHour returns the start of the hour after the newest stored snapshot
// of any of symbols.
func (r *PriceRepository) LatestHour(ctx context.Context, symbols []string) (time.Time, error) {
	var latest *time.Time
	if err := r.pool.QueryRow(ctx, latestHourQuery, symbols).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest price timestamp: %w", err)
	}
	if latest == nil {
		return time.Time{}, ErrNoPrices
	}
	return latest.UTC().Truncate(time.Hour).Add(time.Hour), nil
}

// LoadSeries averages snapshots into hourly buckets over [Until-Hours, Until)
// and keeps the buckets every returned symbol has a price for. Symbols with
// no stored prices are left out of the set.
func (r *PriceRepository) LoadSeries(ctx context.Context, req interfaces.SeriesRequest) (*models.SeriesSet, error) {
	req = req.Normalized()
	if len(req.Symbols) == 0 {
		return nil, utils.NewValidationError("at least one symbol is required")
	}
	hours := req.Hours
	if hours <= 0 {
		hours = DefaultWindowHours
	}

	until := req.Until.UTC()
	if req.Until.IsZero() {
		var err error
		if until, err = r.LatestHour(ctx, req.Symbols); err != nil {
			return nil, err
		}
	}
	since := until.Add(-time.Duration(hours) * time.Hour)

	rows, err := r.pool.Query(ctx, hourlyPricesQuery, req.Symbols, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[string]map[time.Time]float64)
	var buckets []time.Time
	seen := make(map[time.Time]bool)
	for rows.Next() {
		var (
			symbol string
			bucket time.Time
			price  float64
		)
		if err := rows.Scan(&symbol, &bucket, &price); err != nil {
			return nil, fmt.Errorf("failed to scan hourly price: %w", err)
		}
		bucket = bucket.UTC()
		if prices[symbol] == nil {
			prices[symbol] = make(map[time.Time]float64)
		}
		prices[symbol][bucket] = price
		if !seen[bucket] {
			seen[bucket] = true
			buckets = append(buckets, bucket)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hourly prices: %w", err)
	}
	if len(prices) == 0 {
		return nil, ErrNoPrices
	}

	set := &models.SeriesSet{Values: make(map[string][]float64, len(prices))}
	for _, s := range req.Symbols {
		if _, ok := prices[s]; ok {
			set.IDs = append(set.IDs, s)
		} else {
			r.logger.WithField("symbol", s).Warn("No stored prices for symbol")
		}
	}

	slices.SortFunc(buckets, func(a, b time.Time) int { return a.Compare(b) })
	for _, b := range buckets {
		complete := true
		for _, s := range set.IDs {
			if _, ok := prices[s][b]; !ok {
				complete = false
				break
			}
		}
		if complete {
			set.Timestamps = append(set.Timestamps, b)
		}
	}
	for _, s := range set.IDs {
		values := make([]float64, len(set.Timestamps))
		for i, b := range set.Timestamps {
			values[i] = prices[s][b]
		}
		set.Values[s] = values
	}

	r.logger.WithFields(logrus.Fields{
		"symbols": len(set.IDs),
		"hours":   len(set.Timestamps),
		"since":   since,
		"until":   until,
	}).Debug("Loaded hourly price series")
	return set, nil
}
