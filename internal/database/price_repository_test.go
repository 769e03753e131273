package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/irfndi/celebrum-netinfer/internal/utils"
	"github.com/irfndi/celebrum-netinfer/pkg/interfaces"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hour0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func priceRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"symbol", "bucket", "price"}).
		AddRow("BTC", hour0, 100.0).
		AddRow("ETH", hour0, 10.0).
		AddRow("BTC", hour0.Add(time.Hour), 101.0).
		AddRow("BTC", hour0.Add(2*time.Hour), 102.0).
		AddRow("ETH", hour0.Add(2*time.Hour), 10.5)
}

func TestPriceRepository_LoadSeries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	until := hour0.Add(3 * time.Hour)
	mock.ExpectQuery("SELECT tp.symbol").
		WithArgs([]string{"BTC", "ETH", "SOL"}, until.Add(-3*time.Hour), until).
		WillReturnRows(priceRows())

	repo := NewPriceRepository(NewTracedPool(mock, nil), nil)
	set, err := repo.LoadSeries(context.Background(), interfaces.SeriesRequest{
		Symbols: []string{"eth", "BTC", "sol"},
		Hours:   3,
		Until:   until,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH"}, set.IDs)
	assert.Equal(t, []time.Time{hour0, hour0.Add(2 * time.Hour)}, set.Timestamps)
	assert.Equal(t, []float64{100, 102}, set.Values["BTC"])
	assert.Equal(t, []float64{10, 10.5}, set.Values["ETH"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceRepository_LoadSeries_LatestHour(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	latest := hour0.Add(2*time.Hour + 17*time.Minute)
	until := hour0.Add(3 * time.Hour)
	mock.ExpectQuery("SELECT MAX").
		WithArgs([]string{"BTC", "ETH"}).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(&latest))
	mock.ExpectQuery("SELECT tp.symbol").
		WithArgs([]string{"BTC", "ETH"}, until.Add(-DefaultWindowHours*time.Hour), until).
		WillReturnRows(priceRows())

	repo := NewPriceRepository(mock, nil)
	set, err := repo.LoadSeries(context.Background(), interfaces.SeriesRequest{Symbols: []string{"BTC", "ETH"}})
	require.NoError(t, err)
	assert.Len(t, set.Timestamps, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceRepository_LoadSeries_Errors(t *testing.T) {
	t.Run("no symbols", func(t *testing.T) {
		repo := NewPriceRepository(nil, nil)
		_, err := repo.LoadSeries(context.Background(), interfaces.SeriesRequest{Symbols: []string{" "}})
		var target *utils.ValidationError
		assert.ErrorAs(t, err, &target)
	})

	t.Run("no rows", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT tp.symbol").
			WithArgs([]string{"BTC"}, hour0.Add(-DefaultWindowHours*time.Hour), hour0).
			WillReturnRows(pgxmock.NewRows([]string{"symbol", "bucket", "price"}))

		repo := NewPriceRepository(mock, nil)
		_, err = repo.LoadSeries(context.Background(), interfaces.SeriesRequest{
			Symbols: []string{"BTC"},
			Until:   hour0,
		})
		assert.ErrorIs(t, err, ErrNoPrices)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT tp.symbol").
			WithArgs([]string{"BTC"}, hour0.Add(-DefaultWindowHours*time.Hour), hour0).
			WillReturnError(errors.New("connection reset"))

		repo := NewPriceRepository(mock, nil)
		_, err = repo.LoadSeries(context.Background(), interfaces.SeriesRequest{
			Symbols: []string{"BTC"},
			Until:   hour0,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTableOf(t *testing.T) {
	assert.Equal(t, "market_data", tableOf(hourlyPricesQuery))
	assert.Equal(t, "market_data", tableOf(latestHourQuery))
	assert.Equal(t, "unknown", tableOf("SELECT 1"))
}

func TestDSN(t *testing.T) {
	cfg := configForTest()
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=prices sslmode=disable", DSN(cfg))

	cfg.DatabaseURL = "postgres://u:p@db/prices"
	assert.Equal(t, "postgres://u:p@db/prices", DSN(cfg))

	cfg.MaxOpenConns = 8
	cfg.ConnMaxLifetime = "1h"
	poolCfg, err := PoolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(8), poolCfg.MaxConns)
	assert.Equal(t, time.Hour, poolCfg.MaxConnLifetime)
}
