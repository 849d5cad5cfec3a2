package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, 6, cfg.Pipeline.LookbackDays)
	assert.Equal(t, 300.0, cfg.Pipeline.ClipBound)
	assert.Equal(t, "2020-01-13", cfg.Pipeline.PreCrisisStart)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Zero(t, cfg.Redis.GeoCacheTTL)
	assert.Equal(t, 6, cfg.Schedule.RunHour)
	assert.Equal(t, 6*time.Hour, cfg.Schedule.RestrictionsEvery)
	assert.Equal(t, []string{"Google_Coronavirus_Interest_1", "Pax"}, cfg.Pipeline.MarketIndicators)
}

func TestMarketIndicatorsFollowTrendTerms(t *testing.T) {
	t.Setenv("INPUT_TRENDS", "Flights=data/flights.csv,Hotels=data/hotels.csv")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Google_Flights_Interest_1", "Pax"}, cfg.Pipeline.MarketIndicators)

	t.Setenv("MARKET_SCORECARD_INDICATORS", "Pax,Trips")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Pax", "Trips"}, cfg.Pipeline.MarketIndicators)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", StoragePostgres)
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SCORECARD_CLIP_BOUND", "150.5")
	t.Setenv("CHANGEPOINT_COLUMNS", "Pax")
	t.Setenv("GEO_CACHE_TTL", "12h")
	t.Setenv("DB_PORT", "not-a-port")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 150.5, cfg.Pipeline.ClipBound)
	assert.Equal(t, []string{"Pax"}, cfg.Pipeline.ChangePointColumns)
	assert.Equal(t, 12*time.Hour, cfg.Redis.GeoCacheTTL)
	assert.Equal(t, 5432, cfg.Database.Port, "unparsable values fall back to the default")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "mongo")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadRunHour(t *testing.T) {
	t.Setenv("SCHEDULE_RUN_HOUR", "24")
	_, err := Load()
	assert.Error(t, err)
}

func TestPairs(t *testing.T) {
	got, err := Pairs([]string{"Flights=data/flights.csv", " Hotels = data/hotels.csv "})
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"Flights", "data/flights.csv"}, {"Hotels", "data/hotels.csv"}}, got)

	_, err = Pairs([]string{"Flights"})
	assert.Error(t, err)
	_, err = Pairs([]string{"=path"})
	assert.Error(t, err)
}
