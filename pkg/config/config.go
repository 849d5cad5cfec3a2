package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	SMTP     SMTPConfig
	Pipeline PipelineConfig
	Schedule ScheduleConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationsDir string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// GeoCacheTTL is how long loaded reference tables stay cached; zero
	// disables the cache.
	GeoCacheTTL     time.Duration
	GeoCacheVersion string
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicChanges  string
	TopicRuns     string
	NumPartitions int
}

// Storage drivers
const (
	StorageNone     = "none"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

type StorageConfig struct {
	Driver     string
	SQLitePath string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// PipelineConfig locates run inputs and tunes the scorecards. Empty input
// paths skip the corresponding source.
type PipelineConfig struct {
	CountriesPath string
	NamesPath     string
	AirportsPath  string
	CitiesPath    string

	CovidCasesPath      string
	CovidDeathsPath     string
	CovidRecoveriesPath string

	BookingsPath       string
	BookingHistoryPath string
	SearchesPath       string
	SchedulesPath      string

	GovernmentResponsePath string
	OrdinalColumns         []string
	IndexColumns           []string

	// TrendTerms are name=path pairs.
	TrendTerms []string

	// IndicatorsPath is a country-level indicator extract keyed by ISO3
	// codes; IndicatorValues are output=header pairs.
	IndicatorsPath      string
	IndicatorCodeColumn string
	IndicatorDateColumn string
	IndicatorValues     []string

	RestrictionMatrixPath   string
	LabelsPath              string
	// TimaticDir holds travel regulation workbooks (*.xlsx).
	TimaticDir              string
	AirportRestrictionsPath string

	OutputDir string

	PreCrisisStart string
	PreCrisisEnd   string
	LookbackDays   int
	ClipBound      float64
	// ScorecardIndicators must be set on the last day of the latest window
	// of the country scorecard, MarketIndicators on that of the market one.
	ScorecardIndicators []string
	MarketIndicators    []string

	ChangePointColumns []string
	ChangePointLimit   int
	ChangeLogStart     string
	// DigestDays is how far back change events are notified.
	DigestDays         int
}

// ScheduleConfig drives the schedule command: a full run every day at
// RunHour UTC, and the restrictions command every RestrictionsEvery.
type ScheduleConfig struct {
	RunHour           int
	RestrictionsEvery time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "monitor_user"),
			Password:      getEnv("DB_PASSWORD", "monitor_pass"),
			DBName:        getEnv("DB_NAME", "demand_monitor"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", "localhost:6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getEnvAsInt("REDIS_DB", 0),
			GeoCacheTTL:     getEnvAsDuration("GEO_CACHE_TTL", 0),
			GeoCacheVersion: getEnv("GEO_CACHE_VERSION", "v1"),
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:       getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicChanges:  getEnv("KAFKA_TOPIC_CHANGES", "demand.restriction.changes"),
			TopicRuns:     getEnv("KAFKA_TOPIC_RUNS", "demand.pipeline.runs"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 6),
		},
		Storage: StorageConfig{
			Driver:     getEnv("STORAGE_DRIVER", StorageSQLite),
			SQLitePath: getEnv("SQLITE_PATH", "data/monitor.db"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "demand-monitor@example.com"),
			To:       getEnv("SMTP_TO", "analysts@example.com"),
		},
		Pipeline: PipelineConfig{
			CountriesPath: getEnv("INPUT_COUNTRIES", ""),
			NamesPath:     getEnv("INPUT_COUNTRY_NAMES", ""),
			AirportsPath:  getEnv("INPUT_AIRPORTS", ""),
			CitiesPath:    getEnv("INPUT_CITIES", ""),

			CovidCasesPath:      getEnv("INPUT_COVID_CASES", ""),
			CovidDeathsPath:     getEnv("INPUT_COVID_DEATHS", ""),
			CovidRecoveriesPath: getEnv("INPUT_COVID_RECOVERIES", ""),

			BookingsPath:       getEnv("INPUT_BOOKINGS", ""),
			BookingHistoryPath: getEnv("INPUT_BOOKING_HISTORY", ""),
			SearchesPath:       getEnv("INPUT_SEARCHES", ""),
			SchedulesPath:      getEnv("INPUT_SCHEDULES", ""),

			GovernmentResponsePath: getEnv("INPUT_GOVERNMENT_RESPONSE", ""),
			OrdinalColumns:         getEnvAsList("GOVERNMENT_ORDINAL_COLUMNS", []string{"C1_School closing", "C2_Workplace closing", "C7_Restrictions on internal movement", "C8_International travel controls"}),
			IndexColumns:           getEnvAsList("GOVERNMENT_INDEX_COLUMNS", []string{"StringencyIndex", "ContainmentHealthIndex"}),

			TrendTerms: getEnvAsList("INPUT_TRENDS", nil),

			IndicatorsPath:      getEnv("INPUT_INDICATORS", ""),
			IndicatorCodeColumn: getEnv("INDICATOR_CODE_COLUMN", "LOCATION"),
			IndicatorDateColumn: getEnv("INDICATOR_DATE_COLUMN", "TIME"),
			IndicatorValues:     getEnvAsList("INDICATOR_VALUES", []string{"Leading_Indicator=Value"}),

			RestrictionMatrixPath:   getEnv("INPUT_RESTRICTION_MATRIX", ""),
			LabelsPath:              getEnv("LABELS_PATH", "configs/labels.yaml"),
			TimaticDir:              getEnv("INPUT_TIMATIC_DIR", ""),
			AirportRestrictionsPath: getEnv("INPUT_AIRPORT_RESTRICTIONS", ""),

			OutputDir: getEnv("OUTPUT_DIR", "data/output"),

			PreCrisisStart:      getEnv("PRE_CRISIS_START", "2020-01-13"),
			PreCrisisEnd:        getEnv("PRE_CRISIS_END", "2020-01-19"),
			LookbackDays:        getEnvAsInt("SCORECARD_LOOKBACK_DAYS", 6),
			ClipBound:           getEnvAsFloat("SCORECARD_CLIP_BOUND", 300),
			ScorecardIndicators: getEnvAsList("SCORECARD_INDICATORS", []string{"Google_Flights_Interest", "Pax"}),
			MarketIndicators:    getEnvAsList("MARKET_SCORECARD_INDICATORS", nil),

			ChangePointColumns: getEnvAsList("CHANGEPOINT_COLUMNS", []string{"covid_new_cases", "Pax"}),
			ChangePointLimit:   getEnvAsInt("CHANGEPOINT_LIMIT", 8),
			ChangeLogStart:     getEnv("CHANGE_LOG_START", "2020-01-01"),
			DigestDays:         getEnvAsInt("DIGEST_DAYS", 7),
		},
		Schedule: ScheduleConfig{
			RunHour:           getEnvAsInt("SCHEDULE_RUN_HOUR", 6),
			RestrictionsEvery: getEnvAsDuration("SCHEDULE_RESTRICTIONS_EVERY", 6*time.Hour),
		},
	}

	if len(config.Pipeline.MarketIndicators) == 0 {
		config.Pipeline.MarketIndicators = defaultMarketIndicators(config.Pipeline.TrendTerms)
	}

	switch config.Storage.Driver {
	case StorageNone, StoragePostgres, StorageSQLite:
	default:
		return nil, fmt.Errorf("unknown storage driver %q", config.Storage.Driver)
	}

	if config.Schedule.RunHour < 0 || config.Schedule.RunHour > 23 {
		return nil, fmt.Errorf("schedule run hour %d out of range", config.Schedule.RunHour)
	}

	return config, nil
}

// DefaultInterestTerm is the search-interest term of the market scorecard
// when no trend term is configured
const DefaultInterestTerm = "Coronavirus"

// defaultMarketIndicators pairs the origin-side interest of the first trend
// term with booked passengers
func defaultMarketIndicators(trendTerms []string) []string {
	term := DefaultInterestTerm
	if len(trendTerms) > 0 {
		if name, _, ok := strings.Cut(trendTerms[0], "="); ok && strings.TrimSpace(name) != "" {
			term = strings.TrimSpace(name)
		}
	}
	return []string{"Google_" + term + "_Interest_1", "Pax"}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping blank items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Pairs parses name=value items. Items without '=' are rejected.
func Pairs(items []string) ([][2]string, error) {
	out := make([][2]string, 0, len(items))
	for _, item := range items {
		name, value, ok := strings.Cut(item, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("invalid name=value item %q", item)
		}
		out = append(out, [2]string{name, value})
	}
	return out, nil
}
