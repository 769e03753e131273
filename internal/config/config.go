package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFormat   string          `mapstructure:"log_format"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Analysis    AnalysisConfig  `mapstructure:"analysis"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig controls the Redis cache in front of the price repository.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// TelemetryConfig selects the trace exporter: "none", "stdout" or "otlp".
type TelemetryConfig struct {
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// AnalysisConfig is the recognised option surface of one analysis run.
type AnalysisConfig struct {
	MaxTokens            int     `mapstructure:"max_tokens" json:"max_tokens" validate:"gte=0"`
	TimeHours            int     `mapstructure:"time_hours" json:"time_hours" validate:"gte=0"`
	CorrelationThreshold float64 `mapstructure:"correlation_threshold" json:"correlation_threshold" validate:"gte=0,lte=1"`
	TEThreshold          float64 `mapstructure:"te_threshold" json:"te_threshold" validate:"gte=0"`
	MaxLagSources        int     `mapstructure:"max_lag_sources" json:"max_lag_sources" validate:"gte=1,gtefield=MinLagSources"`
	MinLagSources        int     `mapstructure:"min_lag_sources" json:"min_lag_sources" validate:"gte=1"`
	MaxLagTarget         int     `mapstructure:"max_lag_target" json:"max_lag_target" validate:"gte=0"`
	TauSources           int     `mapstructure:"tau_sources" json:"tau_sources" validate:"gte=1"`
	TauTarget            int     `mapstructure:"tau_target" json:"tau_target" validate:"gte=1"`
	SourceEmbeddingDim   int     `mapstructure:"source_embedding_dim" json:"source_embedding_dim" validate:"gte=1"`
	NPermMaxStat         int     `mapstructure:"n_perm_max_stat" json:"n_perm_max_stat" validate:"gte=1"`
	NPermMinStat         int     `mapstructure:"n_perm_min_stat" json:"n_perm_min_stat" validate:"gte=1"`
	NPermOmnibus         int     `mapstructure:"n_perm_omnibus" json:"n_perm_omnibus" validate:"gte=1"`
	Alpha                float64 `mapstructure:"alpha" json:"alpha" validate:"gt=0,lt=1"`
	FDRAlpha             float64 `mapstructure:"fdr_alpha" json:"fdr_alpha" validate:"gt=0,lt=1"`
	KraskovK             int     `mapstructure:"kraskov_k" json:"kraskov_k" validate:"gte=1"`
	NumThreads           string  `mapstructure:"num_threads" json:"num_threads"`
	CMIEstimator         string  `mapstructure:"cmi_estimator" json:"cmi_estimator"`
	NoiseLevel           float64 `mapstructure:"noise_level" json:"noise_level" validate:"gte=0"`
	DistanceNorm         string  `mapstructure:"distance_norm" json:"distance_norm" validate:"oneof=max euclidean"`
	LogBase              float64 `mapstructure:"log_base" json:"log_base" validate:"gt=0"`
	OutlierStd           float64 `mapstructure:"outlier_std" json:"outlier_std" validate:"gte=0"`
	Standardize          bool    `mapstructure:"standardize" json:"standardize"`
	MinPrice             float64 `mapstructure:"min_price" json:"min_price" validate:"gte=0"`
	PriceSmoothingPeriod int     `mapstructure:"price_smoothing_period" json:"price_smoothing_period" validate:"gte=1"`
	SurrogateMethod      string  `mapstructure:"surrogate_method" json:"surrogate_method" validate:"oneof=shuffle rotate"`
	Prefilter            bool    `mapstructure:"prefilter_by_correlation" json:"prefilter_by_correlation"`
	Seed                 uint64  `mapstructure:"seed" json:"seed"`
	// Timeout bounds the whole run; zero disables it.
	Timeout                time.Duration `mapstructure:"timeout" json:"timeout" validate:"gte=0"`
	GroupHighCorrelation   float64       `mapstructure:"group_high_correlation" json:"group_high_correlation" validate:"gte=0,lte=1"`
	GroupMediumCorrelation float64       `mapstructure:"group_medium_correlation" json:"group_medium_correlation" validate:"gte=0,ltefield=GroupHighCorrelation"`
	GroupHighTEQuantile    float64       `mapstructure:"group_high_te_quantile" json:"group_high_te_quantile" validate:"gte=0,lte=1"`
	GroupMediumTEQuantile  float64       `mapstructure:"group_medium_te_quantile" json:"group_medium_te_quantile" validate:"gte=0,ltefield=GroupHighTEQuantile"`
}

// UseAllThreads is the num_threads value that sizes the pool to the host.
const UseAllThreads = "use_all"

// DefaultAnalysisConfig returns the defaults for hourly crypto returns.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		MaxTokens:              30,
		TimeHours:              72,
		CorrelationThreshold:   0.6,
		TEThreshold:            0.05,
		MaxLagSources:          6,
		MinLagSources:          1,
		MaxLagTarget:           3,
		TauSources:             1,
		TauTarget:              1,
		SourceEmbeddingDim:     1,
		NPermMaxStat:           50,
		NPermMinStat:           50,
		NPermOmnibus:           100,
		Alpha:                  0.05,
		FDRAlpha:               0.05,
		KraskovK:               4,
		NumThreads:             UseAllThreads,
		CMIEstimator:           "kraskov",
		NoiseLevel:             1e-8,
		DistanceNorm:           "max",
		LogBase:                math.E,
		OutlierStd:             3,
		Standardize:            true,
		MinPrice:               0.001,
		PriceSmoothingPeriod:   24,
		SurrogateMethod:        "shuffle",
		Seed:                   42,
		Timeout:                30 * time.Minute,
		GroupHighCorrelation:   0.8,
		GroupMediumCorrelation: 0.7,
		GroupHighTEQuantile:    0.75,
		GroupMediumTEQuantile:  0.5,
	}
}

var validate = validator.New()

// Validate checks every analysis option.
func (a AnalysisConfig) Validate() error {
	if err := validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid analysis config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if a.LogBase == 1 {
		return errors.New("invalid analysis config: log_base must not be 1")
	}
	if _, err := a.Threads(); err != nil {
		return err
	}
	return nil
}

// Threads parses num_threads. Zero means "size to the host".
func (a AnalysisConfig) Threads() (int, error) {
	s := strings.ToLower(strings.TrimSpace(a.NumThreads))
	switch s {
	case "", UseAllThreads, "use_all_available", "all", "0":
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid analysis config: num_threads must be a positive integer or %q, got %q", UseAllThreads, a.NumThreads)
	}
	return n, nil
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("database.database_url", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_URL environment variable: %w", err)
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := config.Analysis.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "json")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Set database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "celebrum_ai")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 2)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Cache
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.ttl", "10m")

	// Telemetry
	viper.SetDefault("telemetry.exporter", "none")
	viper.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	viper.SetDefault("telemetry.service_name", "celebrum-netinfer")
	viper.SetDefault("telemetry.sample_ratio", 1.0)

	// Analysis
	a := DefaultAnalysisConfig()
	viper.SetDefault("analysis.max_tokens", a.MaxTokens)
	viper.SetDefault("analysis.time_hours", a.TimeHours)
	viper.SetDefault("analysis.correlation_threshold", a.CorrelationThreshold)
	viper.SetDefault("analysis.te_threshold", a.TEThreshold)
	viper.SetDefault("analysis.max_lag_sources", a.MaxLagSources)
	viper.SetDefault("analysis.min_lag_sources", a.MinLagSources)
	viper.SetDefault("analysis.max_lag_target", a.MaxLagTarget)
	viper.SetDefault("analysis.tau_sources", a.TauSources)
	viper.SetDefault("analysis.tau_target", a.TauTarget)
	viper.SetDefault("analysis.source_embedding_dim", a.SourceEmbeddingDim)
	viper.SetDefault("analysis.n_perm_max_stat", a.NPermMaxStat)
	viper.SetDefault("analysis.n_perm_min_stat", a.NPermMinStat)
	viper.SetDefault("analysis.n_perm_omnibus", a.NPermOmnibus)
	viper.SetDefault("analysis.alpha", a.Alpha)
	viper.SetDefault("analysis.fdr_alpha", a.FDRAlpha)
	viper.SetDefault("analysis.kraskov_k", a.KraskovK)
	viper.SetDefault("analysis.num_threads", a.NumThreads)
	viper.SetDefault("analysis.cmi_estimator", a.CMIEstimator)
	viper.SetDefault("analysis.noise_level", a.NoiseLevel)
	viper.SetDefault("analysis.distance_norm", a.DistanceNorm)
	viper.SetDefault("analysis.log_base", a.LogBase)
	viper.SetDefault("analysis.outlier_std", a.OutlierStd)
	viper.SetDefault("analysis.standardize", a.Standardize)
	viper.SetDefault("analysis.min_price", a.MinPrice)
	viper.SetDefault("analysis.price_smoothing_period", a.PriceSmoothingPeriod)
	viper.SetDefault("analysis.surrogate_method", a.SurrogateMethod)
	viper.SetDefault("analysis.prefilter_by_correlation", a.Prefilter)
	viper.SetDefault("analysis.seed", a.Seed)
	viper.SetDefault("analysis.timeout", a.Timeout.String())
	viper.SetDefault("analysis.group_high_correlation", a.GroupHighCorrelation)
	viper.SetDefault("analysis.group_medium_correlation", a.GroupMediumCorrelation)
	viper.SetDefault("analysis.group_high_te_quantile", a.GroupHighTEQuantile)
	viper.SetDefault("analysis.group_medium_te_quantile", a.GroupMediumTEQuantile)
}
