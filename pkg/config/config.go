package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/logging"
)

// APMConfig holds all configuration for the APM pipeline
type APMConfig struct {
	ServiceName string `json:"service_name" yaml:"service_name" validate:"required"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`

	Logging    logging.Config   `json:"logging" yaml:"logging"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Manager    ManagerConfig    `json:"manager" yaml:"manager"`
	Profiling  ProfilingConfig  `json:"profiling" yaml:"profiling"`
	Baseline   BaselineConfig   `json:"baseline" yaml:"baseline"`
	SLA        SLAConfig        `json:"sla" yaml:"sla"`
	Bottleneck BottleneckConfig `json:"bottleneck" yaml:"bottleneck"`
	Trend      TrendConfig      `json:"trend" yaml:"trend"`
	Regression RegressionConfig `json:"regression" yaml:"regression"`
}

// StoreConfig selects and configures the metric sample store
type StoreConfig struct {
	Backend  string `json:"backend" yaml:"backend" validate:"oneof=memory redis"`
	Capacity int    `json:"capacity" yaml:"capacity" validate:"gt=0"`

	RedisAddr         string        `json:"redis_addr" yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword     string        `json:"-" yaml:"redis_password"`
	RedisDB           int           `json:"redis_db" yaml:"redis_db" validate:"gte=0"`
	RedisKeyPrefix    string        `json:"redis_key_prefix" yaml:"redis_key_prefix"`
	RedisDialTimeout  time.Duration `json:"redis_dial_timeout" yaml:"redis_dial_timeout"`
	RedisReadTimeout  time.Duration `json:"redis_read_timeout" yaml:"redis_read_timeout"`
	RedisWriteTimeout time.Duration `json:"redis_write_timeout" yaml:"redis_write_timeout"`
	RedisPoolSize     int           `json:"redis_pool_size" yaml:"redis_pool_size" validate:"gte=0"`

	BreakerMaxRequests  uint32        `json:"breaker_max_requests" yaml:"breaker_max_requests"`
	BreakerInterval     time.Duration `json:"breaker_interval" yaml:"breaker_interval"`
	BreakerTimeout      time.Duration `json:"breaker_timeout" yaml:"breaker_timeout"`
	BreakerFailureRatio float64       `json:"breaker_failure_ratio" yaml:"breaker_failure_ratio" validate:"gte=0,lte=1"`
	BreakerMinRequests  uint32        `json:"breaker_min_requests" yaml:"breaker_min_requests"`
}

// ManagerConfig holds the composition root's own loop intervals
type ManagerConfig struct {
	AggregationInterval time.Duration `json:"aggregation_interval" yaml:"aggregation_interval" validate:"gt=0"`
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval" validate:"gt=0"`
	SummaryInterval     time.Duration `json:"summary_interval" yaml:"summary_interval" validate:"gt=0"`
}

// ProfilingConfig configures on-demand profiling sessions
type ProfilingConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	MaxDuration  time.Duration `json:"max_duration" yaml:"max_duration" validate:"gt=0"`
	MaxSessions  int           `json:"max_sessions" yaml:"max_sessions" validate:"gt=0"`
	TopFunctions int           `json:"top_functions" yaml:"top_functions" validate:"gt=0"`

	// Completed profiles are uploaded to S3 when ArchiveBucket is set
	ArchiveBucket  string        `json:"archive_bucket" yaml:"archive_bucket"`
	ArchivePrefix  string        `json:"archive_prefix" yaml:"archive_prefix"`
	ArchiveRegion  string        `json:"archive_region" yaml:"archive_region"`
	ArchiveTimeout time.Duration `json:"archive_timeout" yaml:"archive_timeout" validate:"gte=0"`
}

// TracingConfig configures span export. Spans are only exported when
// Enabled is set; otherwise the global no-op provider is used.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint" validate:"required_if=Enabled true"`
	URLPath     string  `json:"url_path" yaml:"url_path"`
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// BaselineConfig configures baseline establishment and drift detection
type BaselineConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	MinDataPoints   int           `json:"min_data_points" yaml:"min_data_points" validate:"gte=2"`
	BaselinePeriod  time.Duration `json:"baseline_period" yaml:"baseline_period" validate:"gt=0"`
	UpdateFrequency time.Duration `json:"update_frequency" yaml:"update_frequency" validate:"gt=0"`
	DriftThreshold  float64       `json:"drift_threshold" yaml:"drift_threshold" validate:"gt=0"`
	DriftWindow     time.Duration `json:"drift_window" yaml:"drift_window" validate:"gt=0"`
	ConfidenceLevel float64       `json:"confidence_level" yaml:"confidence_level" validate:"gt=0,lt=1"`
	OutlierRemoval  bool          `json:"outlier_removal" yaml:"outlier_removal"`
	AutoUpdate      bool          `json:"auto_update" yaml:"auto_update"`
	MaxDriftHistory int           `json:"max_drift_history" yaml:"max_drift_history" validate:"gt=0"`
}

// SLAConfig configures the default SLAs and evaluation cadence
type SLAConfig struct {
	Enabled                      bool          `json:"enabled" yaml:"enabled"`
	EvaluationInterval           time.Duration `json:"evaluation_interval" yaml:"evaluation_interval" validate:"gt=0"`
	ReportInterval               time.Duration `json:"report_interval" yaml:"report_interval" validate:"gt=0"`
	MeasurementWindow            time.Duration `json:"measurement_window" yaml:"measurement_window" validate:"gt=0"`
	ViolationThreshold           int           `json:"violation_threshold" yaml:"violation_threshold" validate:"gt=0"`
	DefaultResponseTimeThreshold float64       `json:"default_response_time_threshold" yaml:"default_response_time_threshold" validate:"gt=0"`
	DefaultErrorRateThreshold    float64       `json:"default_error_rate_threshold" yaml:"default_error_rate_threshold" validate:"gte=0,lte=100"`
	DefaultAvailabilityThreshold float64       `json:"default_availability_threshold" yaml:"default_availability_threshold" validate:"gte=0,lte=100"`
	MaxViolationHistory          int           `json:"max_violation_history" yaml:"max_violation_history" validate:"gt=0"`
}

// BottleneckConfig configures resource thresholds and correlation analysis
type BottleneckConfig struct {
	Enabled                       bool          `json:"enabled" yaml:"enabled"`
	CPUThreshold                  float64       `json:"cpu_threshold" yaml:"cpu_threshold" validate:"gt=0,lte=100"`
	MemoryThreshold               float64       `json:"memory_threshold" yaml:"memory_threshold" validate:"gt=0,lte=100"`
	IOThreshold                   float64       `json:"io_threshold" yaml:"io_threshold" validate:"gt=0,lte=100"`
	NetworkThreshold              float64       `json:"network_threshold" yaml:"network_threshold" validate:"gt=0,lte=100"`
	DatabaseResponseTimeThreshold float64       `json:"database_response_time_threshold" yaml:"database_response_time_threshold" validate:"gt=0"`
	DetectionInterval             time.Duration `json:"detection_interval" yaml:"detection_interval" validate:"gt=0"`
	SampleWindow                  int           `json:"sample_window" yaml:"sample_window" validate:"gt=0"`
	MinSamples                    int           `json:"min_samples" yaml:"min_samples" validate:"gt=0,ltefield=SampleWindow"`
	CorrelationSamples            int           `json:"correlation_samples" yaml:"correlation_samples" validate:"gte=3"`
	CorrelationAlignWindow        time.Duration `json:"correlation_align_window" yaml:"correlation_align_window" validate:"gt=0"`
	CorrelationPValue             float64       `json:"correlation_p_value" yaml:"correlation_p_value" validate:"gt=0,lt=1"`
	MaxCorrelationMetrics         int           `json:"max_correlation_metrics" yaml:"max_correlation_metrics" validate:"gte=0"`
	ImmediateTriggerThreshold     float64       `json:"immediate_trigger_threshold" yaml:"immediate_trigger_threshold" validate:"gt=0"`
	ImmediateCooldown             time.Duration `json:"immediate_cooldown" yaml:"immediate_cooldown" validate:"gte=0"`
	MaxHistory                    int           `json:"max_history" yaml:"max_history" validate:"gt=0"`
}

// TrendConfig configures trend analysis, forecasting and capacity planning
type TrendConfig struct {
	Enabled             bool          `json:"enabled" yaml:"enabled"`
	MinDataPoints       int           `json:"min_data_points" yaml:"min_data_points" validate:"gte=3"`
	AnalysisPeriod      time.Duration `json:"analysis_period" yaml:"analysis_period" validate:"gt=0"`
	AnalysisInterval    time.Duration `json:"analysis_interval" yaml:"analysis_interval" validate:"gt=0"`
	ForecastHorizon     time.Duration `json:"forecast_horizon" yaml:"forecast_horizon" validate:"gt=0"`
	ForecastPoints      int           `json:"forecast_points" yaml:"forecast_points" validate:"gt=0"`
	ForecastSamples     int           `json:"forecast_samples" yaml:"forecast_samples" validate:"gte=3"`
	PlanningHorizonDays float64       `json:"planning_horizon_days" yaml:"planning_horizon_days" validate:"gt=0"`
	CapacityThreshold   float64       `json:"capacity_threshold" yaml:"capacity_threshold" validate:"gt=0"`
	StabilityThreshold  float64       `json:"stability_threshold" yaml:"stability_threshold" validate:"gte=0"`
	SignificanceLevel   float64       `json:"significance_level" yaml:"significance_level" validate:"gt=0,lt=1"`
}

// RegressionConfig configures version-to-version regression detection
type RegressionConfig struct {
	Enabled             bool    `json:"enabled" yaml:"enabled"`
	MinSamples          int     `json:"min_samples" yaml:"min_samples" validate:"gte=2"`
	RegressionThreshold float64 `json:"regression_threshold" yaml:"regression_threshold" validate:"gt=0"`
	SignificanceLevel   float64 `json:"significance_level" yaml:"significance_level" validate:"gt=0,lt=1"`
	MaxSamplesPerMetric int     `json:"max_samples_per_metric" yaml:"max_samples_per_metric" validate:"gt=0"`
	MaxHistory          int     `json:"max_history" yaml:"max_history" validate:"gt=0"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *APMConfig {
	return &APMConfig{
		ServiceName: "apm-monitor",
		Enabled:     true,
		Logging:     logging.DefaultConfig(),
		Store:       DefaultStoreConfig(),
		Manager: ManagerConfig{
			AggregationInterval: 5 * time.Minute,
			HealthCheckInterval: time.Minute,
			SummaryInterval:     10 * time.Minute,
		},
		Profiling: ProfilingConfig{
			Enabled:        true,
			MaxDuration:    5 * time.Minute,
			MaxSessions:    100,
			TopFunctions:   10,
			ArchivePrefix:  "profiles/",
			ArchiveTimeout: 30 * time.Second,
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			SampleRatio: 1,
		},
		Baseline:   DefaultBaselineConfig(),
		SLA:        DefaultSLAConfig(),
		Bottleneck: DefaultBottleneckConfig(),
		Trend:      DefaultTrendConfig(),
		Regression: DefaultRegressionConfig(),
	}
}

// DefaultStoreConfig returns an in-memory store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:             "memory",
		Capacity:            10000,
		RedisAddr:           "localhost:6379",
		RedisKeyPrefix:      "apm:",
		RedisDialTimeout:    5 * time.Second,
		RedisReadTimeout:    3 * time.Second,
		RedisWriteTimeout:   3 * time.Second,
		RedisPoolSize:       10,
		BreakerMaxRequests:  3,
		BreakerInterval:     time.Minute,
		BreakerTimeout:      30 * time.Second,
		BreakerFailureRatio: 0.6,
		BreakerMinRequests:  5,
	}
}

func DefaultBaselineConfig() BaselineConfig {
	return BaselineConfig{
		Enabled:         true,
		MinDataPoints:   100,
		BaselinePeriod:  7 * 24 * time.Hour,
		UpdateFrequency: 24 * time.Hour,
		DriftThreshold:  0.2,
		DriftWindow:     time.Hour,
		ConfidenceLevel: 0.95,
		OutlierRemoval:  true,
		AutoUpdate:      true,
		MaxDriftHistory: 1000,
	}
}

func DefaultSLAConfig() SLAConfig {
	return SLAConfig{
		Enabled:                      true,
		EvaluationInterval:           time.Minute,
		ReportInterval:               24 * time.Hour,
		MeasurementWindow:            5 * time.Minute,
		ViolationThreshold:           3,
		DefaultResponseTimeThreshold: 1000,
		DefaultErrorRateThreshold:    1.0,
		DefaultAvailabilityThreshold: 99.9,
		MaxViolationHistory:          1000,
	}
}

func DefaultBottleneckConfig() BottleneckConfig {
	return BottleneckConfig{
		Enabled:                       true,
		CPUThreshold:                  80,
		MemoryThreshold:               85,
		IOThreshold:                   80,
		NetworkThreshold:              80,
		DatabaseResponseTimeThreshold: 1000,
		DetectionInterval:             time.Minute,
		SampleWindow:                  20,
		MinSamples:                    10,
		CorrelationSamples:            50,
		CorrelationAlignWindow:        5 * time.Minute,
		CorrelationPValue:             0.05,
		MaxCorrelationMetrics:         50,
		ImmediateTriggerThreshold:     90,
		ImmediateCooldown:             10 * time.Second,
		MaxHistory:                    1000,
	}
}

func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		Enabled:             true,
		MinDataPoints:       20,
		AnalysisPeriod:      7 * 24 * time.Hour,
		AnalysisInterval:    time.Hour,
		ForecastHorizon:     24 * time.Hour,
		ForecastPoints:      24,
		ForecastSamples:     100,
		PlanningHorizonDays: 30,
		CapacityThreshold:   90,
		StabilityThreshold:  0.01,
		SignificanceLevel:   0.05,
	}
}

func DefaultRegressionConfig() RegressionConfig {
	return RegressionConfig{
		Enabled:             true,
		MinSamples:          30,
		RegressionThreshold: 0.1,
		SignificanceLevel:   0.05,
		MaxSamplesPerMetric: 10000,
		MaxHistory:          1000,
	}
}

// LoadFromFile reads a YAML configuration file on top of the defaults
func LoadFromFile(path string) (*APMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of the defaults and validates it
func Parse(data []byte) (*APMConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv overrides cfg with APM_* environment variables. A nil cfg
// starts from the defaults.
func LoadFromEnv(cfg *APMConfig) (*APMConfig, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var errs []string

	envString("APM_SERVICE_NAME", &cfg.ServiceName)
	envBool("APM_ENABLED", &cfg.Enabled, &errs)
	envString("APM_LOG_LEVEL", &cfg.Logging.Level)
	envString("APM_LOG_FORMAT", &cfg.Logging.Format)

	envString("APM_STORE_BACKEND", &cfg.Store.Backend)
	envInt("APM_STORE_CAPACITY", &cfg.Store.Capacity, &errs)
	envString("APM_REDIS_ADDR", &cfg.Store.RedisAddr)
	envString("APM_REDIS_PASSWORD", &cfg.Store.RedisPassword)
	envInt("APM_REDIS_DB", &cfg.Store.RedisDB, &errs)
	envString("APM_REDIS_KEY_PREFIX", &cfg.Store.RedisKeyPrefix)

	envDuration("APM_AGGREGATION_INTERVAL", &cfg.Manager.AggregationInterval, &errs)
	envDuration("APM_HEALTH_CHECK_INTERVAL", &cfg.Manager.HealthCheckInterval, &errs)
	envDuration("APM_SUMMARY_INTERVAL", &cfg.Manager.SummaryInterval, &errs)

	envBool("APM_PROFILING_ENABLED", &cfg.Profiling.Enabled, &errs)
	envDuration("APM_PROFILING_MAX_DURATION", &cfg.Profiling.MaxDuration, &errs)
	envString("APM_PROFILING_ARCHIVE_BUCKET", &cfg.Profiling.ArchiveBucket)
	envString("APM_PROFILING_ARCHIVE_REGION", &cfg.Profiling.ArchiveRegion)

	envBool("APM_TRACING_ENABLED", &cfg.Tracing.Enabled, &errs)
	envString("APM_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	envBool("APM_TRACING_INSECURE", &cfg.Tracing.Insecure, &errs)
	envFloat("APM_TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio, &errs)

	envBool("APM_BASELINE_ENABLED", &cfg.Baseline.Enabled, &errs)
	envInt("APM_BASELINE_MIN_DATA_POINTS", &cfg.Baseline.MinDataPoints, &errs)
	envDuration("APM_BASELINE_PERIOD", &cfg.Baseline.BaselinePeriod, &errs)
	envDuration("APM_BASELINE_UPDATE_FREQUENCY", &cfg.Baseline.UpdateFrequency, &errs)
	envFloat("APM_BASELINE_DRIFT_THRESHOLD", &cfg.Baseline.DriftThreshold, &errs)
	envDuration("APM_BASELINE_DRIFT_WINDOW", &cfg.Baseline.DriftWindow, &errs)

	envBool("APM_SLA_ENABLED", &cfg.SLA.Enabled, &errs)
	envDuration("APM_SLA_EVALUATION_INTERVAL", &cfg.SLA.EvaluationInterval, &errs)
	envDuration("APM_SLA_MEASUREMENT_WINDOW", &cfg.SLA.MeasurementWindow, &errs)
	envInt("APM_SLA_VIOLATION_THRESHOLD", &cfg.SLA.ViolationThreshold, &errs)
	envFloat("APM_SLA_RESPONSE_TIME_THRESHOLD", &cfg.SLA.DefaultResponseTimeThreshold, &errs)
	envFloat("APM_SLA_ERROR_RATE_THRESHOLD", &cfg.SLA.DefaultErrorRateThreshold, &errs)
	envFloat("APM_SLA_AVAILABILITY_THRESHOLD", &cfg.SLA.DefaultAvailabilityThreshold, &errs)

	envBool("APM_BOTTLENECK_ENABLED", &cfg.Bottleneck.Enabled, &errs)
	envFloat("APM_BOTTLENECK_CPU_THRESHOLD", &cfg.Bottleneck.CPUThreshold, &errs)
	envFloat("APM_BOTTLENECK_MEMORY_THRESHOLD", &cfg.Bottleneck.MemoryThreshold, &errs)
	envFloat("APM_BOTTLENECK_IO_THRESHOLD", &cfg.Bottleneck.IOThreshold, &errs)
	envFloat("APM_BOTTLENECK_NETWORK_THRESHOLD", &cfg.Bottleneck.NetworkThreshold, &errs)
	envFloat("APM_BOTTLENECK_DB_RESPONSE_TIME_THRESHOLD", &cfg.Bottleneck.DatabaseResponseTimeThreshold, &errs)
	envDuration("APM_BOTTLENECK_DETECTION_INTERVAL", &cfg.Bottleneck.DetectionInterval, &errs)

	envBool("APM_TREND_ENABLED", &cfg.Trend.Enabled, &errs)
	envInt("APM_TREND_MIN_DATA_POINTS", &cfg.Trend.MinDataPoints, &errs)
	envDuration("APM_TREND_ANALYSIS_INTERVAL", &cfg.Trend.AnalysisInterval, &errs)
	envFloat("APM_TREND_CAPACITY_THRESHOLD", &cfg.Trend.CapacityThreshold, &errs)

	envBool("APM_REGRESSION_ENABLED", &cfg.Regression.Enabled, &errs)
	envInt("APM_REGRESSION_MIN_SAMPLES", &cfg.Regression.MinSamples, &errs)
	envFloat("APM_REGRESSION_THRESHOLD", &cfg.Regression.RegressionThreshold, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid environment configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration against its validation tags
func (c *APMConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "ltefield":
		return fmt.Sprintf("%s must not exceed %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool, errs *[]string) {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = b
	}
}

func envInt(key string, dst *int, errs *[]string) {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = n
	}
}

func envFloat(key string, dst *float64, errs *[]string) {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = f
	}
}

func envDuration(key string, dst *time.Duration, errs *[]string) {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = d
	}
}
