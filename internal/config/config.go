// Package config loads, defaults and validates the valuation pipeline settings.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration. It is read once at run
// start and treated as immutable afterwards.
type Config struct {
	Project    ProjectConfig    `yaml:"project" mapstructure:"project"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Features   FeaturesConfig   `yaml:"features" mapstructure:"features"`
	Context    ContextConfig    `yaml:"context" mapstructure:"context"`
	Modeling   ModelingConfig   `yaml:"modeling" mapstructure:"modeling"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
}

// ProjectConfig holds presentation settings shared by the CLI and API.
type ProjectConfig struct {
	Disclaimer string `yaml:"disclaimer" mapstructure:"disclaimer" validate:"required"`
}

// StoreConfig configures the warehouse backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port" validate:"gt=0,lte=65535"`
	RateLimitRPS float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps" validate:"gte=0"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// RedisConfig configures the response cache.
type RedisConfig struct {
	Addr       string `yaml:"addr" mapstructure:"addr"`
	Password   string `yaml:"password" mapstructure:"password"`
	DB         int    `yaml:"db" mapstructure:"db" validate:"gte=0"`
	TTLSeconds int    `yaml:"ttl_seconds" mapstructure:"ttl_seconds" validate:"gt=0"`
}

// StorageConfig configures the raw snapshot archive.
type StorageConfig struct {
	RawPath string `yaml:"raw_path" mapstructure:"raw_path" validate:"required"`
}

// AttentionWeights weights each popularity signal in the attention score.
type AttentionWeights struct {
	SocialFollowers  float64 `yaml:"social_followers" mapstructure:"social_followers" validate:"gte=0"`
	SocialEngagement float64 `yaml:"social_engagement" mapstructure:"social_engagement" validate:"gte=0"`
	SearchInterest   float64 `yaml:"search_interest" mapstructure:"search_interest" validate:"gte=0"`
}

// FeaturesConfig configures the attention scorer and performance indexer.
type FeaturesConfig struct {
	AttentionWeights   AttentionWeights   `yaml:"attention_weights" mapstructure:"attention_weights"`
	AttentionDecayDays float64            `yaml:"attention_decay_days" mapstructure:"attention_decay_days" validate:"gt=0"`
	PerformanceWeights map[string]float64 `yaml:"performance_weights" mapstructure:"performance_weights" validate:"required,min=1"`
	MarketAdjustment   map[string]float64 `yaml:"market_adjustment" mapstructure:"market_adjustment" validate:"dive,gt=0"`
}

// SchoolContext holds market factors for one school. Nil factors default to 1.0.
type SchoolContext struct {
	MarketSize *float64 `yaml:"market_size" mapstructure:"market_size" validate:"omitempty,gt=0"`
	TVExposure *float64 `yaml:"tv_exposure" mapstructure:"tv_exposure" validate:"omitempty,gt=0"`
}

// ContextConfig holds per-school market context.
type ContextConfig struct {
	Schools map[string]SchoolContext `yaml:"schools" mapstructure:"schools" validate:"dive"`
}

// RegressorConfig holds gradient-boosting hyperparameters for one stage.
type RegressorConfig struct {
	NEstimators    int     `yaml:"n_estimators" mapstructure:"n_estimators" validate:"gte=1"`
	LearningRate   float64 `yaml:"learning_rate" mapstructure:"learning_rate" validate:"gt=0,lte=1"`
	MaxDepth       int     `yaml:"max_depth" mapstructure:"max_depth" validate:"gte=1,lte=16"`
	MinSamplesLeaf int     `yaml:"min_samples_leaf" mapstructure:"min_samples_leaf" validate:"gte=1"`
}

// ModelingConfig configures training, shrinkage and confidence bands.
type ModelingConfig struct {
	ShrinkagePrior      float64         `yaml:"shrinkage_prior" mapstructure:"shrinkage_prior" validate:"gte=0"`
	ShrinkageStrength   float64         `yaml:"shrinkage_strength" mapstructure:"shrinkage_strength" validate:"gt=0"`
	ResidualStdFallback float64         `yaml:"residual_std_fallback" mapstructure:"residual_std_fallback" validate:"gt=0"`
	CIZ                 float64         `yaml:"ci_z" mapstructure:"ci_z" validate:"gt=0"`
	CIFloor             float64         `yaml:"ci_floor" mapstructure:"ci_floor" validate:"gte=0"`
	StageA              RegressorConfig `yaml:"stage_a" mapstructure:"stage_a"`
	StageB              RegressorConfig `yaml:"stage_b" mapstructure:"stage_b"`
}

// MonitoringConfig configures run health checks and alerting.
type MonitoringConfig struct {
	MinCoverage   float64 `yaml:"min_coverage" mapstructure:"min_coverage" validate:"gte=0,lte=1"`
	MaxMAPE       float64 `yaml:"max_mape" mapstructure:"max_mape" validate:"gte=0"`
	WebhookURL    string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	LookbackHours int     `yaml:"lookback_hours" mapstructure:"lookback_hours" validate:"gt=0"`

	MaxFailureRate    float64 `yaml:"max_failure_rate" mapstructure:"max_failure_rate" validate:"gte=0,lte=1"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
}

// MetricsConfig configures where batch runs push their metrics. An empty
// pushgateway_url disables pushing.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Job            string `yaml:"job" mapstructure:"job" validate:"required"`
}

// Error reports a configuration failure. It is kept distinct from data
// processing errors so callers can abort before any stage runs.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "config: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err (or any error it wraps) is a config Error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Load reads configuration from path (or NIL_CONFIG, or config.yaml in . and
// ./config) and the environment, then validates it. A missing or malformed
// file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("NIL_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment
	v.SetEnvPrefix("NIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, &Error{Op: "read file", Err: err}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &Error{Op: "unmarshal", Err: err}
	}
	schools, err := readSchools(v.ConfigFileUsed())
	if err != nil {
		return nil, &Error{Op: "read schools", Err: err}
	}
	if schools != nil {
		cfg.Context.Schools = schools
	}
	applyMapDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	applyMapDefaults(&cfg)
	return &cfg
}

// readSchools decodes context.schools directly from a YAML config file.
// viper splits keys on ".", so names like "St. John's" cannot go through it.
// Names are lower-cased to match viper's handling of every other key. It
// returns nil when the file is not YAML or has no schools section.
func readSchools(path string) (map[string]SchoolContext, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read %s", path)
	}
	var doc struct {
		Context struct {
			Schools map[string]SchoolContext `yaml:"schools"`
		} `yaml:"context"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrapf(err, "config: decode %s", path)
	}
	if doc.Context.Schools == nil {
		return nil, nil
	}

	out := make(map[string]SchoolContext, len(doc.Context.Schools))
	for name, sc := range doc.Context.Schools {
		out[strings.ToLower(name)] = sc
	}
	return out, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project.disclaimer", "Estimated value, not contractual. NIL valuations are model outputs for informational use only.")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_seconds", 900)
	v.SetDefault("storage.raw_path", "data/raw")
	v.SetDefault("features.attention_weights.social_followers", 0.4)
	v.SetDefault("features.attention_weights.social_engagement", 0.3)
	v.SetDefault("features.attention_weights.search_interest", 0.3)
	v.SetDefault("features.attention_decay_days", 30)
	v.SetDefault("modeling.shrinkage_prior", 20000)
	v.SetDefault("modeling.shrinkage_strength", 5)
	v.SetDefault("modeling.residual_std_fallback", 15000)
	v.SetDefault("modeling.ci_z", 1.645)
	v.SetDefault("modeling.ci_floor", 5000)
	for _, stage := range []string{"stage_a", "stage_b"} {
		v.SetDefault("modeling."+stage+".n_estimators", 100)
		v.SetDefault("modeling."+stage+".learning_rate", 0.1)
		v.SetDefault("modeling."+stage+".max_depth", 3)
		v.SetDefault("modeling."+stage+".min_samples_leaf", 1)
	}
	v.SetDefault("monitoring.min_coverage", 0.8)
	v.SetDefault("monitoring.max_mape", 0.5)
	v.SetDefault("monitoring.lookback_hours", 168)
	v.SetDefault("monitoring.max_failure_rate", 0.2)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("metrics.job", "nil_valuation")
}

// applyMapDefaults fills map-valued settings only when the file leaves them
// empty. viper would otherwise deep-merge default keys into user maps.
func applyMapDefaults(cfg *Config) {
	if len(cfg.Features.PerformanceWeights) == 0 {
		cfg.Features.PerformanceWeights = map[string]float64{
			"points":     0.4,
			"assists":    0.2,
			"rebounds":   0.2,
			"efficiency": 0.2,
		}
	}
	if cfg.Features.MarketAdjustment == nil {
		cfg.Features.MarketAdjustment = map[string]float64{
			"football":   1.5,
			"basketball": 1.3,
			"baseball":   1.0,
		}
	}
	if cfg.Context.Schools == nil {
		cfg.Context.Schools = map[string]SchoolContext{}
	}
}

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Op: "validate", Err: err}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, field+" failed "+fe.Tag()+"="+fe.Param())
		} else {
			msgs = append(msgs, field+" failed "+fe.Tag())
		}
	}
	return &Error{Op: "validate", Err: eris.New(strings.Join(msgs, "; "))}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// RequireDatabase checks that the configured store can be opened.
func (c *Config) RequireDatabase() error {
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return &Error{Op: "validate", Err: eris.New("store.database_url is required for the postgres driver")}
	}
	return nil
}
