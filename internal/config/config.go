package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. The orchestrator
// itself never reads environment directly: the CLI loads Config, builds
// a Capabilities bundle from it, and calls run_extraction.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Places    PlacesConfig    `yaml:"places" mapstructure:"places"`
	Browser   BrowserConfig   `yaml:"browser" mapstructure:"browser"`
	Artifact  ArtifactConfig  `yaml:"artifact" mapstructure:"artifact"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Crawler   CrawlerConfig   `yaml:"crawler" mapstructure:"crawler"`
	Vision    VisionConfig    `yaml:"vision" mapstructure:"vision"`
	Selective SelectiveConfig `yaml:"selective" mapstructure:"selective"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run/phase/artifact-index metadata backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for both text and vision calls.
type AnthropicConfig struct {
	Key                 string `yaml:"key" mapstructure:"key"`
	HaikuModel          string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel         string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	VisionModel         string `yaml:"vision_model" mapstructure:"vision_model"`
	MaxBatchSize        int    `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	NoBatch             bool   `yaml:"no_batch" mapstructure:"no_batch"`
	SmallBatchThreshold int    `yaml:"small_batch_threshold" mapstructure:"small_batch_threshold"`
}

// PlacesConfig holds places/maps directory credentials.
type PlacesConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	NearbyRadiusM int     `yaml:"nearby_radius_m" mapstructure:"nearby_radius_m"`
	NearbyMax     int     `yaml:"nearby_max" mapstructure:"nearby_max"`
}

// BrowserConfig configures the headless-browser capability shared by
// DOMCrawler and SelectiveBrowsingExtractor.
type BrowserConfig struct {
	BinaryPath      string `yaml:"binary_path" mapstructure:"binary_path"`
	Headless        bool   `yaml:"headless" mapstructure:"headless"`
	NavTimeoutMS    int    `yaml:"nav_timeout_ms" mapstructure:"nav_timeout_ms"`
	SettleMS        int    `yaml:"settle_ms" mapstructure:"settle_ms"`
}

// ArtifactConfig configures the content-addressed ArtifactStore.
type ArtifactConfig struct {
	BaseDir       string `yaml:"base_dir" mapstructure:"base_dir"`
	MaxObjectMiB  int64  `yaml:"max_object_mib" mapstructure:"max_object_mib"`
	DebugServeAddr string `yaml:"debug_serve_addr" mapstructure:"debug_serve_addr"`
}

// PricingConfig holds per-provider/per-capability pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Places    PlacesPricing           `yaml:"places" mapstructure:"places"`
	Browser   BrowserPricing          `yaml:"browser" mapstructure:"browser"`
	Artifact  ArtifactPricing         `yaml:"artifact" mapstructure:"artifact"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PlacesPricing holds heuristic per-call places-directory pricing.
type PlacesPricing struct {
	PerLookup float64 `yaml:"per_lookup" mapstructure:"per_lookup"`
	PerDetail float64 `yaml:"per_detail" mapstructure:"per_detail"`
	PerNearby float64 `yaml:"per_nearby" mapstructure:"per_nearby"`
}

// BrowserPricing holds heuristic browser-compute pricing.
type BrowserPricing struct {
	PerPageLoad   float64 `yaml:"per_page_load" mapstructure:"per_page_load"`
	PerScreenshot float64 `yaml:"per_screenshot" mapstructure:"per_screenshot"`
}

// ArtifactPricing holds heuristic artifact storage pricing.
type ArtifactPricing struct {
	PerMiB float64 `yaml:"per_mib" mapstructure:"per_mib"`
}

// CrawlerConfig configures DOMCrawler (C5) defaults (spec.md §4.5).
type CrawlerConfig struct {
	MaxPages          int `yaml:"max_pages" mapstructure:"max_pages"`
	MaxWallTimeS      int `yaml:"max_wall_time_s" mapstructure:"max_wall_time_s"`
	PerPageNavTimeoutMS int `yaml:"per_page_nav_timeout_ms" mapstructure:"per_page_nav_timeout_ms"`
	PostNavSettleMS   int `yaml:"post_nav_settle_ms" mapstructure:"post_nav_settle_ms"`
	MaxDepth          int `yaml:"max_depth" mapstructure:"max_depth"`
	MaxPageWorkers    int `yaml:"max_page_workers" mapstructure:"max_page_workers"`
}

// VisionConfig configures VisionProcessor (C6) defaults (spec.md §4.6).
type VisionConfig struct {
	MaxPDFPages       int   `yaml:"max_pdf_pages" mapstructure:"max_pdf_pages"`
	MaxImageBytes     int64 `yaml:"max_image_bytes" mapstructure:"max_image_bytes"`
}

// SelectiveConfig configures SelectiveBrowsingExtractor (C7) defaults
// (spec.md §4.7).
type SelectiveConfig struct {
	Enabled         bool `yaml:"enabled" mapstructure:"enabled"`
	MaxWallTimeS    int  `yaml:"max_wall_time_s" mapstructure:"max_wall_time_s"`
	MaxPageLoads    int  `yaml:"max_page_loads" mapstructure:"max_page_loads"`
}

// PipelineConfig configures the phase gate thresholds and budgets that
// drive the PhaseOrchestrator state machine (spec.md §4.11).
type PipelineConfig struct {
	GateT1               float64 `yaml:"gate_t1" mapstructure:"gate_t1"`
	GateT2               float64 `yaml:"gate_t2" mapstructure:"gate_t2"`
	GateT3               float64 `yaml:"gate_t3" mapstructure:"gate_t3"`
	MaxWallTimeS         float64 `yaml:"max_wall_time_s" mapstructure:"max_wall_time_s"`
	MaxCostUSD           float64 `yaml:"max_cost_usd" mapstructure:"max_cost_usd"`
	ConsecutiveFailureCap int    `yaml:"consecutive_failure_cap" mapstructure:"consecutive_failure_cap"`
	SkipConfidenceThreshold float64 `yaml:"skip_confidence_threshold" mapstructure:"skip_confidence_threshold"`
	EnableStrategicAnalysis bool `yaml:"enable_strategic_analysis" mapstructure:"enable_strategic_analysis"`
}

// ServerConfig configures the serve command's HTTP listener, which hosts
// the health check, the extraction endpoint, and the artifact routes.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks required configuration fields based on run mode.
// Supported modes: "run", "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Pipeline.GateT1 < 0 || c.Pipeline.GateT1 > 1 {
		errs = append(errs, "pipeline.gate_t1 must be between 0.0 and 1.0")
	}
	if c.Pipeline.GateT2 < 0 || c.Pipeline.GateT2 > 1 {
		errs = append(errs, "pipeline.gate_t2 must be between 0.0 and 1.0")
	}
	if c.Pipeline.GateT3 < 0 || c.Pipeline.GateT3 > 1 {
		errs = append(errs, "pipeline.gate_t3 must be between 0.0 and 1.0")
	}
	if c.Pipeline.SkipConfidenceThreshold < 0 || c.Pipeline.SkipConfidenceThreshold > 1 {
		errs = append(errs, "pipeline.skip_confidence_threshold must be between 0.0 and 1.0")
	}
	if c.Crawler.MaxPageWorkers < 1 || c.Crawler.MaxPageWorkers > 3 {
		errs = append(errs, "crawler.max_page_workers must be between 1 and 3")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: validation failed: %s", strings.Join(errs, "; ")))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RESTAURANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.vision_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_batch_size", 100)
	v.SetDefault("anthropic.small_batch_threshold", 3)

	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("places.nearby_radius_m", 1500)
	v.SetDefault("places.nearby_max", 10)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_ms", 30000)
	v.SetDefault("browser.settle_ms", 2000)

	v.SetDefault("artifact.base_dir", "./artifacts")
	v.SetDefault("artifact.max_object_mib", 20)
	v.SetDefault("artifact.debug_serve_addr", "127.0.0.1:8081")

	v.SetDefault("crawler.max_pages", 15)
	v.SetDefault("crawler.max_wall_time_s", 240)
	v.SetDefault("crawler.per_page_nav_timeout_ms", 30000)
	v.SetDefault("crawler.post_nav_settle_ms", 2000)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_page_workers", 1)

	v.SetDefault("vision.max_pdf_pages", 5)
	v.SetDefault("vision.max_image_bytes", 4*1024*1024)

	v.SetDefault("selective.enabled", true)
	v.SetDefault("selective.max_wall_time_s", 120)
	v.SetDefault("selective.max_page_loads", 8)

	v.SetDefault("pipeline.gate_t1", 0.80)
	v.SetDefault("pipeline.gate_t2", 0.90)
	v.SetDefault("pipeline.gate_t3", 0.95)
	v.SetDefault("pipeline.max_wall_time_s", 600.0)
	v.SetDefault("pipeline.max_cost_usd", 2.0)
	v.SetDefault("pipeline.consecutive_failure_cap", 4)
	v.SetDefault("pipeline.skip_confidence_threshold", 0.85)
	v.SetDefault("pipeline.enable_strategic_analysis", true)

	v.SetDefault("pricing.places.per_lookup", 0.005)
	v.SetDefault("pricing.places.per_detail", 0.017)
	v.SetDefault("pricing.places.per_nearby", 0.032)
	v.SetDefault("pricing.browser.per_page_load", 0.001)
	v.SetDefault("pricing.browser.per_screenshot", 0.0005)
	v.SetDefault("pricing.artifact.per_mib", 0.00002)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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
