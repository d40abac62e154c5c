package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the process configuration. Runtime-tunable values live
// in the settings store instead (see Settings).
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	AI       AIConfig       `mapstructure:"ai"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Eviction EvictionConfig `mapstructure:"eviction"`
	Health   HealthConfig   `mapstructure:"health"`
	Sources  []SourceConfig `mapstructure:"sources"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	DSN    string `mapstructure:"dsn"`    // Connection string
}

// ServerConfig holds the HTTP API settings
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	APIKey  string `mapstructure:"api_key"` // Optional bearer key for mutating endpoints
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// CrawlerConfig holds fetch and pacing settings
type CrawlerConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BatchDelay     time.Duration `mapstructure:"batch_delay"`   // Pause between concurrent source batches
	ArticleDelay   time.Duration `mapstructure:"article_delay"` // Pause between articles of one source
	HostRPS        float64       `mapstructure:"host_rps"`
	HostBurst      int           `mapstructure:"host_burst"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	MaxBodyChars   int           `mapstructure:"max_body_chars"`
}

// ProviderConfig describes one AI backend
type ProviderConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Kind          string `mapstructure:"kind"` // anthropic or chat (OpenAI-compatible)
	Model         string `mapstructure:"model"`
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"` // Fallback when the settings store has no key
	Daily         int    `mapstructure:"daily"`
	Hourly        int    `mapstructure:"hourly"`
	Minute        int    `mapstructure:"minute"`
	Priority      int    `mapstructure:"priority"`
	TokensPerCall int    `mapstructure:"tokens_per_call"`
}

// AIConfig holds provider table and dispatch settings
type AIConfig struct {
	Providers      map[string]ProviderConfig `mapstructure:"providers"`
	MaxTokens      int                       `mapstructure:"max_tokens"`
	Temperature    float64                   `mapstructure:"temperature"`
	BodyTimeout    time.Duration             `mapstructure:"body_timeout"`
	TitleTimeout   time.Duration             `mapstructure:"title_timeout"`
	MaxRetries     int                       `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration             `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration             `mapstructure:"retry_max_delay"`
}

// ScheduleConfig holds the bounds used when computing polling cadence
type ScheduleConfig struct {
	SafetyMargin         float64       `mapstructure:"safety_margin"`
	CrawlMinMinutes      int           `mapstructure:"crawl_min_minutes"`
	CrawlMaxMinutes      int           `mapstructure:"crawl_max_minutes"`
	SEOMinMinutes        int           `mapstructure:"seo_min_minutes"`
	SEOMaxMinutes        int           `mapstructure:"seo_max_minutes"`
	LowQuotaThreshold    int           `mapstructure:"low_quota_threshold"`
	LowQuotaCrawlMinutes int           `mapstructure:"low_quota_crawl_minutes"`
	LowQuotaSEOMinutes   int           `mapstructure:"low_quota_seo_minutes"`
	FallbackDiscount     float64       `mapstructure:"fallback_discount"`
	CallsPerCrawl        int           `mapstructure:"calls_per_crawl"`
	ErrorRateThreshold   float64       `mapstructure:"error_rate_threshold"`
	ErrorRateMinCalls    int           `mapstructure:"error_rate_min_calls"`
	OptimizeEvery        time.Duration `mapstructure:"optimize_every"`
	SEOTimeout           time.Duration `mapstructure:"seo_timeout"`
	PublishBatch         int           `mapstructure:"publish_batch"`
	ManualPublishBatch   int           `mapstructure:"manual_publish_batch"`
}

// EvictionConfig holds the eviction score weights
type EvictionConfig struct {
	TrafficWeight        float64 `mapstructure:"traffic_weight"`
	FreshnessWeight      float64 `mapstructure:"freshness_weight"`
	QualityWeight        float64 `mapstructure:"quality_weight"`
	TrafficMultiplier    float64 `mapstructure:"traffic_multiplier"`
	TrafficCap           float64 `mapstructure:"traffic_cap"`
	FreshnessBase        float64 `mapstructure:"freshness_base"`
	QualityBonus         float64 `mapstructure:"quality_bonus"`
	QualityViewThreshold int     `mapstructure:"quality_view_threshold"`
}

// HealthConfig holds resilience settings
type HealthConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	ErrorWindow        time.Duration `mapstructure:"error_window"`
	ErrorQueueSize     int           `mapstructure:"error_queue_size"`
	MaxErrorsPerWindow int           `mapstructure:"max_errors_per_window"`
	StoreRetryAttempts int           `mapstructure:"store_retry_attempts"`
	StoreRetryDelay    time.Duration `mapstructure:"store_retry_delay"`
	StallAfter         time.Duration `mapstructure:"stall_after"`
}

// SourceConfig describes a crawl source written by "sources seed"
type SourceConfig struct {
	Name                 string `mapstructure:"name"`
	BaseURL              string `mapstructure:"base_url"`
	FeedURL              string `mapstructure:"feed_url"`
	MaxArticles          int    `mapstructure:"max_articles"`
	CrawlIntervalMinutes int    `mapstructure:"crawl_interval_minutes"`
	LinkSelector         string `mapstructure:"link_selector"`
	ContentSelector      string `mapstructure:"content_selector"`
}

// DefaultSources is seeded when the config file lists no sources
var DefaultSources = []SourceConfig{
	{Name: "Motor1", BaseURL: "https://www.motor1.com/news/", FeedURL: "https://www.motor1.com/rss/news/all/", MaxArticles: 5, CrawlIntervalMinutes: 60},
	{Name: "Autoblog", BaseURL: "https://www.autoblog.com/", FeedURL: "https://www.autoblog.com/rss.xml", MaxArticles: 5, CrawlIntervalMinutes: 60},
	{Name: "Car and Driver", BaseURL: "https://www.caranddriver.com/news/", FeedURL: "https://www.caranddriver.com/rss/all.xml/", MaxArticles: 5, CrawlIntervalMinutes: 120},
	{Name: "Electrek", BaseURL: "https://electrek.co/", FeedURL: "https://electrek.co/feed/", MaxArticles: 3, CrawlIntervalMinutes: 120},
	{Name: "The Drive", BaseURL: "https://www.thedrive.com/news", MaxArticles: 3, CrawlIntervalMinutes: 180, LinkSelector: "a[href*='/news/']"},
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".article-autopilot"))
		}
	}

	v.SetEnvPrefix("AUTOPILOT")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("database.driver", "AUTOPILOT_DATABASE_DRIVER")
	v.BindEnv("database.dsn", "AUTOPILOT_DATABASE_DSN")
	v.BindEnv("server.addr", "AUTOPILOT_SERVER_ADDR")
	v.BindEnv("server.api_key", "AUTOPILOT_SERVER_API_KEY")
	v.BindEnv("logging.level", "AUTOPILOT_LOGGING_LEVEL")
	v.BindEnv("logging.format", "AUTOPILOT_LOGGING_FORMAT")
	for _, name := range ProviderNames() {
		v.BindEnv("ai.providers."+name+".api_key", "AUTOPILOT_"+envName(name)+"_API_KEY")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// defaultProviders is the built-in provider table. Ceilings follow the
// providers' free tiers; priority is ascending preference.
var defaultProviders = map[string]ProviderConfig{
	"groq": {
		Enabled: true, Kind: "chat", Model: "llama-3.3-70b-versatile",
		BaseURL: "https://api.groq.com/openai/v1/",
		Daily:   1000, Hourly: 200, Minute: 30, Priority: 1, TokensPerCall: 1500,
	},
	"gemini": {
		Enabled: true, Kind: "chat", Model: "gemini-2.0-flash",
		BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/",
		Daily:   1500, Hourly: 300, Minute: 15, Priority: 2, TokensPerCall: 1500,
	},
	"openrouter": {
		Enabled: true, Kind: "chat", Model: "meta-llama/llama-3.3-70b-instruct:free",
		BaseURL: "https://openrouter.ai/api/v1/",
		Daily:   200, Hourly: 50, Minute: 20, Priority: 3, TokensPerCall: 1500,
	},
	"deepseek": {
		Enabled: true, Kind: "chat", Model: "deepseek-chat",
		BaseURL: "https://api.deepseek.com/",
		Daily:   500, Hourly: 100, Minute: 10, Priority: 4, TokensPerCall: 2000,
	},
	"openai": {
		Enabled: true, Kind: "chat", Model: "gpt-4o-mini",
		BaseURL: "https://api.openai.com/v1/",
		Daily:   200, Hourly: 60, Minute: 3, Priority: 5, TokensPerCall: 2000,
	},
	"anthropic": {
		Enabled: true, Kind: "anthropic", Model: "claude-sonnet-4-20250514",
		Daily:   100, Hourly: 30, Minute: 5, Priority: 6, TokensPerCall: 2500,
	},
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/autopilot.db")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("crawler.user_agent", "ArticleAutopilot/1.0 (+https://example.com/bot)")
	v.SetDefault("crawler.request_timeout", "20s")
	v.SetDefault("crawler.batch_delay", "2s")
	v.SetDefault("crawler.article_delay", "3s")
	v.SetDefault("crawler.host_rps", 1.0)
	v.SetDefault("crawler.host_burst", 2)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.max_body_chars", 12000)

	for name, p := range defaultProviders {
		prefix := "ai.providers." + name + "."
		v.SetDefault(prefix+"enabled", p.Enabled)
		v.SetDefault(prefix+"kind", p.Kind)
		v.SetDefault(prefix+"model", p.Model)
		v.SetDefault(prefix+"base_url", p.BaseURL)
		v.SetDefault(prefix+"daily", p.Daily)
		v.SetDefault(prefix+"hourly", p.Hourly)
		v.SetDefault(prefix+"minute", p.Minute)
		v.SetDefault(prefix+"priority", p.Priority)
		v.SetDefault(prefix+"tokens_per_call", p.TokensPerCall)
	}
	v.SetDefault("ai.max_tokens", 4096)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.body_timeout", "30s")
	v.SetDefault("ai.title_timeout", "15s")
	v.SetDefault("ai.max_retries", 3)
	v.SetDefault("ai.retry_base_delay", "1s")
	v.SetDefault("ai.retry_max_delay", "5s")

	v.SetDefault("schedule.safety_margin", 0.8)
	v.SetDefault("schedule.crawl_min_minutes", 30)
	v.SetDefault("schedule.crawl_max_minutes", 720)
	v.SetDefault("schedule.seo_min_minutes", 60)
	v.SetDefault("schedule.seo_max_minutes", 1440)
	v.SetDefault("schedule.low_quota_threshold", 50)
	v.SetDefault("schedule.low_quota_crawl_minutes", 180)
	v.SetDefault("schedule.low_quota_seo_minutes", 360)
	v.SetDefault("schedule.fallback_discount", 0.3)
	v.SetDefault("schedule.calls_per_crawl", 20)
	v.SetDefault("schedule.error_rate_threshold", 0.3)
	v.SetDefault("schedule.error_rate_min_calls", 5)
	v.SetDefault("schedule.optimize_every", "30m")
	v.SetDefault("schedule.seo_timeout", "120s")
	v.SetDefault("schedule.publish_batch", 3)
	v.SetDefault("schedule.manual_publish_batch", 5)

	v.SetDefault("eviction.traffic_weight", 0.6)
	v.SetDefault("eviction.freshness_weight", 0.3)
	v.SetDefault("eviction.quality_weight", 0.1)
	v.SetDefault("eviction.traffic_multiplier", 2.0)
	v.SetDefault("eviction.traffic_cap", 100.0)
	v.SetDefault("eviction.freshness_base", 50.0)
	v.SetDefault("eviction.quality_bonus", 20.0)
	v.SetDefault("eviction.quality_view_threshold", 10)

	v.SetDefault("health.interval", "5m")
	v.SetDefault("health.error_window", "15m")
	v.SetDefault("health.error_queue_size", 200)
	v.SetDefault("health.max_errors_per_window", 25)
	v.SetDefault("health.store_retry_attempts", 3)
	v.SetDefault("health.store_retry_delay", "2s")
	v.SetDefault("health.stall_after", "5m")
}

// ProviderNames lists the built-in provider names
func ProviderNames() []string {
	return []string{"groq", "gemini", "openrouter", "deepseek", "openai", "anthropic"}
}

func envName(provider string) string {
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Schedule.CrawlMinMinutes <= 0 || c.Schedule.CrawlMaxMinutes < c.Schedule.CrawlMinMinutes {
		return fmt.Errorf("schedule crawl bounds are invalid: [%d, %d]", c.Schedule.CrawlMinMinutes, c.Schedule.CrawlMaxMinutes)
	}
	if c.Schedule.SEOMinMinutes <= 0 || c.Schedule.SEOMaxMinutes < c.Schedule.SEOMinMinutes {
		return fmt.Errorf("schedule seo bounds are invalid: [%d, %d]", c.Schedule.SEOMinMinutes, c.Schedule.SEOMaxMinutes)
	}
	if c.Schedule.SafetyMargin <= 0 || c.Schedule.SafetyMargin > 1 {
		return fmt.Errorf("schedule.safety_margin must be in (0, 1], got %v", c.Schedule.SafetyMargin)
	}
	return nil
}
