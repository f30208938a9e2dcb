package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/internal/store"
	"github.com/elonfeng/cryptosent/pkg/sentiment"
	"github.com/elonfeng/cryptosent/pkg/source"
)

// Config is the root configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Sentiment SentimentConfig `yaml:"sentiment"`
	Sources   SourcesConfig   `yaml:"sources"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Batch     BatchConfig     `yaml:"batch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Filter    FilterConfig    `yaml:"filter"`
	Log       LogConfig       `yaml:"log"`
}

// StorageConfig configures the three storage tiers.
type StorageConfig struct {
	ForceLocal  bool           `yaml:"force_local"`
	SQLitePath  string         `yaml:"sqlite_path"`
	JournalPath string         `yaml:"journal_path"`
	Postgres    PostgresConfig `yaml:"postgres"`
	REST        RESTConfig     `yaml:"rest"`
}

// PostgresConfig configures the relational tier.
type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	URL      string `yaml:"url"`
	Table    string `yaml:"table"`
}

// RESTConfig configures the PostgREST facade tier.
type RESTConfig struct {
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	Table   string `yaml:"table"`
	Timeout string `yaml:"timeout"`
}

// SentimentConfig configures the inference endpoint and the model keys it serves.
type SentimentConfig struct {
	BaseURL  string            `yaml:"base_url"`
	APIToken string            `yaml:"api_token"`
	Timeout  string            `yaml:"timeout"`
	Models   map[string]string `yaml:"models"`
}

// SourcesConfig holds configuration for all sources.
type SourcesConfig struct {
	Reddit     RedditConfig     `yaml:"reddit"`
	StockTwits StockTwitsConfig `yaml:"stocktwits"`
	Bluesky    BlueskyConfig    `yaml:"bluesky"`
	Feeds      []FeedConfig     `yaml:"feeds"`
}

// RedditConfig for the Reddit adapter.
type RedditConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Subreddits   []string `yaml:"subreddits"`
	Limit        int      `yaml:"limit"`
}

// StockTwitsConfig for the StockTwits adapter.
type StockTwitsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Symbols []string `yaml:"symbols"`
	Limit   int      `yaml:"limit"`
}

// BlueskyConfig for the Bluesky adapter.
type BlueskyConfig struct {
	Enabled bool     `yaml:"enabled"`
	BaseURL string   `yaml:"base_url"`
	Queries []string `yaml:"queries"`
	Limit   int      `yaml:"limit"`
}

// FeedConfig is one RSS/Atom endpoint and the queries substituted into it.
type FeedConfig struct {
	source.FeedOptions `yaml:",inline"`

	Enabled bool     `yaml:"enabled"`
	Queries []string `yaml:"queries"`
	Limit   int      `yaml:"limit"`
}

// ScheduleConfig configures the daemon loop.
type ScheduleConfig struct {
	CollectInterval string `yaml:"collect_interval"`
	// CollectCron takes precedence over CollectInterval when set.
	CollectCron         string `yaml:"collect_cron"`
	AnalyzeAfterCollect bool   `yaml:"analyze_after_collect"`
}

// ParseCollectInterval returns the collect interval as time.Duration.
func (s ScheduleConfig) ParseCollectInterval() time.Duration {
	return parseDuration(s.CollectInterval, 30*time.Minute)
}

// BatchConfig configures batch scoring defaults.
type BatchConfig struct {
	ChunkSize int    `yaml:"chunk_size"`
	Model     string `yaml:"model"`
}

// MetricsConfig configures the daemon HTTP listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// FilterConfig configures the crypto keyword filter used by feeds.
type FilterConfig struct {
	ExtraKeywords   []string `yaml:"extra_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			SQLitePath: "data/posts.db",
			Postgres:   PostgresConfig{Port: "5432", User: "postgres", DBName: "postgres", SSLMode: "require", Table: "posts2"},
			REST:       RESTConfig{Table: "posts2", Timeout: "30s"},
		},
		Sentiment: SentimentConfig{
			BaseURL: "https://api-inference.huggingface.co",
			Timeout: "60s",
			Models: map[string]string{
				sentiment.ModelFinBERT:    sentiment.DefaultModels[sentiment.ModelFinBERT],
				sentiment.ModelCryptoBERT: sentiment.DefaultModels[sentiment.ModelCryptoBERT],
			},
		},
		Sources: SourcesConfig{
			Reddit: RedditConfig{
				Enabled:    true,
				Subreddits: []string{"cryptocurrency", "bitcoin", "ethereum"},
				Limit:      500,
			},
			StockTwits: StockTwitsConfig{
				Enabled: true,
				Symbols: []string{"BTC.X", "ETH.X"},
				Limit:   500,
			},
			Bluesky: BlueskyConfig{
				Enabled: true,
				Queries: []string{"bitcoin", "ethereum", "crypto"},
				Limit:   200,
			},
			Feeds: []FeedConfig{
				{
					FeedOptions: source.FeedOptions{
						Name:      "telegram",
						URL:       "https://rsshub.app/telegram/channel/{query}",
						Fallbacks: []string{"https://tg.i-c-a.su/rss/{query}"},
						Source:    source.SourceTelegram,
						Method:    "rss",
					},
					Enabled: true,
					Queries: []string{"whale_alert_io", "cointelegraph", "bitcoinmagazine"},
					Limit:   200,
				},
				{
					FeedOptions: source.FeedOptions{
						Name:   "nitter",
						URL:    "https://nitter.net/{query}/rss",
						Source: source.SourceTwitter,
						Method: "nitter",
						Filter: true,
					},
					Queries: []string{"saylor", "VitalikButerin", "APompliano"},
					Limit:   100,
				},
			},
		},
		Schedule: ScheduleConfig{CollectInterval: "30m", AnalyzeAfterCollect: true},
		Batch:    BatchConfig{ChunkSize: 500, Model: sentiment.ModelFinBERT},
		Metrics:  MetricsConfig{Addr: ":9090"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads .env files, then the YAML file at path (optional), then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// loadEnvFiles loads ENV_FILE when set, otherwise .env.local and .env.
// Variables already present in the environment win.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	st := &cfg.Storage
	if v, ok := envBool("FORCE_SQLITE"); ok {
		st.ForceLocal = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		st.SQLitePath = v
	}
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		st.JournalPath = v
	}

	pg := &st.Postgres
	if v := firstEnv("DATABASE_URL", "POSTGRES_URL"); v != "" {
		pg.URL = v
		pg.Enabled = true
	}
	if v := firstEnv("DB_HOST", "POSTGRES_HOST"); v != "" {
		pg.Host = v
		pg.Enabled = true
	}
	if v := firstEnv("DB_PORT", "POSTGRES_PORT"); v != "" {
		pg.Port = v
	}
	if v := firstEnv("DB_USER", "POSTGRES_USER"); v != "" {
		pg.User = v
	}
	if v := firstEnv("DB_PASSWORD", "POSTGRES_PASSWORD"); v != "" {
		pg.Password = v
	}
	if v := firstEnv("DB_NAME", "POSTGRES_DB"); v != "" {
		pg.DBName = v
	}
	if v := firstEnv("DB_SSLMODE", "PGSSLMODE"); v != "" {
		pg.SSLMode = v
	}
	if v := os.Getenv("POSTS_TABLE"); v != "" {
		pg.Table = v
		st.REST.Table = v
	}

	if v := os.Getenv("SUPABASE_URL"); v != "" {
		st.REST.URL = v
	}
	if v := firstEnv("SUPABASE_KEY", "SUPABASE_ANON_KEY", "SUPABASE_SERVICE_ROLE_KEY"); v != "" {
		st.REST.APIKey = v
	}

	if v := firstEnv("HF_API_TOKEN", "HUGGINGFACE_TOKEN"); v != "" {
		cfg.Sentiment.APIToken = v
	}
	if v := os.Getenv("HF_BASE_URL"); v != "" {
		cfg.Sentiment.BaseURL = v
	}

	if v := os.Getenv("REDDIT_CLIENT_ID"); v != "" {
		cfg.Sources.Reddit.ClientID = v
	}
	if v := os.Getenv("REDDIT_CLIENT_SECRET"); v != "" {
		cfg.Sources.Reddit.ClientSecret = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

// StoreConfig converts the storage section for the backend selector.
func (c *Config) StoreConfig() store.Config {
	s := c.Storage
	return store.Config{
		ForceLocal:  s.ForceLocal,
		SQLitePath:  s.SQLitePath,
		JournalPath: s.JournalPath,
		Postgres: store.PostgresConfig{
			Enabled:  s.Postgres.Enabled,
			Host:     s.Postgres.Host,
			Port:     s.Postgres.Port,
			User:     s.Postgres.User,
			Password: s.Postgres.Password,
			DBName:   s.Postgres.DBName,
			SSLMode:  s.Postgres.SSLMode,
			URL:      s.Postgres.URL,
			Table:    s.Postgres.Table,
		},
		REST: store.RESTConfig{
			URL:     s.REST.URL,
			APIKey:  s.REST.APIKey,
			Table:   s.REST.Table,
			Timeout: parseDuration(s.REST.Timeout, 30*time.Second),
		},
	}
}

// HuggingFaceConfig converts the sentiment section for the scorer factory.
func (c *Config) HuggingFaceConfig() sentiment.HuggingFaceConfig {
	return sentiment.HuggingFaceConfig{
		BaseURL:  c.Sentiment.BaseURL,
		APIToken: c.Sentiment.APIToken,
		Timeout:  parseDuration(c.Sentiment.Timeout, 60*time.Second),
		Models:   c.Sentiment.Models,
	}
}

// LoggerConfig converts the log section.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Level: c.Log.Level, Development: c.Log.Development}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string) (bool, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
