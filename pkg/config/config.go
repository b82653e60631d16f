// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Search, Sphinx, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Postgres  PostgresConfig `yaml:"postgres"`
	Kafka     KafkaConfig    `yaml:"kafka"`
	Redis     RedisConfig    `yaml:"redis"`
	Indexer   IndexerConfig  `yaml:"indexer"`
	Settings  SettingsConfig `yaml:"settings"`
	Search    SearchConfig   `yaml:"search"`
	Sphinx    SphinxConfig   `yaml:"sphinx"`
	Gateway   GatewayConfig  `yaml:"gateway"`
	Ingestion ServiceConfig  `yaml:"ingestion"`
	Analytics ServiceConfig  `yaml:"analytics"`
	Logging   LoggingConfig  `yaml:"logging"`
	Metrics   MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables event publishing and consumption.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	MessageEvents   string `yaml:"messageEvents"`
	IndexComplete   string `yaml:"indexComplete"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// IndexerConfig controls the resumable index build: where entries live, how
// large a batch is and how long a single step may run.
type IndexerConfig struct {
	Store         string        `yaml:"store"`
	DataDir       string        `yaml:"dataDir"`
	WordSize      string        `yaml:"wordSize"`
	BatchSize     int           `yaml:"batchSize"`
	StepBudget    time.Duration `yaml:"stepBudget"`
	StopWordRatio float64       `yaml:"stopWordRatio"`
	StepInterval  time.Duration `yaml:"stepInterval"` // zero leaves builds to explicit steps
}

// SettingsConfig selects the key/value store holding resume cursors, the
// stop-word list and the active-index flag.
type SettingsConfig struct {
	Store string `yaml:"store"`
	Path  string `yaml:"path"`
}

// SearchConfig controls query parsing, backend selection and result limits.
type SearchConfig struct {
	Backend        string        `yaml:"backend"`
	Blacklist      []string      `yaml:"blacklist"`
	SimpleFulltext bool          `yaml:"simpleFulltext"`
	DefaultLimit   int           `yaml:"defaultLimit"`
	MaxResults     int           `yaml:"maxResults"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`
}

// SphinxConfig describes the external search daemon and the relevance
// weights shared by the query path and the generated daemon config.
type SphinxConfig struct {
	Addr           string             `yaml:"addr"`
	Index          string             `yaml:"index"`
	DataPath       string             `yaml:"dataPath"`
	LogPath        string             `yaml:"logPath"`
	PidFile        string             `yaml:"pidFile"`
	MemLimit       string             `yaml:"memLimit"`
	MaxMatches     int                `yaml:"maxMatches"`
	ConnectTimeout time.Duration      `yaml:"connectTimeout"`
	QueryTimeout   time.Duration      `yaml:"queryTimeout"`
	FieldWeights   SphinxFieldWeights `yaml:"fieldWeights"`
	Weights        RelevanceWeights   `yaml:"weights"`
}

// SphinxFieldWeights weights matches in the subject against matches in the body.
type SphinxFieldWeights struct {
	Subject int `yaml:"subject"`
	Body    int `yaml:"body"`
}

// RelevanceWeights are the raw configured weights of the relevance formula.
type RelevanceWeights struct {
	Age          int `yaml:"age"`
	Length       int `yaml:"length"`
	FirstMessage int `yaml:"firstMessage"`
	Sticky       int `yaml:"sticky"`
	Likes        int `yaml:"likes"`
}

// GatewayConfig holds the API gateway port, upstream service URLs and the
// per-key request budget.
type GatewayConfig struct {
	Port             int           `yaml:"port"`
	SearcherURL      string        `yaml:"searcherUrl"`
	IngestionURL     string        `yaml:"ingestionUrl"`
	AnalyticsURL     string        `yaml:"analyticsUrl"`
	RateWindow       time.Duration `yaml:"rateWindow"`
	DefaultRateLimit int           `yaml:"defaultRateLimit"`
	CORSOrigins      []string      `yaml:"corsOrigins"`
}

// ServiceConfig is the listen port of an auxiliary HTTP service.
type ServiceConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	for i, w := range cfg.Search.Blacklist {
		cfg.Search.Blacklist[i] = strings.ToLower(strings.TrimSpace(w))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects option values that no component can act on.
func (c *Config) Validate() error {
	switch c.Search.Backend {
	case "none", "native", "sphinx", "external":
	default:
		return fmt.Errorf("search.backend must be one of none|native|sphinx|external, got %q", c.Search.Backend)
	}
	switch c.Indexer.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("indexer.store must be postgres or memory, got %q", c.Indexer.Store)
	}
	switch c.Settings.Store {
	case "postgres", "buntdb":
	default:
		return fmt.Errorf("settings.store must be postgres or buntdb, got %q", c.Settings.Store)
	}
	switch c.Indexer.WordSize {
	case "small", "medium", "large":
	default:
		return fmt.Errorf("indexer.wordSize must be small|medium|large, got %q", c.Indexer.WordSize)
	}
	if c.Indexer.BatchSize <= 0 {
		return fmt.Errorf("indexer.batchSize must be positive, got %d", c.Indexer.BatchSize)
	}
	if c.Indexer.StopWordRatio <= 0 || c.Indexer.StopWordRatio > 1 {
		return fmt.Errorf("indexer.stopWordRatio must be in (0, 1], got %v", c.Indexer.StopWordRatio)
	}
	if c.Gateway.RateWindow <= 0 {
		return fmt.Errorf("gateway.rateWindow must be positive, got %v", c.Gateway.RateWindow)
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "forum",
			User:            "forum",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "forum-search-group",
			Topics: KafkaTopics{
				MessageEvents:   "forum.messages",
				IndexComplete:   "search.index.complete",
				AnalyticsEvents: "search.analytics",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Indexer: IndexerConfig{
			Store:         "postgres",
			DataDir:       "data/index",
			WordSize:      "medium",
			BatchSize:     250,
			StepBudget:    3 * time.Second,
			StopWordRatio: 0.60,
			StepInterval:  time.Second,
		},
		Gateway: GatewayConfig{
			Port:             8000,
			SearcherURL:      "http://localhost:8080",
			IngestionURL:     "http://localhost:8081",
			AnalyticsURL:     "http://localhost:8082",
			RateWindow:       time.Minute,
			DefaultRateLimit: 100,
			CORSOrigins:      []string{"*"},
		},
		Ingestion: ServiceConfig{Port: 8081},
		Analytics: ServiceConfig{Port: 8082},
		Settings: SettingsConfig{
			Store: "postgres",
			Path:  "data/settings.db",
		},
		Search: SearchConfig{
			Backend:      "native",
			Blacklist:    []string{"img", "url", "quote", "www", "http", "the", "is", "it", "are", "if"},
			DefaultLimit: 30,
			MaxResults:   200,
			CacheTTL:     5 * time.Minute,
		},
		Sphinx: SphinxConfig{
			Addr:           "localhost:9306",
			Index:          "forum_index",
			DataPath:       "/var/lib/sphinx/data",
			LogPath:        "/var/log/sphinx",
			PidFile:        "/var/run/sphinx/searchd.pid",
			MemLimit:       "128M",
			MaxMatches:     1000,
			ConnectTimeout: 2 * time.Second,
			QueryTimeout:   5 * time.Second,
			FieldWeights:   SphinxFieldWeights{Subject: 30, Body: 10},
			Weights: RelevanceWeights{
				Age:          25,
				Length:       25,
				FirstMessage: 25,
				Sticky:       15,
				Likes:        10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v, ok := os.LookupEnv("SP_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_INDEXER_STORE"); v != "" {
		cfg.Indexer.Store = v
	}
	if v := os.Getenv("SP_INDEXER_WORD_SIZE"); v != "" {
		cfg.Indexer.WordSize = v
	}
	if v := os.Getenv("SP_INDEXER_STEP_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Indexer.StepBudget = d
		}
	}
	if v := os.Getenv("SP_INDEXER_STEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Indexer.StepInterval = d
		}
	}
	if v := os.Getenv("SP_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("SP_GATEWAY_SEARCHER_URL"); v != "" {
		cfg.Gateway.SearcherURL = v
	}
	if v := os.Getenv("SP_GATEWAY_INGESTION_URL"); v != "" {
		cfg.Gateway.IngestionURL = v
	}
	if v := os.Getenv("SP_GATEWAY_ANALYTICS_URL"); v != "" {
		cfg.Gateway.AnalyticsURL = v
	}
	if v := os.Getenv("SP_SETTINGS_STORE"); v != "" {
		cfg.Settings.Store = v
	}
	if v := os.Getenv("SP_SEARCH_BACKEND"); v != "" {
		cfg.Search.Backend = v
	}
	if v := os.Getenv("SP_SEARCH_BLACKLIST"); v != "" {
		cfg.Search.Blacklist = splitList(v)
	}
	if v := os.Getenv("SP_SPHINX_ADDR"); v != "" {
		cfg.Sphinx.Addr = v
	}
	if v := os.Getenv("SP_SPHINX_INDEX"); v != "" {
		cfg.Sphinx.Index = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
