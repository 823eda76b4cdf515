package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"ewintr.nl/vidfeed/storage"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Server      Server      `yaml:"server"`
	Database    Database    `yaml:"database"`
	Aggregation Aggregation `yaml:"aggregation"`
	Providers   Providers   `yaml:"providers"`
	Auth        Auth        `yaml:"auth"`
}

type Server struct {
	Port         int  `yaml:"port"`
	RequireAdmin bool `yaml:"require_admin"`
}

type Database struct {
	Driver     string   `yaml:"driver"`
	URL        string   `yaml:"url"`
	SQLitePath string   `yaml:"sqlite_path"`
	Postgres   Postgres `yaml:"postgres"`
}

type Postgres struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type Aggregation struct {
	DailyCeiling  int      `yaml:"daily_ceiling"`
	MaxRounds     int      `yaml:"max_rounds"`
	MinCandidates int      `yaml:"min_candidates"`
	Keywords      []string `yaml:"keywords"`
	Tags          []string `yaml:"tags"`
	// Interval between scheduled runs while serving, zero disables them.
	Interval time.Duration `yaml:"interval"`
}

type Providers struct {
	Timeout          time.Duration `yaml:"timeout"`
	RatePerSecond    float64       `yaml:"rate_per_second"`
	KeywordsPerQuery int           `yaml:"keywords_per_query"`
	Youtube          Youtube       `yaml:"youtube"`
	Vimeo            Vimeo         `yaml:"vimeo"`
	Dailymotion      Dailymotion   `yaml:"dailymotion"`
	Facebook         Facebook      `yaml:"facebook"`
}

type Youtube struct {
	APIKey string `yaml:"api_key"`
}

type Vimeo struct {
	AccessToken string `yaml:"access_token"`
}

type Dailymotion struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type Facebook struct {
	AccessToken string `yaml:"access_token"`
}

type Auth struct {
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`
	// StaticTokens maps bearer tokens to user ids. Only used when no
	// Supabase url is configured.
	StaticTokens map[string]string `yaml:"static_tokens"`
}

// Load reads a config file. An empty path gives the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return parse(DefaultConfigYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Server: Server{Port: 8080},
		Database: Database{
			Driver:     "sqlite",
			SQLitePath: "data/vidfeed.db",
			Postgres: Postgres{
				Host:     "localhost",
				Port:     "5432",
				User:     "vidfeed",
				Password: "vidfeed",
				Database: "vidfeed",
			},
		},
		Aggregation: Aggregation{
			DailyCeiling:  5,
			MaxRounds:     3,
			MinCandidates: 20,
			Keywords: []string{
				"firearm instruction",
				"gun safety",
				"marksmanship training",
				"tactical shooting",
				"firearms education",
			},
			Tags: []string{"firearm", "training", "education"},
		},
		Providers: Providers{
			Timeout:          8 * time.Second,
			RatePerSecond:    2,
			KeywordsPerQuery: 3,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch {
	case c.Aggregation.DailyCeiling < 0:
		return fmt.Errorf("daily_ceiling must not be negative")
	case c.Aggregation.MaxRounds < 1:
		return fmt.Errorf("max_rounds must be at least 1")
	case len(c.Aggregation.Keywords) == 0:
		return fmt.Errorf("no keywords configured")
	case c.Aggregation.Interval < 0:
		return fmt.Errorf("interval must not be negative")
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}

	return nil
}

// ApplyEnv overrides values with those found by lookup, usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for env, dst := range map[string]*string{
		"YOUTUBE_API_KEY":           &c.Providers.Youtube.APIKey,
		"VIMEO_ACCESS_TOKEN":        &c.Providers.Vimeo.AccessToken,
		"DAILYMOTION_CLIENT_ID":     &c.Providers.Dailymotion.ClientID,
		"DAILYMOTION_CLIENT_SECRET": &c.Providers.Dailymotion.ClientSecret,
		"FACEBOOK_ACCESS_TOKEN":     &c.Providers.Facebook.AccessToken,
		"SUPABASE_URL":              &c.Auth.SupabaseURL,
		"SUPABASE_SERVICE_ROLE_KEY": &c.Auth.SupabaseKey,
		"DATABASE_DRIVER":           &c.Database.Driver,
		"DATABASE_URL":              &c.Database.URL,
		"SQLITE_PATH":               &c.Database.SQLitePath,
		"POSTGRES_HOST":             &c.Database.Postgres.Host,
		"POSTGRES_PORT":             &c.Database.Postgres.Port,
		"POSTGRES_USER":             &c.Database.Postgres.User,
		"POSTGRES_PASSWORD":         &c.Database.Postgres.Password,
		"POSTGRES_DB":               &c.Database.Postgres.Database,
	} {
		if val, ok := lookup(env); ok {
			*dst = val
		}
	}
	if _, ok := lookup("DATABASE_DRIVER"); !ok && c.Database.URL != "" {
		c.Database.Driver = "postgres"
	}

	if val, ok := lookup("API_PORT"); ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid API_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if val, ok := lookup("FETCH_INTERVAL"); ok {
		interval, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid FETCH_INTERVAL: %w", err)
		}
		c.Aggregation.Interval = interval
	}
	if val, ok := lookup("DAILY_VIDEO_LIMIT"); ok {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid DAILY_VIDEO_LIMIT: %w", err)
		}
		c.Aggregation.DailyCeiling = limit
	}

	return c.Validate()
}

func (d Database) PostgresInfo() storage.PostgresInfo {
	return storage.PostgresInfo{
		Host:     d.Postgres.Host,
		Port:     d.Postgres.Port,
		User:     d.Postgres.User,
		Password: d.Postgres.Password,
		Database: d.Postgres.Database,
	}
}

// PostgresDSN prefers the explicit url.
func (d Database) PostgresDSN() string {
	if d.URL != "" {
		return d.URL
	}
	return d.PostgresInfo().DSN()
}
