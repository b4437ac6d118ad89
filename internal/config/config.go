package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Import ImportConfig `yaml:"import" mapstructure:"import"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// FetchConfig configures remote attachment retrieval.
type FetchConfig struct {
	UserAgent    string             `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs  int                `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries   int                `yaml:"max_retries" mapstructure:"max_retries"`
	MaxBytes     int64              `yaml:"max_bytes" mapstructure:"max_bytes"`
	HostRates    map[string]float64 `yaml:"host_rates" mapstructure:"host_rates"`
	DefaultRate  float64            `yaml:"default_rate" mapstructure:"default_rate"`
	DefaultBurst int                `yaml:"default_burst" mapstructure:"default_burst"`
}

// ImportConfig configures batch import behavior.
type ImportConfig struct {
	DefaultAuthor    string   `yaml:"default_author" mapstructure:"default_author"`
	PrivilegedOwners []string `yaml:"privileged_owners" mapstructure:"privileged_owners"`
	SchemaFile       string   `yaml:"schema_file" mapstructure:"schema_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the fields a command mode requires are present and
// in range. Mode is "import", "export", or "runs".
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "import", "export", "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		missing = append(missing, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required")
	}

	if mode == "import" {
		if c.Fetch.TimeoutSecs <= 0 {
			missing = append(missing, "fetch.timeout_secs must be > 0")
		}
		if c.Fetch.MaxBytes <= 0 {
			missing = append(missing, "fetch.max_bytes must be > 0")
		}
		if c.Fetch.MaxRetries < 0 || c.Fetch.MaxRetries > 10 {
			missing = append(missing, "fetch.max_retries must be between 0 and 10")
		}
		if c.Fetch.DefaultRate <= 0 {
			missing = append(missing, "fetch.default_rate must be > 0")
		}
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONTENTPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "content-port.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("fetch.user_agent", "content-port/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.max_bytes", 32<<20)
	v.SetDefault("fetch.default_rate", 20)
	v.SetDefault("fetch.default_burst", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
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
