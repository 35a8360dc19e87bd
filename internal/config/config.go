package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Seed    SeedConfig    `mapstructure:"seed"`
}

type StorageConfig struct {
	Path  string      `mapstructure:"path"`
	Neo4j Neo4jConfig `mapstructure:"neo4j"`
}

type Neo4jConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ServerConfig struct {
	Listen     string `mapstructure:"listen"`
	APIToken   string `mapstructure:"api_token"`
	CORSOrigin string `mapstructure:"cors_origin"`
	PageSize   int    `mapstructure:"page_size"`
}

type NotifyConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook"`
	Stdout  StdoutConfig  `mapstructure:"stdout"`
}

type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type StdoutConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type EngineConfig struct {
	// RetryAttempts is the total try budget per guarded operation when
	// the store reports a transient failure.
	RetryAttempts int `mapstructure:"retry_attempts"`
}

type SeedConfig struct {
	File string `mapstructure:"file"`
}

// Load reads the configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".socialseed"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("socialseed")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SOCIALSEED")
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("storage.path", "./data/socialseed.db")
	viper.SetDefault("storage.neo4j.enabled", false)
	viper.SetDefault("storage.neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.page_size", 50)
	viper.SetDefault("notify.stdout.enabled", false)
	viper.SetDefault("engine.retry_attempts", 3)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
