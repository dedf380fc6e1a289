package config

import (
    "fmt"
    "strings"
    "time"

    "github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
    Server    ServerConfig    `mapstructure:"server"`
    DataDir   string          `mapstructure:"data_dir"`
    Cache     CacheConfig     `mapstructure:"cache"`
    Providers ProvidersConfig `mapstructure:"providers"`
    Fillers   FillersConfig   `mapstructure:"fillers"`
    Evictor   EvictorConfig   `mapstructure:"evictor"`
}

// ServerConfig holds HTTP listener and logging configuration.
type ServerConfig struct {
    ListenAddress   string        `mapstructure:"listen_address"`
    Port            int           `mapstructure:"port"`
    LogLevel        string        `mapstructure:"log_level"`
    LogFormat       string        `mapstructure:"log_format"`
    ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CacheConfig holds the three-tier cache's tunables.
type CacheConfig struct {
    MaxEntries    int             `mapstructure:"max_entries"`
    MinAgeDays    int             `mapstructure:"min_age_days"`
    VarietyDepth  int             `mapstructure:"variety_depth"`
    MaxTextLength int             `mapstructure:"max_text_length"`
    Enabled       bool            `mapstructure:"enabled"`
    Fuzzy         FuzzyConfig     `mapstructure:"fuzzy"`
    Normalize     NormalizeConfig `mapstructure:"normalize"`
}

// FuzzyConfig controls the C4 Fuzzy Matcher.
type FuzzyConfig struct {
    Enabled   bool   `mapstructure:"enabled"`
    Threshold int    `mapstructure:"threshold"`
    Scorer    string `mapstructure:"scorer"`
}

// NormalizeConfig toggles each C1 Normalizer stage independently.
type NormalizeConfig struct {
    StripMinimax       bool `mapstructure:"strip_minimax"`
    Lowercase          bool `mapstructure:"lowercase"`
    StripPunctuation   bool `mapstructure:"strip_punctuation"`
    CollapseWhitespace bool `mapstructure:"collapse_whitespace"`
    ReplaceNumbers     bool `mapstructure:"replace_numbers"`
}

// DefaultNormalizeConfig is the named constant of all-stages-enabled, per spec §4.1.
var DefaultNormalizeConfig = NormalizeConfig{
    StripMinimax:       true,
    Lowercase:          true,
    StripPunctuation:   true,
    CollapseWhitespace: true,
    ReplaceNumbers:     true,
}

// ProvidersConfig holds the ordered fallback chain and per-provider settings.
type ProvidersConfig struct {
    FallbackChain []string                  `mapstructure:"fallback_chain"`
    Configs       map[string]ProviderConfig `mapstructure:"configs"`
}

// ProviderConfig holds one upstream TTS provider's credentials and defaults.
type ProviderConfig struct {
    APIKey        string `mapstructure:"api_key"`
    DefaultVoice  string `mapstructure:"default_voice"`
    DefaultModel  string `mapstructure:"default_model"`
    TimeoutSeconds int   `mapstructure:"timeout_s"`
}

// FillersConfig controls the filler-phrase pre-generator collaborator.
type FillersConfig struct {
    AutoGenerateOnStartup bool   `mapstructure:"auto_generate_on_startup"`
    VoiceID               string `mapstructure:"voice_id"`
}

// EvictorConfig controls the background evictor's timer.
type EvictorConfig struct {
    Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from configFile (or the default search path),
// environment variables prefixed CACHEVOICE_, and built-in defaults.
// Environment variables override the config file, which overrides the
// defaults.
func Load(configFile string) (*Config, error) {
    if configFile != "" {
        viper.SetConfigFile(configFile)
    } else {
        viper.SetConfigName("config")
        viper.SetConfigType("yaml")
        viper.AddConfigPath("./configs")
        viper.AddConfigPath("/etc/cachevoice")
        viper.AddConfigPath(".")
    }

    viper.SetEnvPrefix("CACHEVOICE")
    viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    viper.AutomaticEnv()

    setDefaults()

    if err := viper.ReadInConfig(); err != nil {
        if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
            return nil, fmt.Errorf("failed to read config file: %w", err)
        }
        // Config file not found; use defaults and environment.
    }

    var config Config
    if err := viper.Unmarshal(&config); err != nil {
        return nil, fmt.Errorf("failed to unmarshal config: %w", err)
    }

    if err := config.Validate(); err != nil {
        return nil, fmt.Errorf("invalid configuration: %w", err)
    }

    return &config, nil
}

// setDefaults sets default configuration values, mirroring spec §6's
// recognized options.
func setDefaults() {
    viper.SetDefault("server.listen_address", "0.0.0.0")
    viper.SetDefault("server.port", 8080)
    viper.SetDefault("server.log_level", "info")
    viper.SetDefault("server.log_format", "json")
    viper.SetDefault("server.shutdown_timeout", "15s")

    viper.SetDefault("data_dir", "./data")

    viper.SetDefault("cache.max_entries", 100000)
    viper.SetDefault("cache.min_age_days", 90)
    viper.SetDefault("cache.variety_depth", 1)
    viper.SetDefault("cache.max_text_length", 4096)
    viper.SetDefault("cache.enabled", true)

    viper.SetDefault("cache.fuzzy.enabled", false)
    viper.SetDefault("cache.fuzzy.threshold", 90)
    viper.SetDefault("cache.fuzzy.scorer", "ratio")

    viper.SetDefault("cache.normalize.strip_minimax", true)
    viper.SetDefault("cache.normalize.lowercase", true)
    viper.SetDefault("cache.normalize.strip_punctuation", true)
    viper.SetDefault("cache.normalize.collapse_whitespace", true)
    viper.SetDefault("cache.normalize.replace_numbers", true)

    viper.SetDefault("providers.fallback_chain", []string{})

    viper.SetDefault("fillers.auto_generate_on_startup", false)
    viper.SetDefault("fillers.voice_id", "")

    viper.SetDefault("evictor.interval", "1h")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
    if c.Server.Port <= 0 || c.Server.Port > 65535 {
        return fmt.Errorf("invalid server port: %d", c.Server.Port)
    }
    if c.DataDir == "" {
        return fmt.Errorf("data_dir is required")
    }

    if c.Cache.VarietyDepth < 1 {
        return fmt.Errorf("cache.variety_depth must be >= 1")
    }
    if c.Cache.MaxTextLength <= 0 {
        return fmt.Errorf("cache.max_text_length must be positive")
    }
    if c.Cache.MaxEntries <= 0 {
        return fmt.Errorf("cache.max_entries must be positive")
    }

    if c.Cache.Fuzzy.Enabled {
        if c.Cache.Fuzzy.Threshold < 0 || c.Cache.Fuzzy.Threshold > 100 {
            return fmt.Errorf("cache.fuzzy.threshold must be within 0..100")
        }
        if strings.TrimSpace(c.Cache.Fuzzy.Scorer) == "" {
            return fmt.Errorf("cache.fuzzy.scorer is required when fuzzy matching is enabled")
        }
    }

    for _, name := range c.Providers.FallbackChain {
        if strings.TrimSpace(name) != name || name == "" {
            return fmt.Errorf("providers.fallback_chain contains an invalid provider name: %q", name)
        }
    }

    if c.Evictor.Interval <= 0 {
        return fmt.Errorf("evictor.interval must be positive")
    }

    return nil
}

// Addr returns the HTTP listen address in host:port form.
func (c *ServerConfig) Addr() string {
    return fmt.Sprintf("%s:%d", c.ListenAddress, c.Port)
}

// HasCredentials reports whether a provider's API key is present. Empty,
// whitespace-only, and unresolved placeholder ("${...}") values count as
// absent so an unconfigured provider in the fallback chain is skipped
// cleanly rather than attempted and failing.
func (p ProviderConfig) HasCredentials() bool {
    key := strings.TrimSpace(p.APIKey)
    if key == "" {
        return false
    }
    if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
        return false
    }
    return true
}
