// Package config loads the run configuration from file, environment, and
// flags via viper, and applies the engine defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FailurePolicy decides what happens to fragments whose batch failed
// fatally after retries.
type FailurePolicy string

const (
	// KeepSource leaves failed fragments as source-language text.
	KeepSource FailurePolicy = "keep-source"
	// Mark wraps failed fragments in an explicit untranslated marker.
	Mark FailurePolicy = "mark"
	// Abort fails the whole run when any batch fails fatally.
	Abort FailurePolicy = "abort"
)

// Run holds every knob of a translation run.
type Run struct {
	SourceLang string `mapstructure:"source_lang"`
	TargetLang string `mapstructure:"target_lang"`

	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`

	BatchCharBudget    int           `mapstructure:"batch_char_budget"`
	TokenBudget        int           `mapstructure:"token_budget"`
	ConcurrentRequests int           `mapstructure:"concurrent_requests"`
	RateLimitPerWindow int           `mapstructure:"rate_limit_per_window"`
	RateLimitWindow    time.Duration `mapstructure:"rate_limit_window"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BackoffBaseDelay   time.Duration `mapstructure:"backoff_base_delay"`
	BackoffMaxDelay    time.Duration `mapstructure:"backoff_max_delay"`

	BreakerFailures     int           `mapstructure:"breaker_failures"`
	BreakerResetTimeout time.Duration `mapstructure:"breaker_reset_timeout"`

	AutoTermsEnabled     bool     `mapstructure:"auto_terms_enabled"`
	MinTermFrequency     int      `mapstructure:"min_term_frequency"`
	MaxTermLength        int      `mapstructure:"max_term_length"`
	CaseInsensitiveTerms bool     `mapstructure:"case_insensitive_terms"`
	Stopwords            []string `mapstructure:"stopwords"`
	DomainHint           string   `mapstructure:"domain_hint"`
	TermsFile            string   `mapstructure:"terms_file"`
	MaxSampleChars       int      `mapstructure:"max_sample_chars"`

	CacheEnabled bool   `mapstructure:"cache_enabled"`
	CachePath    string `mapstructure:"cache_path"`

	OnFailure FailurePolicy `mapstructure:"on_failure"`

	// ValidateOutput runs language detection over restored fragments and
	// reports the ones that came back in the wrong language.
	ValidateOutput bool `mapstructure:"validate_output"`
}

// SetDefaults registers the engine defaults on a viper instance. The
// numeric defaults follow the provider limits the engine was tuned for.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source_lang", "en")
	v.SetDefault("target_lang", "zh-CN")
	v.SetDefault("base_url", "")
	v.SetDefault("model", "deepseek-chat")
	v.SetDefault("timeout", 30*time.Second)

	v.SetDefault("batch_char_budget", 4000)
	v.SetDefault("token_budget", 2000)
	v.SetDefault("concurrent_requests", 3)
	v.SetDefault("rate_limit_per_window", 10)
	v.SetDefault("rate_limit_window", time.Minute)
	v.SetDefault("max_retries", 3)
	v.SetDefault("backoff_base_delay", time.Second)
	v.SetDefault("backoff_max_delay", 30*time.Second)
	v.SetDefault("breaker_failures", 5)
	v.SetDefault("breaker_reset_timeout", 30*time.Second)

	v.SetDefault("auto_terms_enabled", true)
	v.SetDefault("min_term_frequency", 3)
	v.SetDefault("max_term_length", 5)
	v.SetDefault("case_insensitive_terms", false)
	v.SetDefault("max_sample_chars", 8000)

	v.SetDefault("cache_enabled", true)
	v.SetDefault("cache_path", ".translation_cache/translations.db")

	v.SetDefault("on_failure", string(KeepSource))
	v.SetDefault("validate_output", true)
}

// Load reads the optional config file, applies environment overrides
// (EPUBTRANSLATER_*), and unmarshals into a Run.
func Load(v *viper.Viper, configFile string) (*Run, error) {
	SetDefaults(v)

	v.SetEnvPrefix("EPUBTRANSLATER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(".epub-translater")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Run
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot honor.
func (c *Run) Validate() error {
	if c.SourceLang == "" || c.TargetLang == "" {
		return fmt.Errorf("source_lang and target_lang are required")
	}
	if c.SourceLang == c.TargetLang {
		return fmt.Errorf("source and target language must differ")
	}
	if c.ConcurrentRequests < 1 {
		return fmt.Errorf("concurrent_requests must be at least 1")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.BackoffBaseDelay <= 0 {
		return fmt.Errorf("backoff_base_delay must be positive")
	}
	if c.BreakerFailures < 1 {
		return fmt.Errorf("breaker_failures must be at least 1")
	}
	switch c.OnFailure {
	case KeepSource, Mark, Abort:
	default:
		return fmt.Errorf("on_failure must be one of keep-source, mark, abort (got %q)", c.OnFailure)
	}
	return nil
}
