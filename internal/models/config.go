package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents the main configuration
type Config struct {
	HTTP             HTTPConfig      `mapstructure:"http"`
	Output           OutputConfig    `mapstructure:"output"`
	Filters          FiltersConfig   `mapstructure:"filters"`
	Reload           ReloadConfig    `mapstructure:"reload"`
	Storage          StorageConfig   `mapstructure:"storage"`
	Log              LogConfig       `mapstructure:"log"`
	AllowList        AllowListConfig `mapstructure:"allowlist"`
	FilteringEnabled bool            `mapstructure:"filtering_enabled"`
}

// HTTPConfig contains HTTP client settings
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Retries   int           `mapstructure:"retries" validate:"gte=0,lte=10"`
	UserAgent string        `mapstructure:"user_agent"`
}

// OutputConfig contains output settings
type OutputConfig struct {
	Dir              string `mapstructure:"dir" validate:"required"`
	RulesLimit       int    `mapstructure:"rules_limit" validate:"gte=1"`
	GenerateManifest bool   `mapstructure:"generate_manifest"`
}

// FiltersConfig controls where filters come from and how often they are refreshed
type FiltersConfig struct {
	Catalog         string        `mapstructure:"catalog"`
	MetadataURL     string        `mapstructure:"metadata_url" validate:"omitempty,url"`
	RulesURL        string        `mapstructure:"rules_url" validate:"omitempty,contains={id}"`
	LocalDir        string        `mapstructure:"local_dir"`
	UpdatePeriod    time.Duration `mapstructure:"update_period" validate:"gte=0"`
	FirstCheckDelay time.Duration `mapstructure:"first_check_delay" validate:"gte=0"`
	UseOptimized    bool          `mapstructure:"use_optimized"`
	UserRulesFile   string        `mapstructure:"user_rules_file"`
}

// ReloadConfig tunes the content blocker reload controller
type ReloadConfig struct {
	Cooldown      time.Duration `mapstructure:"cooldown" validate:"gte=0"`
	SafetyTimeout time.Duration `mapstructure:"safety_timeout" validate:"gt=0"`
}

// StorageConfig locates the local database
type StorageConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// LogConfig selects the log encoder and verbosity
type LogConfig struct {
	Env   string `mapstructure:"env" validate:"oneof=dev prod"`
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// AllowListConfig seeds the allow-list
type AllowListConfig struct {
	Mode    string   `mapstructure:"mode" validate:"oneof=default inverted"`
	Domains []string `mapstructure:"domains" validate:"dive,hostname_rfc1123"`
}

// Validate checks the configuration after it has been unmarshalled
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
