// Package config loads gobmc configuration from defaults, an optional YAML
// file, GOBMC_* environment variables and runtime overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppName names the config directory, data directory and env prefix.
const AppName = "gobmc"

// EnvPrefix is prepended to every mapped environment variable.
const EnvPrefix = "GOBMC"

// Config is the resolved configuration of one invocation.
type Config struct {
	Controller ControllerConfig `mapstructure:"controller"`
	Poll       PollConfig       `mapstructure:"poll"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Jobs       JobsConfig       `mapstructure:"jobs"`

	// ConfigFile is the file that was read, empty when none was found.
	ConfigFile string `mapstructure:"-"`
}

// ControllerConfig addresses the iDRAC or OME appliance.
type ControllerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	ValidateCerts bool          `mapstructure:"validate_certs"`
	CAPath        string        `mapstructure:"ca_path"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"`
}

// PollConfig tunes job polling.
type PollConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	Timeout            time.Duration `mapstructure:"timeout"`
	UnresponsiveWindow time.Duration `mapstructure:"unresponsive_window"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// JobsConfig locates the local job registry.
type JobsConfig struct {
	Dir string `mapstructure:"dir"`
}

// EnvSpec maps one environment variable onto a config key.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Load resolves configuration with precedence runtime overrides > env >
// config file > defaults. A missing config file is not an error; an explicit
// path set with GOBMC_CONFIG or the "config" override must exist.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	flat := map[string]any{}
	for _, o := range overrides {
		flatten("", o, flat)
	}

	explicit := os.Getenv(EnvPrefix + "_CONFIG")
	if p, ok := flat["config"].(string); ok && p != "" {
		explicit = p
	}
	delete(flat, "config")

	cfgFile, err := readConfigFile(v, explicit)
	if err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for key, val := range flat {
		v.Set(key, val)
	}

	cfg := &Config{}
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigFile = cfgFile
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate rejects values no command can work with.
func (c *Config) Validate() error {
	if c.Controller.Port < 1 || c.Controller.Port > 65535 {
		return fmt.Errorf("controller.port must be between 1 and 65535, got %d", c.Controller.Port)
	}
	if c.Controller.Timeout <= 0 {
		return fmt.Errorf("controller.timeout must be positive, got %s", c.Controller.Timeout)
	}
	if c.Controller.RateLimit < 0 {
		return fmt.Errorf("controller.rate_limit must not be negative")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.Timeout <= 0 {
		return fmt.Errorf("poll.timeout must be positive, got %s", c.Poll.Timeout)
	}
	if c.Poll.UnresponsiveWindow < 0 {
		return fmt.Errorf("poll.unresponsive_window must not be negative")
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	if strings.TrimSpace(c.Jobs.Dir) == "" {
		return errors.New("jobs.dir must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("controller.host", "")
	v.SetDefault("controller.port", 443)
	v.SetDefault("controller.username", "")
	v.SetDefault("controller.password", "")
	v.SetDefault("controller.validate_certs", true)
	v.SetDefault("controller.ca_path", "")
	v.SetDefault("controller.timeout", "30s")
	v.SetDefault("controller.rate_limit", 10)

	v.SetDefault("poll.interval", "30s")
	v.SetDefault("poll.timeout", "1200s")
	v.SetDefault("poll.unresponsive_window", "30s")

	v.SetDefault("logging.level", "info")

	v.SetDefault("jobs.dir", filepath.Join(gfconfig.GetAppDataDir(AppName), "jobs"))
}

// getEnvSpecs lists the supported environment variables.
func getEnvSpecs() []EnvSpec {
	specs := []EnvSpec{
		{Name: "HOST", Path: "controller.host"},
		{Name: "PORT", Path: "controller.port"},
		{Name: "USERNAME", Path: "controller.username"},
		{Name: "PASSWORD", Path: "controller.password"},
		{Name: "VALIDATE_CERTS", Path: "controller.validate_certs"},
		{Name: "CA_PATH", Path: "controller.ca_path"},
		{Name: "TIMEOUT", Path: "controller.timeout"},
		{Name: "RATE_LIMIT", Path: "controller.rate_limit"},
		{Name: "POLL_INTERVAL", Path: "poll.interval"},
		{Name: "POLL_TIMEOUT", Path: "poll.timeout"},
		{Name: "UNRESPONSIVE_WINDOW", Path: "poll.unresponsive_window"},
		{Name: "LOG_LEVEL", Path: "logging.level"},
		{Name: "JOBS_DIR", Path: "jobs.dir"},
	}
	for i := range specs {
		specs[i].Name = EnvPrefix + "_" + specs[i].Name
	}
	return specs
}

// getUserConfigPaths returns candidate config files in lookup order.
func getUserConfigPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, AppName, "config.yaml"))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, AppName, "config.yaml")
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	return paths
}

func readConfigFile(v *viper.Viper, explicit string) (string, error) {
	v.SetConfigType("yaml")
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, p := range getUserConfigPaths() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config %s: %w", p, err)
		}
		return p, nil
	}
	return "", nil
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, val := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = val
	}
}
