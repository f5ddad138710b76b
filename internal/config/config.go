package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/keithk/siteherd/internal/logger"
	"github.com/keithk/siteherd/internal/supervisor"
)

// FileConfig is the top-level TOML structure for the daemon.
type FileConfig struct {
	Listen           string           `toml:"listen" mapstructure:"listen"`
	Store            string           `toml:"store" mapstructure:"store"`
	Metrics          bool             `toml:"metrics" mapstructure:"metrics"`
	HealthInterval   time.Duration    `toml:"health_interval" mapstructure:"health_interval"`
	ResourceInterval time.Duration    `toml:"resource_interval" mapstructure:"resource_interval"`
	ShutdownTimeout  time.Duration    `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Log              logger.Config    `toml:"log" mapstructure:"log"`
	History          HistoryConfig    `toml:"history" mapstructure:"history"`
	Sites            []SiteConfig     `toml:"sites" mapstructure:"sites"`
}

// HistoryConfig selects an external lifecycle-event sink. Empty Addr means
// no sink.
type HistoryConfig struct {
	Type  string `toml:"type" mapstructure:"type"` // "clickhouse"
	Addr  string `toml:"addr" mapstructure:"addr"`
	Table string `toml:"table" mapstructure:"table"`
}

// SiteConfig declares one site process to launch at daemon startup.
type SiteConfig struct {
	Site              string            `toml:"site" mapstructure:"site"`
	Port              int               `toml:"port" mapstructure:"port"`
	Script            string            `toml:"script" mapstructure:"script"`
	Cwd               string            `toml:"cwd" mapstructure:"cwd"`
	Type              string            `toml:"type" mapstructure:"type"`
	Env               map[string]string `toml:"env" mapstructure:"env"`
	AllowPortFallback bool              `toml:"allow_port_fallback" mapstructure:"allow_port_fallback"`
}

// Defaults applied when the file leaves a field unset.
const (
	DefaultListen          = "127.0.0.1:8420"
	DefaultStore           = "memory"
	DefaultShutdownTimeout = 15 * time.Second
)

// Load reads and validates a daemon TOML config file.
func Load(path string) (FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return FileConfig{}, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return FileConfig{}, err
	}
	if fc.Listen == "" {
		fc.Listen = DefaultListen
	}
	if fc.Store == "" {
		fc.Store = DefaultStore
	}
	if fc.ShutdownTimeout <= 0 {
		fc.ShutdownTimeout = DefaultShutdownTimeout
	}
	if err := fc.validate(); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

func (fc FileConfig) validate() error {
	seen := make(map[string]bool, len(fc.Sites))
	for _, s := range fc.Sites {
		if s.Site == "" {
			return fmt.Errorf("site entry missing name")
		}
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("site %s: invalid port %d", s.Site, s.Port)
		}
		if s.Script == "" {
			return fmt.Errorf("site %s: missing script", s.Site)
		}
		id := fmt.Sprintf("%s:%d", s.Site, s.Port)
		if seen[id] {
			return fmt.Errorf("duplicate site entry %s", id)
		}
		seen[id] = true
	}
	if fc.History.Type != "" && fc.History.Type != "clickhouse" {
		return fmt.Errorf("unsupported history sink type %q", fc.History.Type)
	}
	return nil
}

// LaunchSpecs converts the declared sites into supervisor launch specs, each
// carrying the daemon-wide log config.
func (fc FileConfig) LaunchSpecs() []supervisor.LaunchSpec {
	specs := make([]supervisor.LaunchSpec, 0, len(fc.Sites))
	for _, s := range fc.Sites {
		specs = append(specs, supervisor.LaunchSpec{
			Site:              s.Site,
			Port:              s.Port,
			Script:            s.Script,
			Cwd:               s.Cwd,
			Type:              s.Type,
			Env:               s.Env,
			AllowPortFallback: s.AllowPortFallback,
			Log:               fc.Log,
		})
	}
	return specs
}
