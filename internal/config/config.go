// Package config loads runtime options from defaults, an optional TOML or
// YAML file and ZEK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/zek/internal/alerts"
	"github.com/Dicklesworthstone/zek/internal/logger"
	"github.com/Dicklesworthstone/zek/internal/sampler"
	"github.com/Dicklesworthstone/zek/internal/supervisor"
)

// EnvPrefix prefixes every environment override, e.g. ZEK_HISTORY_CAPACITY.
const EnvPrefix = "ZEK"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config carries runtime options for zek.
type Config struct {
	Interval       time.Duration    `mapstructure:"interval"`
	CollectTimeout time.Duration    `mapstructure:"collect_timeout"`
	History        HistoryConfig    `mapstructure:"history"`
	Broker         BrokerConfig     `mapstructure:"broker"`
	Collectors     CollectorsConfig `mapstructure:"collectors"`
	Web            WebConfig        `mapstructure:"web"`
	Exporters      ExportersConfig  `mapstructure:"exporters"`
	Log            LogConfig        `mapstructure:"log"`
	UI             UIConfig         `mapstructure:"ui"`
	Alerts         []alerts.Rule    `mapstructure:"alerts"`
}

type HistoryConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

type BrokerConfig struct {
	Queue int `mapstructure:"queue" yaml:"queue"`
}

// CollectorsConfig toggles the optional sub-collectors.
type CollectorsConfig struct {
	GPU         bool `mapstructure:"gpu" yaml:"gpu"`
	Battery     bool `mapstructure:"battery" yaml:"battery"`
	Sensors     bool `mapstructure:"sensors" yaml:"sensors"`
	Connections bool `mapstructure:"connections" yaml:"connections"`
	Containers  bool `mapstructure:"containers" yaml:"containers"`
}

type WebConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Bind    string `mapstructure:"bind" yaml:"bind"`
}

type ExportersConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus" yaml:"prometheus"`
}

type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Bind    string `mapstructure:"bind" yaml:"bind"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// UIConfig holds dashboard preferences.
type UIConfig struct {
	Sort   string `mapstructure:"sort" yaml:"sort"`
	Filter string `mapstructure:"filter" yaml:"filter"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Interval: time.Second,
		History:  HistoryConfig{Capacity: 3600},
		Broker:   BrokerConfig{Queue: 16},
		Collectors: CollectorsConfig{
			GPU:         true,
			Battery:     true,
			Sensors:     true,
			Connections: true,
			Containers:  true,
		},
		Web: WebConfig{Enabled: true, Bind: "127.0.0.1:61208"},
		Exporters: ExportersConfig{
			Prometheus: PrometheusConfig{Enabled: true, Bind: "127.0.0.1:9100"},
		},
		Log: LogConfig{Level: "info", Format: logger.FormatJSON},
		UI:  UIConfig{Sort: "cpu"},
	}
}

// NewViper returns a viper instance seeded with defaults and wired to the
// environment.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("interval", d.Interval)
	v.SetDefault("collect_timeout", d.CollectTimeout)
	v.SetDefault("history.capacity", d.History.Capacity)
	v.SetDefault("broker.queue", d.Broker.Queue)
	v.SetDefault("collectors.gpu", d.Collectors.GPU)
	v.SetDefault("collectors.battery", d.Collectors.Battery)
	v.SetDefault("collectors.sensors", d.Collectors.Sensors)
	v.SetDefault("collectors.connections", d.Collectors.Connections)
	v.SetDefault("collectors.containers", d.Collectors.Containers)
	v.SetDefault("web.enabled", d.Web.Enabled)
	v.SetDefault("web.bind", d.Web.Bind)
	v.SetDefault("exporters.prometheus.enabled", d.Exporters.Prometheus.Enabled)
	v.SetDefault("exporters.prometheus.bind", d.Exporters.Prometheus.Bind)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("ui.sort", d.UI.Sort)
	v.SetDefault("ui.filter", d.UI.Filter)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("interval_ms")
	return v
}

// Load reads path (if set) into v and decodes the result. The file format
// follows the extension (.toml, .yaml, .yml, .json). flags, if set, are the
// parsed command-line flags bound to v; they decide whether a legacy
// millisecond interval may apply.
func Load(v *viper.Viper, path string, flags *pflag.FlagSet) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode: %v", ErrInvalid, err)
	}
	if d, ok := legacyInterval(v, flags); ok {
		cfg.Interval = d
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// legacyInterval returns the millisecond interval used by older config files
// (interval_ms, refresh.interval_ms, ZEK_INTERVAL_MS) when no source of equal
// or higher precedence sets interval. Precedence is flag > env > file.
func legacyInterval(v *viper.Viper, flags *pflag.FlagSet) (time.Duration, bool) {
	ms := func(key string) (time.Duration, bool) {
		return time.Duration(v.GetInt64(key)) * time.Millisecond, true
	}
	if flags != nil {
		if f := flags.Lookup("interval"); f != nil && f.Changed {
			return 0, false
		}
	}
	if os.Getenv(EnvPrefix+"_INTERVAL") != "" {
		return 0, false
	}
	if os.Getenv(EnvPrefix+"_INTERVAL_MS") != "" {
		return ms("interval_ms")
	}
	if v.InConfig("interval") {
		return 0, false
	}
	for _, key := range []string{"interval_ms", "refresh.interval_ms"} {
		if v.InConfig(key) {
			return ms(key)
		}
	}
	return 0, false
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be > 0, got %s", c.Interval))
	}
	if c.CollectTimeout < 0 {
		errs = append(errs, fmt.Errorf("collect_timeout must be >= 0, got %s", c.CollectTimeout))
	}
	if c.History.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("history.capacity must be > 0, got %d", c.History.Capacity))
	}
	if c.Broker.Queue <= 0 {
		errs = append(errs, fmt.Errorf("broker.queue must be > 0, got %d", c.Broker.Queue))
	}
	if c.Web.Enabled && c.Web.Bind == "" {
		errs = append(errs, errors.New("web.bind is required when web is enabled"))
	}
	if c.Exporters.Prometheus.Enabled && c.Exporters.Prometheus.Bind == "" {
		errs = append(errs, errors.New("exporters.prometheus.bind is required when the exporter is enabled"))
	}
	if _, err := logger.NewHandler(logger.Options{Level: c.Log.Level, Format: c.Log.Format}); err != nil {
		errs = append(errs, err)
	}
	switch c.UI.Sort {
	case "cpu", "mem":
	default:
		errs = append(errs, fmt.Errorf("ui.sort must be cpu or mem, got %q", c.UI.Sort))
	}
	if c.UI.Filter != "" {
		if _, err := regexp.Compile(c.UI.Filter); err != nil {
			errs = append(errs, fmt.Errorf("ui.filter: %v", err))
		}
	}
	seen := make(map[string]bool, len(c.Alerts))
	for _, r := range c.Alerts {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[r.Key()] {
			errs = append(errs, fmt.Errorf("duplicate alert %q", r.Key()))
		}
		seen[r.Key()] = true
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// SamplerOptions maps collector toggles onto the host reader.
func (c Config) SamplerOptions() sampler.Options {
	return sampler.Options{
		GPU:         c.Collectors.GPU,
		Battery:     c.Collectors.Battery,
		Sensors:     c.Collectors.Sensors,
		Connections: c.Collectors.Connections,
		Containers:  c.Collectors.Containers,
	}
}

// SupervisorOptions maps loop settings onto supervisor options.
func (c Config) SupervisorOptions(l *slog.Logger) []supervisor.Option {
	return []supervisor.Option{
		supervisor.WithInterval(c.Interval),
		supervisor.WithHistoryCapacity(c.History.Capacity),
		supervisor.WithQueue(c.Broker.Queue),
		supervisor.WithCollectTimeout(c.CollectTimeout),
		supervisor.WithLogger(l),
	}
}

// LoggerOptions maps log settings onto the logger package.
func (c Config) LoggerOptions() logger.Options {
	return logger.Options{Level: c.Log.Level, Format: c.Log.Format}
}

// yamlConfig renders durations as strings.
type yamlConfig struct {
	Interval       string           `yaml:"interval"`
	CollectTimeout string           `yaml:"collect_timeout"`
	History        HistoryConfig    `yaml:"history"`
	Broker         BrokerConfig     `yaml:"broker"`
	Collectors     CollectorsConfig `yaml:"collectors"`
	Web            WebConfig        `yaml:"web"`
	Exporters      ExportersConfig  `yaml:"exporters"`
	Log            LogConfig        `yaml:"log"`
	UI             UIConfig         `yaml:"ui"`
	Alerts         []alerts.Rule    `yaml:"alerts,omitempty"`
}

// YAML renders the effective configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(yamlConfig{
		Interval:       c.Interval.String(),
		CollectTimeout: c.CollectTimeout.String(),
		History:        c.History,
		Broker:         c.Broker,
		Collectors:     c.Collectors,
		Web:            c.Web,
		Exporters:      c.Exporters,
		Log:            c.Log,
		UI:             c.UI,
		Alerts:         c.Alerts,
	})
}
