package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/zek/internal/alerts"
)

func alertRule(name string) alerts.Rule {
	return alerts.Rule{Name: name, Metric: "cpu_usage", Operator: "gt", Threshold: 90}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, 3600, cfg.History.Capacity)
	assert.Equal(t, "127.0.0.1:61208", cfg.Web.Bind)
	assert.Equal(t, "127.0.0.1:9100", cfg.Exporters.Prometheus.Bind)
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeConfig(t, "zek.toml", `
interval = "250ms"
collect_timeout = "2s"

[history]
capacity = 120

[collectors]
gpu = false

[web]
bind = "0.0.0.0:8080"

[[alerts]]
name = "high_cpu"
metric = "cpu_usage"
operator = ">"
threshold = 80
`)
	cfg, err := Load(NewViper(), path, nil)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, 2*time.Second, cfg.CollectTimeout)
	assert.Equal(t, 120, cfg.History.Capacity)
	assert.False(t, cfg.Collectors.GPU)
	assert.True(t, cfg.Collectors.Battery, "unset keys keep defaults")
	assert.Equal(t, "0.0.0.0:8080", cfg.Web.Bind)
	require.Len(t, cfg.Alerts, 1)
	assert.Equal(t, "cpu_usage", cfg.Alerts[0].Metric)
	assert.Equal(t, 80.0, cfg.Alerts[0].Threshold)
}

func TestLoad_YAMLFileWithLegacyInterval(t *testing.T) {
	path := writeConfig(t, "zek.yaml", `
refresh:
  interval_ms: 500
broker:
  queue: 4
log:
  level: debug
  format: console
`)
	cfg, err := Load(NewViper(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Interval)
	assert.Equal(t, 4, cfg.Broker.Queue)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ZEK_HISTORY_CAPACITY", "10")
	t.Setenv("ZEK_INTERVAL", "3s")
	t.Setenv("ZEK_COLLECTORS_CONTAINERS", "false")
	t.Setenv("ZEK_EXPORTERS_PROMETHEUS_BIND", ":9200")

	cfg, err := Load(NewViper(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.History.Capacity)
	assert.Equal(t, 3*time.Second, cfg.Interval)
	assert.False(t, cfg.Collectors.Containers)
	assert.Equal(t, ":9200", cfg.Exporters.Prometheus.Bind)
}

func TestLoad_IntervalMillisecondsFromEnv(t *testing.T) {
	t.Setenv("ZEK_INTERVAL_MS", "750")
	cfg, err := Load(NewViper(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Interval)
}

func TestLoad_LegacyIntervalPrecedence(t *testing.T) {
	bound := func(v *viper.Viper, args ...string) *pflag.FlagSet {
		fs := pflag.NewFlagSet("zek", pflag.ContinueOnError)
		fs.Duration("interval", time.Second, "")
		require.NoError(t, fs.Parse(args))
		require.NoError(t, v.BindPFlag("interval", fs.Lookup("interval")))
		return fs
	}

	t.Run("flag beats legacy file key", func(t *testing.T) {
		path := writeConfig(t, "zek.toml", "interval_ms = 500\n")
		v := NewViper()
		cfg, err := Load(v, path, bound(v, "--interval", "2s"))
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.Interval)
	})
	t.Run("unchanged flag lets legacy file key apply", func(t *testing.T) {
		path := writeConfig(t, "zek.toml", "interval_ms = 500\n")
		v := NewViper()
		cfg, err := Load(v, path, bound(v))
		require.NoError(t, err)
		assert.Equal(t, 500*time.Millisecond, cfg.Interval)
	})
	t.Run("flag beats legacy env", func(t *testing.T) {
		t.Setenv("ZEK_INTERVAL_MS", "250")
		v := NewViper()
		cfg, err := Load(v, "", bound(v, "--interval", "3s"))
		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, cfg.Interval)
	})
	t.Run("interval in the same file beats interval_ms", func(t *testing.T) {
		path := writeConfig(t, "zek.toml", "interval = \"4s\"\ninterval_ms = 500\n")
		cfg, err := Load(NewViper(), path, nil)
		require.NoError(t, err)
		assert.Equal(t, 4*time.Second, cfg.Interval)
	})
	t.Run("legacy env beats interval in file", func(t *testing.T) {
		t.Setenv("ZEK_INTERVAL_MS", "250")
		path := writeConfig(t, "zek.toml", "interval = \"4s\"\n")
		cfg, err := Load(NewViper(), path, nil)
		require.NoError(t, err)
		assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	})
}

func TestLoad_RejectsZeroInterval(t *testing.T) {
	path := writeConfig(t, "zek.toml", "interval_ms = 0\n")
	_, err := Load(NewViper(), path, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "interval")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.toml"), nil)
	assert.Error(t, err)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.History.Capacity = 0
	cfg.Broker.Queue = -1
	cfg.Log.Format = "xml"
	cfg.UI.Sort = "name"
	cfg.UI.Filter = "("
	cfg.Web.Bind = ""

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"history.capacity", "broker.queue", "log format", "ui.sort", "ui.filter", "web.bind"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_Alerts(t *testing.T) {
	cfg := Default()
	cfg.Alerts = append(cfg.Alerts,
		alertRule("a"), alertRule("a"),
	)
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "duplicate alert")
}

func TestYAML(t *testing.T) {
	cfg := Default()
	cfg.Alerts = append(cfg.Alerts, alertRule("hot"))
	out, err := cfg.YAML()
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "interval: 1s")
	assert.Contains(t, s, "capacity: 3600")
	assert.Contains(t, s, "bind: 127.0.0.1:9100")
	assert.Contains(t, s, "name: hot")
}

func TestOptionMapping(t *testing.T) {
	cfg := Default()
	cfg.Collectors.GPU = false

	so := cfg.SamplerOptions()
	assert.False(t, so.GPU)
	assert.True(t, so.Containers)
	assert.Len(t, cfg.SupervisorOptions(nil), 5)
	assert.Equal(t, "json", cfg.LoggerOptions().Format)
}
