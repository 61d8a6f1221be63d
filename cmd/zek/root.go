package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Dicklesworthstone/zek/internal/config"
	"github.com/Dicklesworthstone/zek/internal/logger"
)

// app carries state shared by every subcommand.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:          "zek",
		Short:        "zek watches your machine",
		Long:         `zek samples CPU, memory, network, disk, process, sensor and device metrics once per interval and fans every snapshot out to the dashboard, the HTTP API, the Prometheus exporter and file exports.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (.toml, .yaml or .json)")
	pf.Duration("interval", config.Default().Interval, "sampling interval")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", logger.FormatJSON, "log format: json, text, console")
	bindFlag(a.v, "interval", pf, "interval")
	bindFlag(a.v, "log.level", pf, "log-level")
	bindFlag(a.v, "log.format", pf, "log-format")

	root.AddCommand(
		a.agentCmd(),
		a.tuiCmd(),
		a.snapshotCmd(),
		a.streamCmd(),
		a.configCmd(),
	)
	return root
}

// load reads the config file, environment and flags, then installs the
// configured logger.
func (a *app) load(flags *pflag.FlagSet) error {
	cfg, err := config.Load(a.v, a.cfgFile, flags)
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.LoggerOptions()); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	a.cfg = cfg
	return nil
}

// bindFlag lets a flag override the config key when it is set.
func bindFlag(v *viper.Viper, key string, fs *pflag.FlagSet, name string) {
	cobra.CheckErr(v.BindPFlag(key, fs.Lookup(name)))
}
