package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/zek/internal/alerts"
	"github.com/Dicklesworthstone/zek/internal/api"
	"github.com/Dicklesworthstone/zek/internal/config"
	"github.com/Dicklesworthstone/zek/internal/export"
	"github.com/Dicklesworthstone/zek/internal/exporter"
	"github.com/Dicklesworthstone/zek/internal/logger"
	"github.com/Dicklesworthstone/zek/internal/model"
	"github.com/Dicklesworthstone/zek/internal/sampler"
	"github.com/Dicklesworthstone/zek/internal/supervisor"
	"github.com/Dicklesworthstone/zek/internal/ui"
)

// newSupervisor builds a supervisor over the host reader. Callers subscribe
// before Start so the first snapshot is not missed.
func (a *app) newSupervisor(l *slog.Logger) *supervisor.Supervisor {
	reader := sampler.NewHostReader(a.cfg.SamplerOptions(), l)
	return supervisor.New(reader, a.cfg.SupervisorOptions(l)...)
}

func (a *app) agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Sample continuously and serve the HTTP API and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAgent(cmd.Context())
		},
	}
	d := config.Default()
	f := cmd.Flags()
	f.Bool("web", d.Web.Enabled, "serve the JSON API")
	f.String("web-bind", d.Web.Bind, "JSON API listen address")
	f.Bool("prometheus", d.Exporters.Prometheus.Enabled, "serve Prometheus metrics")
	f.String("prometheus-bind", d.Exporters.Prometheus.Bind, "Prometheus listen address")
	bindFlag(a.v, "web.enabled", f, "web")
	bindFlag(a.v, "web.bind", f, "web-bind")
	bindFlag(a.v, "exporters.prometheus.enabled", f, "prometheus")
	bindFlag(a.v, "exporters.prometheus.bind", f, "prometheus-bind")
	return cmd
}

func (a *app) runAgent(ctx context.Context) error {
	l := logger.Get()
	am, err := alerts.NewManager(l, a.cfg.Alerts...)
	if err != nil {
		return err
	}
	sup := a.newSupervisor(l)
	sub := sup.Subscribe()
	defer sub.Close()

	// The loop shares the group context: when a server fails or a signal
	// arrives, sampling stops and the closed subscription ends Watch.
	g, ctx := errgroup.WithContext(ctx)
	if err := sup.Start(ctx); err != nil {
		return err
	}
	defer sup.Stop()
	g.Go(func() error {
		am.Watch(sub, nil)
		return nil
	})
	if a.cfg.Web.Enabled {
		g.Go(func() error {
			return api.Serve(ctx, a.cfg.Web.Bind, api.New(sup, am, l).Handler(), l.With("server", "api"))
		})
	}
	if a.cfg.Exporters.Prometheus.Enabled {
		g.Go(func() error {
			return api.Serve(ctx, a.cfg.Exporters.Prometheus.Bind, exporter.Handler(sup), l.With("server", "prometheus"))
		})
	}

	l.Info("agent running", "interval", a.cfg.Interval, "web", a.cfg.Web.Enabled, "prometheus", a.cfg.Exporters.Prometheus.Enabled)
	if err := g.Wait(); err != nil {
		return err
	}
	l.Info("agent stopped")
	return nil
}

func (a *app) tuiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Show the live dashboard (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("sort", "cpu", "process sort column: cpu or mem")
	f.String("filter", "", "only list processes whose name matches this regexp")
	bindFlag(a.v, "ui.sort", f, "sort")
	bindFlag(a.v, "ui.filter", f, "filter")
	return cmd
}

func (a *app) runTUI(ctx context.Context) error {
	// Log lines would corrupt the alternate screen.
	l := logger.Discard()
	sup := a.newSupervisor(l)
	if err := sup.Start(ctx); err != nil {
		return err
	}
	defer sup.Stop()
	return ui.Run(ctx, sup, a.cfg.UI)
}

func (a *app) snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print one snapshot as JSON",
		Long:  `Takes two samples one interval apart so throughput and CPU figures are measured, then prints the second one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSnapshot(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) runSnapshot(ctx context.Context, out io.Writer) error {
	sup := a.newSupervisor(logger.Get())
	sub := sup.Subscribe()
	defer sub.Close()
	if err := sup.Start(ctx); err != nil {
		return err
	}
	defer sup.Stop()

	var snap *model.Snapshot
	for range 2 {
		var ok bool
		if snap, ok = sub.Recv(ctx); !ok {
			return errors.New("interrupted before a snapshot was taken")
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func (a *app) streamCmd() *cobra.Command {
	var (
		format string
		count  int
	)
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Write every snapshot to stdout as JSON lines or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := export.New(format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return a.runStream(cmd.Context(), w, count)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", export.FormatJSONL, "output format: jsonl or csv")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many snapshots (0 streams until interrupted)")
	return cmd
}

func (a *app) runStream(ctx context.Context, w export.Writer, count int) error {
	l := logger.Get()
	sup := a.newSupervisor(l)
	sub := sup.Subscribe()
	defer sub.Close()
	if err := sup.Start(ctx); err != nil {
		return err
	}
	defer sup.Stop()

	n, err := export.Stream(ctx, sub, w, count)
	l.Debug("stream finished", "snapshots", n)
	return err
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.cfg.YAML()
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
