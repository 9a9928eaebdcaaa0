package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mixinhost/internal/access"
	"mixinhost/internal/archive"
	"mixinhost/internal/audit"
	"mixinhost/internal/blob"
	"mixinhost/internal/config"
	"mixinhost/internal/logging"
	"mixinhost/internal/metrics"
	"mixinhost/internal/mixin"
	"mixinhost/pkg/mixinapi"
	"mixinhost/plugins/stamp"
	"mixinhost/plugins/trace"
)

type pluginBuilder func(opts map[string]string) (mixinapi.Plugin, error)

var pluginBuilders = map[string]pluginBuilder{
	"trace": func(opts map[string]string) (mixinapi.Plugin, error) {
		p, err := trace.FromOptions(opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	},
	"stamp": func(opts map[string]string) (mixinapi.Plugin, error) {
		p, err := stamp.FromOptions(opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	},
}

func newApplyCmd(configPath func() string) *cobra.Command {
	var (
		archivePath string
		traceSpans  bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply configured plugin mixins to the application's classes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return err
			}
			if archivePath != "" {
				cfg.Archive.Path = archivePath
			}
			var tracer mixin.Tracer
			if traceSpans {
				tracer = mixin.NewJSONTracer(cmd.ErrOrStderr())
			}
			return runApply(cmd.Context(), cfg, tracer, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&archivePath, "archive", "", "application archive (directory, jar or zip)")
	cmd.Flags().BoolVar(&traceSpans, "trace", false, "write operation spans as JSON lines to stderr")
	return cmd
}

// host bundles what one run needs and closes it afterwards.
type host struct {
	app    *archive.FS
	store  blob.Store
	ledger audit.Ledger
	logger *logging.Logger
}

func openHost(ctx context.Context, cfg *config.Config) (*host, error) {
	if cfg.Archive.Path == "" {
		return nil, errors.New("archive path required (--archive or archive.path)")
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	app, err := archive.OpenPath(cfg.Archive.Path)
	if err != nil {
		return nil, err
	}
	store, err := blob.Open(ctx, cfg.BlobStoreConfig())
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	ledger, err := audit.Open(ctx, cfg.AuditLedgerConfig())
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("open audit ledger: %w", err)
	}
	return &host{app: app, store: store, ledger: ledger, logger: logger}, nil
}

func (h *host) Close() error {
	_ = h.logger.Sync()
	return errors.Join(h.ledger.Close(), h.app.Close())
}

// adapterFactory builds the access adapter selected by adapter.kind.
func (h *host) adapterFactory(cfg *config.Config) access.Factory {
	return func(context.Context) (mixinapi.Access, error) {
		b := access.NewBlob(h.store, cfg.Adapter.Prefix)
		if cfg.Adapter.Kind == "blob" {
			return b, nil
		}
		return access.NewOverlay(b, h.app), nil
	}
}

func metricsRecorder(sink string) (mixin.MetricsRecorder, *prometheus.Registry, error) {
	switch sink {
	case "expvar":
		return mixin.NewExpvarMetricsRecorder(""), nil, nil
	case "prometheus":
		reg := prometheus.NewRegistry()
		rec, err := metrics.NewRecorder(reg)
		return rec, reg, err
	default:
		return nil, nil, nil
	}
}

func runApply(ctx context.Context, cfg *config.Config, tracer mixin.Tracer, out io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := openHost(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, h.Close()) }()

	recorder, registry, err := metricsRecorder(cfg.Metrics.Sink)
	if err != nil {
		return err
	}
	engine := mixin.New(nil,
		mixin.WithLogger(h.logger),
		mixin.WithAuditRecorder(h.ledger),
		mixin.WithMetricsRecorder(recorder),
		mixin.WithTracer(tracer),
		mixin.WithFlushPolicy(cfg.FlushPolicy()),
	)
	defer engine.OnUnload(ctx)

	if err := engine.OnLoad(ctx, h.app); err != nil {
		return err
	}
	if engine.State() == mixin.StateLoadedNonCompliant {
		fmt.Fprintln(out, "application is not mixin compliant; nothing to apply")
		return nil
	}
	if err := engine.Activate(ctx, access.Factories{access.Any: h.adapterFactory(cfg)}); err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Plugins))
	for name := range cfg.Plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		build, ok := pluginBuilders[name]
		if !ok {
			return fmt.Errorf("unknown plugin %q", name)
		}
		plugin, err := build(cfg.Plugins[name])
		if err != nil {
			return err
		}
		meta, err := engine.InstallPlugin(ctx, plugin)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "plugin %s %s: %d registrations\n", meta.Name, meta.Version, meta.Registrations)
	}

	report, flushErr := engine.Flush(ctx)
	printReport(out, report)
	if registry != nil {
		families, gerr := registry.Gather()
		if gerr != nil {
			return errors.Join(flushErr, gerr)
		}
		for _, mf := range families {
			fmt.Fprintf(out, "metric %s series=%d\n", mf.GetName(), len(mf.GetMetric()))
		}
	}
	return flushErr
}

func printReport(out io.Writer, report mixin.FlushReport) {
	fmt.Fprintf(out, "run %s\n", report.RunID)
	for _, target := range report.Applied {
		fmt.Fprintf(out, "applied %s\n", target)
	}
	failed := make([]string, 0, len(report.Failed))
	for target := range report.Failed {
		failed = append(failed, target)
	}
	sort.Strings(failed)
	for _, target := range failed {
		fmt.Fprintf(out, "failed %s: %v\n", target, report.Failed[target])
	}
	for _, target := range report.Skipped {
		fmt.Fprintf(out, "skipped %s\n", target)
	}
}
