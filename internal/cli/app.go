package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/provtrail/internal/artifact"
	"github.com/roach88/provtrail/internal/bundle"
	"github.com/roach88/provtrail/internal/config"
	"github.com/roach88/provtrail/internal/incident"
	"github.com/roach88/provtrail/internal/metrics"
	"github.com/roach88/provtrail/internal/narrative"
	"github.com/roach88/provtrail/internal/pipeline"
	"github.com/roach88/provtrail/internal/policy"
	"github.com/roach88/provtrail/internal/record"
	"github.com/roach88/provtrail/internal/trace"
)

// app is the wired component graph shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	store     *record.Store
	artifacts *artifact.Store
	engine    *incident.Engine
	exporter  *bundle.Exporter
	ingestor  *trace.Ingestor
	out       *OutputFormatter
}

// loadConfig reads the config and installs the process logger.
func loadConfig(opts *RootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := cfg.NewLogger(opts.Verbose)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openApp loads config, opens the database and artifact directory, and wires
// every component.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	pol, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load policy", err)
	}

	if cfg.Database.Driver == record.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create database directory", err)
		}
	}
	st, err := record.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	slog.Debug("database opened", "driver", st.Driver())

	blobs, err := artifact.NewFSBlobStore(cfg.Artifacts.Dir)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open artifact directory", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  m,
		store:    st,
		out:      &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
	}
	a.artifacts = artifact.New(blobs,
		artifact.WithIndex(st),
		artifact.WithMetrics(m),
		artifact.WithLogger(logger),
	)
	a.engine = incident.NewEngine(st, a.artifacts, st,
		incident.WithPolicy(pol),
		incident.WithMetrics(m),
		incident.WithLogger(logger),
	)
	a.exporter = bundle.NewExporter(st, st, a.artifacts,
		bundle.WithSecret([]byte(cfg.Bundle.Secret)),
		bundle.WithPreviewLength(cfg.Bundle.PreviewLength),
		bundle.WithMetrics(m),
		bundle.WithLogger(logger),
	)
	a.ingestor = trace.NewIngestor(a.artifacts, st, st, m)
	return a, nil
}

// runner builds the pipeline runner.
func (a *app) runner() (*pipeline.Runner, error) {
	opts := []narrative.Option{narrative.WithPolicy(a.engine.Policy()), narrative.WithLogger(a.logger)}
	if a.cfg.TemplateDir != "" {
		opts = append(opts, narrative.WithTemplateDir(a.cfg.TemplateDir))
	}
	narrator, err := narrative.NewGenerator(opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load templates", err)
	}
	observedAt, err := a.cfg.ObservedTime()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return pipeline.NewRunner(a.artifacts, a.engine, narrator,
		pipeline.WithSpanStore(a.store),
		pipeline.WithObservedAt(observedAt),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.logger),
	), nil
}

// Close logs the metrics gathered during the command and closes the
// database.
func (a *app) Close() {
	if families, err := a.registry.Gather(); err == nil {
		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				switch {
				case m.GetCounter() != nil:
					a.logger.Debug("metric", "name", mf.GetName(), "labels", labelString(m.GetLabel()), "value", m.GetCounter().GetValue())
				case m.GetHistogram() != nil:
					a.logger.Debug("metric", "name", mf.GetName(), "count", m.GetHistogram().GetSampleCount(), "sum", m.GetHistogram().GetSampleSum())
				}
			}
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

func labelString[L interface {
	GetName() string
	GetValue() string
}](labels []L) string {
	s := ""
	for i, l := range labels {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s=%s", l.GetName(), l.GetValue())
	}
	return s
}
