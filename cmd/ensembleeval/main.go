/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main scores every generated image of one model with two
// vision-language models and checkpoints the reconciled records.
// Rerunning with the same checkpoint directory resumes an interrupted run.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chainguard.dev/vlmensemble/backend"
	"chainguard.dev/vlmensemble/backend/retry"
	"chainguard.dev/vlmensemble/checkpoint"
	"chainguard.dev/vlmensemble/dispatcher"
	"chainguard.dev/vlmensemble/ensemble"
	"chainguard.dev/vlmensemble/experiment"
	"chainguard.dev/vlmensemble/imagestore"
	"chainguard.dev/vlmensemble/stats"
	"chainguard.dev/vlmensemble/unit"
	"cloud.google.com/go/storage"
	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/chainguard-dev/terraform-infra-common/pkg/httpmetrics"
	"github.com/chainguard-dev/terraform-infra-common/pkg/profiler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
)

type config struct {
	MetricsPort int `env:"METRICS_PORT"`

	// Experiment is a preset name; ExperimentFile overrides it.
	Experiment     string `env:"EXPERIMENT,default=edit"`
	ExperimentFile string `env:"EXPERIMENT_FILE"`
	RubricFile     string `env:"RUBRIC_FILE,required"`

	// Model is the image generator whose outputs are scored.
	Model         string `env:"MODEL,required"`
	OutputDir     string `env:"OUTPUT_DIR,required"`
	ImageRoot     string `env:"IMAGE_ROOT"`
	CheckpointDir string `env:"CHECKPOINT_DIR,default=checkpoints"`
	SummaryFile   string `env:"SUMMARY_FILE"`

	Concurrency        int           `env:"CONCURRENCY,default=8"`
	BackendConcurrency int           `env:"BACKEND_CONCURRENCY,default=4"`
	MaxRetries         int           `env:"MAX_RETRIES,default=4"`
	AttemptTimeout     time.Duration `env:"ATTEMPT_TIMEOUT,default=120s"`
	Tolerance          int           `env:"TOLERANCE,default=1"`
	SnapshotEvery      int           `env:"SNAPSHOT_EVERY,default=100"`
	Fsync              bool          `env:"FSYNC,default=false"`

	ModelA  string `env:"MODEL_A,default=claude-sonnet-4-5@20250929"`
	APIKeyA string `env:"API_KEY_A"`
	ModelB  string `env:"MODEL_B,default=gemini-2.5-flash"`
	APIKeyB string `env:"API_KEY_B"`

	GCPProjectID string `env:"GCP_PROJECT_ID"`
	GCPRegion    string `env:"GCP_REGION,default=us-east5"`

	S3Region    string `env:"S3_REGION"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3PathStyle bool   `env:"S3_PATH_STYLE,default=false"`

	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT,default=30s"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	profiler.SetupProfiler()
	defer httpmetrics.SetupTracer(ctx)()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	if cfg.MetricsPort > 0 {
		go serveMetrics(ctx, cfg.MetricsPort)
	}

	if err := run(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "evaluation failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config) error {
	exp, err := loadExperiment(cfg)
	if err != nil {
		return err
	}
	rubrics, err := experiment.LoadRubricsFile(cfg.RubricFile)
	if err != nil {
		return err
	}
	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("experiment", exp.Name(), "model", cfg.Model))

	images, err := newImageStore(ctx, cfg)
	if err != nil {
		return err
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.AttemptTimeout = cfg.AttemptTimeout
	metrics := backend.NewMetrics("chainguard.dev/vlmensemble")
	a, err := newAdapter(ctx, cfg, backend.A, cfg.ModelA, cfg.APIKeyA, images, rubrics, policy, metrics)
	if err != nil {
		return err
	}
	b, err := newAdapter(ctx, cfg, backend.B, cfg.ModelB, cfg.APIKeyB, images, rubrics, policy, metrics)
	if err != nil {
		return err
	}

	resolver, err := ensemble.NewResolver(rubrics, ensemble.WithTolerance(cfg.Tolerance))
	if err != nil {
		return fmt.Errorf("creating resolver: %w", err)
	}

	store, err := checkpoint.Open(ctx, cfg.CheckpointDir,
		checkpoint.Namespace{Model: cfg.Model, Experiment: exp.Name()},
		checkpoint.WithSnapshotEvery(cfg.SnapshotEvery),
		checkpoint.WithFsync(cfg.Fsync))
	if err != nil {
		return fmt.Errorf("opening checkpoint: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			clog.ErrorContextf(ctx, "closing checkpoint: %v", err)
		}
	}()

	enumeration, err := unit.NewEnumerator(os.DirFS(cfg.OutputDir), images, exp, rubrics).
		EnumerateAll(ctx, cfg.Model)
	if err != nil {
		return fmt.Errorf("enumerating units: %w", err)
	}

	observer := stats.NewMetricsObserver(exp.Name(), cfg.Model)
	observer.ObserveSkips(enumeration.Skipped)

	d, err := dispatcher.New(a, b, resolver, store,
		dispatcher.WithConcurrency(cfg.Concurrency),
		dispatcher.WithObserver(observer))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	summary, runErr := d.Run(ctx, enumeration.Units)

	// Statistics cover every checkpointed unit, not only this run's.
	agg := stats.NewAggregator()
	for _, rec := range store.Records() {
		agg.Add(rec)
	}
	agg.AddSkips(enumeration.Skipped)
	report := agg.Summary()

	if err := writeSummary(cfg, exp.Name(), report); err != nil {
		return errors.Join(runErr, err)
	}
	if err := report.WriteTable(os.Stdout); err != nil {
		return errors.Join(runErr, fmt.Errorf("writing table: %w", err))
	}
	if runErr != nil {
		return runErr
	}
	if summary.Pending > 0 {
		clog.WarnContextf(ctx, "%d units pending, rerun to resume", summary.Pending)
	}
	return nil
}

func loadExperiment(cfg *config) (*experiment.Experiment, error) {
	if cfg.ExperimentFile != "" {
		return experiment.LoadFile(cfg.ExperimentFile)
	}
	return experiment.Preset(cfg.Experiment)
}

// newImageStore serves plain references from IMAGE_ROOT (or OUTPUT_DIR)
// and remote references by scheme.
func newImageStore(ctx context.Context, cfg *config) (imagestore.Store, error) {
	root := cfg.ImageRoot
	if root == "" {
		root = cfg.OutputDir
	}
	mux := imagestore.NewMux(imagestore.NewDir(root))

	gcs, err := storage.NewClient(ctx)
	if err != nil {
		clog.WarnContextf(ctx, "gs:// references disabled: %v", err)
	} else {
		mux.Handle("gs", imagestore.NewGCS(gcs))
	}

	s3, err := imagestore.NewS3(ctx, imagestore.S3Config{
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		clog.WarnContextf(ctx, "s3:// references disabled: %v", err)
	} else {
		mux.Handle("s3", s3)
	}

	web := imagestore.NewHTTP(cfg.HTTPTimeout)
	return mux.Handle("http", web).Handle("https", web), nil
}

func newAdapter(ctx context.Context, cfg *config, id backend.ID, model, apiKey string, images imagestore.Store, rubrics experiment.RubricSet, policy retry.Policy, metrics *backend.Metrics) (*backend.Adapter, error) {
	inv, err := backend.NewInvoker(ctx, backend.Config{
		Model:   model,
		Project: cfg.GCPProjectID,
		Region:  cfg.GCPRegion,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", id, err)
	}
	clog.InfoContextf(ctx, "Backend %s using model %s", id, model)
	a, err := backend.New(id, inv, images, rubrics,
		backend.WithConcurrency(cfg.BackendConcurrency),
		backend.WithRetryPolicy(policy),
		backend.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", id, err)
	}
	return a, nil
}

func writeSummary(cfg *config, name string, report *stats.Summary) error {
	path := cfg.SummaryFile
	if path == "" {
		path = filepath.Join(cfg.CheckpointDir, name, cfg.Model, "summary.json")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating summary: %w", err)
	}
	defer f.Close()
	return report.WriteJSON(f)
}

func serveMetrics(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	clog.InfoContextf(ctx, "Serving metrics on port %d", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		clog.ErrorContextf(ctx, "metrics server failed: %v", err)
	}
}
