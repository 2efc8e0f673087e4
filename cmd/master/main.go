package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/sorrycc/elasticdl/master"
	"github.com/sorrycc/elasticdl/master/api"
	"github.com/sorrycc/elasticdl/master/middleware"
	"github.com/sorrycc/elasticdl/pkg/checkpoint"
	"github.com/sorrycc/elasticdl/pkg/embedding"
	"github.com/sorrycc/elasticdl/pkg/evaluation"
	"github.com/sorrycc/elasticdl/pkg/model"
	"github.com/sorrycc/elasticdl/pkg/optimizer"
	"github.com/sorrycc/elasticdl/pkg/prometheus"
	"github.com/sorrycc/elasticdl/pkg/task"
	"github.com/sorrycc/elasticdl/pkg/tracing"
)

const (
	svcName = "master"
	pathEnv = ".env"

	stopTimeout = 10 * time.Second
)

type envConfig struct {
	LogLevel   string `env:"MASTER_LOG_LEVEL"  envDefault:"info"`
	InstanceID string `env:"MASTER_INSTANCE_ID"`
	HTTPHost   string `env:"MASTER_HTTP_HOST"  envDefault:"localhost"`
	HTTPPort   string `env:"MASTER_HTTP_PORT"  envDefault:"6001"`

	GradsToWait   int     `env:"MASTER_GRADS_TO_WAIT"  envDefault:"2"`
	MinibatchSize int     `env:"MASTER_MINIBATCH_SIZE" envDefault:"64"`
	LearningRate  float64 `env:"MASTER_LEARNING_RATE"  envDefault:"0.1"`
	Momentum      float64 `env:"MASTER_MOMENTUM"       envDefault:"0"`

	TrainingDataFile string `env:"MASTER_TRAINING_DATA_FILE"`
	NumRecords       int64  `env:"MASTER_NUM_RECORDS"      envDefault:"0"`
	RecordsPerTask   int64  `env:"MASTER_RECORDS_PER_TASK" envDefault:"100"`

	CheckpointDir     string `env:"MASTER_CHECKPOINT_DIR"      envDefault:"checkpoints"`
	CheckpointSteps   int64  `env:"MASTER_CHECKPOINT_STEPS"    envDefault:"0"`
	KeepCheckpointMax int    `env:"MASTER_KEEP_CHECKPOINT_MAX" envDefault:"3"`
	CheckpointForInit int64  `env:"MASTER_CHECKPOINT_FOR_INIT" envDefault:"0"`

	EvaluationSteps   int64  `env:"MASTER_EVALUATION_STEPS" envDefault:"0"`
	EmbeddingStoreURL string `env:"MASTER_EMBEDDING_STORE_URL"`

	OTELURL    url.URL `env:"MASTER_OTEL_URL"`
	TraceRatio float64 `env:"MASTER_TRACE_RATIO" envDefault:"0"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := tracing.NewProvider(ctx, svcName, cfg.OTELURL, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	checkpoints, err := checkpoint.NewStore(cfg.CheckpointDir, cfg.CheckpointSteps, cfg.KeepCheckpointMax)
	if err != nil {
		logger.Error("failed to initialize checkpoint store", slog.String("error", err.Error()))

		return
	}

	restoreVersion := cfg.CheckpointForInit
	if restoreVersion == 0 {
		// No explicit init version: resume from the latest checkpoint
		// left by a previous run, if any.
		if latest, err := checkpoints.LatestVersion(); err == nil {
			restoreVersion = latest
		}
	}

	mdl := model.New()
	if restoreVersion > 0 {
		snap, err := checkpoints.Load(restoreVersion)
		if err != nil {
			logger.Error("failed to restore model from checkpoint",
				slog.Int64("version", restoreVersion), slog.Any("error", err))

			return
		}
		mdl = model.NewFromSnapshot(snap)
		logger.Info("Restored model from checkpoint", slog.Int64("version", snap.Version))
	}

	queue := task.NewQueue(task.Shard(cfg.TrainingDataFile, cfg.NumRecords, cfg.RecordsPerTask)...)
	evaluations := evaluation.NewIntervalService(queue, cfg.EvaluationSteps)

	var embeddings embedding.Gateway = embedding.NewMemoryGateway()
	if cfg.EmbeddingStoreURL != "" {
		embeddings = embedding.NewHTTPGateway(cfg.EmbeddingStoreURL, nil)
	}

	var opt optimizer.Optimizer = optimizer.NewSGD(cfg.LearningRate)
	if cfg.Momentum > 0 {
		opt = optimizer.NewMomentum(cfg.LearningRate, cfg.Momentum)
	}

	svc := master.NewService(mdl, opt, queue, checkpoints, evaluations, embeddings,
		cfg.GradsToWait, cfg.MinibatchSize, logger)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	server := &http.Server{
		Addr:    cfg.HTTPHost + ":" + cfg.HTTPPort,
		Handler: api.MakeHandler(svc, logger, cfg.InstanceID),
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("%s service http server listening at %s", svcName, server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()

		return server.Shutdown(stopCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service terminated with error", svcName), slog.String("error", err.Error()))
	}
}
