// Package app wires configuration, storage, the embedding provider and the
// pipeline services into one runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lorekeep/lorekeep/internal/chat"
	"github.com/lorekeep/lorekeep/internal/chunk"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/crawler"
	"github.com/lorekeep/lorekeep/internal/database"
	"github.com/lorekeep/lorekeep/internal/embedding"
	"github.com/lorekeep/lorekeep/internal/metrics"
	"github.com/lorekeep/lorekeep/internal/queue"
	"github.com/lorekeep/lorekeep/internal/retrieval"
	"github.com/lorekeep/lorekeep/internal/store"
	"github.com/lorekeep/lorekeep/internal/training"
	"github.com/lorekeep/lorekeep/internal/vector"
)

// App holds the wired application.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool   *pgxpool.Pool
	Genkit *genkit.Genkit

	Jobs  *store.CrawlJobStore
	Pages *store.PageStore
	Qna   *store.QnaStore
	Text  *store.TextStore

	Queue    *queue.Queue
	Crawler  *crawler.Service
	Training *training.Service
	Composer *retrieval.Composer
	Chat     *chat.Service

	metrics  *metrics.Metrics
	registry *prometheus.Registry
	workers  []*queue.Worker
}

// Setup creates and wires the application. Call Close to release resources.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	pool, err := database.Open(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.Pool = pool

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())
	a.metrics = metrics.New(a.registry)

	a.Genkit = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	embedder := googlegenai.GoogleAIEmbedder(a.Genkit, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder model %q not found", cfg.EmbedderModel)
	}
	embedClient := embedding.NewClient(embedder, logger)

	a.Jobs = store.NewCrawlJobStore(pool, logger)
	a.Pages = store.NewPageStore(pool, logger)
	a.Qna = store.NewQnaStore(pool, logger)
	a.Text = store.NewTextStore(pool, logger)

	a.Queue = queue.New(pool, queue.Config{
		MaxAttempts:  cfg.QueueMaxAttempts,
		BackoffBase:  cfg.QueueBackoffBase,
		LeaseTimeout: cfg.QueueLeaseTimeout,
	}, logger)

	splitter := chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	vectors := vector.New(vector.NewPGQuerier(pool), embedClient, splitter, a.metrics, logger)

	a.Training = training.NewService(a.Qna, a.Text, a.Pages, vectors, a.Queue, a.metrics, logger)

	fetcher := crawler.NewFetcher(crawler.FetcherConfig{
		UserAgent:  cfg.CrawlerUserAgent,
		Timeout:    cfg.CrawlerTimeout,
		RatePerSec: cfg.CrawlerRatePerSec,
	}, logger)
	engine := crawler.NewEngine(fetcher, a.Jobs, a.Pages, cfg.CrawlerCheckEvery, a.metrics, logger)
	a.Crawler = crawler.NewService(a.Jobs, a.Pages, engine, a.Queue, a.Training, a.metrics, logger)

	a.Composer = retrieval.NewComposer(vectors, cfg.RetrievalTopK, cfg.RelevanceFloor, a.metrics, logger)
	generator := chat.NewGenkitGenerator(a.Genkit, cfg.GenerationModel, float64(cfg.Temperature))
	a.Chat = chat.NewService(a.Composer, generator, logger)

	workers := cfg.QueueWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w := queue.NewWorker(a.Queue, cfg.QueuePollInterval, a.metrics, logger.With("worker", i))
		w.Register(queue.QueueCrawl, a.Crawler.HandleCrawlJob)
		w.Register(queue.QueueTraining, a.Training.HandleTrainingJob)
		a.workers = append(a.workers, w)
	}

	return a, nil
}

// Run starts the queue workers and the metrics endpoint, blocking until ctx
// is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for _, w := range a.workers {
		group.Go(func() error { return w.Run(ctx) })
	}

	if a.Config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: a.Config.MetricsAddr, Handler: mux}

		group.Go(func() error {
			a.Logger.Info("metrics endpoint listening", "addr", a.Config.MetricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return group.Wait()
}

// Close releases held resources. Safe on a partially initialized App.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
