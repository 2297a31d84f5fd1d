package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pip-arch/url-compliance-checker/internal/admission"
	"github.com/pip-arch/url-compliance-checker/internal/batch"
	"github.com/pip-arch/url-compliance-checker/internal/breaker"
	"github.com/pip-arch/url-compliance-checker/internal/checkpoint"
	"github.com/pip-arch/url-compliance-checker/internal/config"
	collyfetcher "github.com/pip-arch/url-compliance-checker/internal/fetcher/colly"
	"github.com/pip-arch/url-compliance-checker/internal/monitor"
	"github.com/pip-arch/url-compliance-checker/internal/ops"
	"github.com/pip-arch/url-compliance-checker/internal/progress"
	"github.com/pip-arch/url-compliance-checker/internal/progress/sinks"
	"github.com/pip-arch/url-compliance-checker/internal/storage/postgres"
)

// newCheckCmd creates the 'check' subcommand, which runs one batch of URLs
// through the engine. Rerunning with the same batch ID resumes from the last
// checkpoint instead of starting over.
func newCheckCmd() *cobra.Command {
	var batchID string

	cmd := &cobra.Command{
		Use:   "check <urls-file>",
		Short: "Process a file of URLs as one resumable batch",
		Long: `Reads one URL per line from the given file and processes the list as a
single batch. Blank lines and lines starting with '#' are ignored. Progress
is checkpointed after every chunk; rerun with --batch-id to resume an
interrupted batch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchID == "" {
				batchID = uuid.NewString()
			}
			return runCheck(cmd.Context(), args[0], batchID)
		},
	}
	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch identifier; a random one is generated when omitted")
	return cmd
}

func runCheck(parent context.Context, urlsPath, batchID string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	urls, err := readURLFile(urlsPath)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs found in %s", urlsPath)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close(logger)

	if cfg.Ops.Port > 0 {
		srv := ops.New(eng.registry, logger)
		go func() {
			if err := srv.Run(ctx, fmt.Sprintf(":%d", cfg.Ops.Port)); err != nil {
				logger.Warn("ops server stopped", zap.Error(err))
			}
		}()
	}

	prog, err := eng.coordinator.ProcessBatch(ctx, batchID, urls)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("process batch %s: %w", batchID, err)
	}
	if prog != nil && errors.Is(err, context.Canceled) {
		logger.Info("batch interrupted, progress checkpointed",
			zap.String("batch_id", batchID),
			zap.Int("processed", prog.Processed),
			zap.Int("total", prog.TotalItems),
		)
	}
	return nil
}

// engine bundles the wired components so the command can tear them down in
// order after the run.
type engine struct {
	coordinator *batch.Coordinator
	circuit     *breaker.Breaker
	hub         *progress.Hub
	registry    *prometheus.Registry
	closers     []func()
}

// buildEngine wires every collaborator from configuration. The Postgres
// repository and the publish topic are optional; they join the progress hub
// only when configured.
func buildEngine(ctx context.Context, cfg config.Config, logger *zap.Logger) (*engine, error) {
	eng := &engine{registry: prometheus.NewRegistry()}

	promSink, err := sinks.NewPrometheusSink(eng.registry)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(logger), promSink}

	if cfg.DB.DSN != "" {
		repo, pool, err := postgres.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect status database: %w", err)
		}
		eng.closers = append(eng.closers, pool.Close)
		hubSinks = append(hubSinks, sinks.NewStoreSink(repo, logger))
	}
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		psSink, err := sinks.NewPubSubSink(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("init pubsub sink: %w", err)
		}
		hubSinks = append(hubSinks, psSink)
	}
	eng.hub = progress.NewHub(progress.Config{Logger: logger}, hubSinks...)

	store, err := buildCheckpointStore(ctx, cfg, eng)
	if err != nil {
		return nil, err
	}

	circuit, err := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout(),
		StatePath:        cfg.Breaker.StatePath,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init circuit breaker: %w", err)
	}
	eng.circuit = circuit

	admitter := admission.New(admission.Config{
		GlobalLimit:  cfg.Admission.GlobalLimit,
		PerHostLimit: cfg.Admission.PerHostLimit,
		HostCooldown: cfg.HostCooldown(),
	}, logger)

	resources := monitor.New(monitor.Config{
		WindowSize:        cfg.Resources.WindowSize,
		CPUAbortPct:       cfg.Resources.CPUAbortPct,
		MemAbortPct:       cfg.Resources.MemAbortPct,
		CPUHighPct:        cfg.Resources.CPUHighPct,
		MemHighPct:        cfg.Resources.MemHighPct,
		CPULowPct:         cfg.Resources.CPULowPct,
		MemLowPct:         cfg.Resources.MemLowPct,
		ReclaimMemPct:     cfg.Resources.ReclaimMemPct,
		ReclaimEveryItems: cfg.Resources.ReclaimEveryItems,
	}, monitor.SystemProbe{}, logger)

	processor := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetcher.UserAgent,
		Timeout:       cfg.FetcherTimeout(),
		RespectRobots: cfg.Fetcher.RespectRobots,
		PerDomainRPS:  cfg.Fetcher.PerDomainRPS,
		Burst:         cfg.Fetcher.Burst,
		BlockedTerms:  cfg.Fetcher.BlockedTerms,
	}, logger)

	eng.coordinator = batch.NewCoordinator(batch.CoordinatorConfig{
		ChunkSize:        cfg.Chunking.Size,
		ChunkMin:         cfg.Chunking.Min,
		ChunkMax:         cfg.Chunking.Max,
		ShrinkFactor:     cfg.Chunking.ShrinkFactor,
		GrowFactor:       cfg.Chunking.GrowFactor,
		FailureTolerance: cfg.Chunking.FailureTolerance,
	}, processor, admitter, circuit, resources, store, eng.hub, logger)

	return eng, nil
}

func buildCheckpointStore(ctx context.Context, cfg config.Config, eng *engine) (batch.CheckpointStore, error) {
	switch cfg.Checkpoint.Backend {
	case "gcs":
		store, err := checkpoint.NewGCSStore(ctx, checkpoint.GCSConfig{
			Bucket: cfg.Checkpoint.GCSBucket,
			Prefix: cfg.Checkpoint.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs checkpoint store: %w", err)
		}
		eng.closers = append(eng.closers, func() { _ = store.Close() })
		return store, nil
	default:
		store, err := checkpoint.NewFileStore(checkpoint.FileConfig{Dir: cfg.Checkpoint.Dir})
		if err != nil {
			return nil, fmt.Errorf("init file checkpoint store: %w", err)
		}
		return store, nil
	}
}

// close flushes breaker state, drains the progress hub, then releases the
// remaining resources in reverse order of construction.
func (e *engine) close(logger *zap.Logger) {
	if e.circuit != nil {
		e.circuit.Flush()
	}
	if e.hub != nil {
		if err := e.hub.Close(context.Background()); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// readURLFile loads one URL per line, skipping blanks and '#' comments.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}
