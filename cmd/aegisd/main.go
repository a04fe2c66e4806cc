// Command aegisd is the appliance's supervisor daemon: it runs the
// self-healing control loop, the telemetry sampler and persister, the
// document ingest pipeline and its periodic bucket scanner, and the HTTP
// façade, all as independently supervised goroutines under one process.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/aegis/pkg/bm25"
	"github.com/cuemby/aegis/pkg/config"
	"github.com/cuemby/aegis/pkg/dedupcache"
	"github.com/cuemby/aegis/pkg/embedclient"
	"github.com/cuemby/aegis/pkg/gpuhealth"
	"github.com/cuemby/aegis/pkg/httpapi"
	"github.com/cuemby/aegis/pkg/indexwriter"
	"github.com/cuemby/aegis/pkg/ingest"
	"github.com/cuemby/aegis/pkg/inspector"
	"github.com/cuemby/aegis/pkg/llmclient"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/metrics"
	"github.com/cuemby/aegis/pkg/notify"
	"github.com/cuemby/aegis/pkg/objectstore"
	"github.com/cuemby/aegis/pkg/reboot"
	"github.com/cuemby/aegis/pkg/recovery"
	"github.com/cuemby/aegis/pkg/runtime"
	"github.com/cuemby/aegis/pkg/store"
	"github.com/cuemby/aegis/pkg/supervisor"
	"github.com/cuemby/aegis/pkg/telemetry"
	"github.com/cuemby/aegis/pkg/vectorstore"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "aegisd",
	Short:   "aegisd runs the appliance's supervisor, telemetry, and document indexing services",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("aegisd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	rootCmd.Flags().StringVar(&configPath, "config", "", "Optional YAML defaults file")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func run(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.SetVersion(Version)

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		metrics.RegisterComponent("database", false, err.Error())
		return fmt.Errorf("apply schema migrations: %w", err)
	}
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		metrics.RegisterComponent("database", false, err.Error())
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	metrics.RegisterComponent("database", true, "")

	containers, err := runtime.NewManager("")
	if err != nil {
		metrics.RegisterComponent("containerd", false, err.Error())
		return fmt.Errorf("connect to containerd: %w", err)
	}
	defer containers.Close()
	metrics.RegisterComponent("containerd", true, "")

	objects, err := objectstore.New(ctx, cfg.ObjectStoreEndpoint, "", "", cfg.ObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("connect to object store: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure object store bucket: %w", err)
	}

	vectors := vectorstore.New(cfg.VectorStoreURL)
	metrics.RegisterComponent("vectorstore", true, "")
	embed := embedclient.NewClient(cfg.EmbeddingURL, 10, cfg.EmbeddingVectorSize)
	localLLM := llmclient.NewLocalClient(cfg.LLMServiceURL)
	var anthropic *llmclient.AnthropicClient
	if cfg.AnthropicAPIKey != "" {
		anthropic = llmclient.NewAnthropicClient(cfg.AnthropicAPIKey)
	}

	bm25Index := bm25.New(cfg.BM25IndexPath)
	writer := indexwriter.New(st, vectors, embed, bm25Index, cfg.QdrantCollectionName)
	dedup := dedupcache.New(cfg.RedisAddr)

	pipeline := ingest.New(st, objects, dedup, writer, vectors, embed, localLLM, anthropic, cfg.QdrantCollectionName, ingest.Config{
		MaxFileSize:         int64(cfg.DocumentMaxSizeMB) * 1024 * 1024,
		ParentChunkSize:     cfg.DocumentIndexerParentChunk,
		ChildChunkSize:      cfg.DocumentIndexerChildChunk,
		ChildChunkOverlap:   cfg.DocumentIndexerChildOverlap,
		EnableAIAnalysis:    true,
		EnableSimilarity:    true,
		SimilarityThreshold: 0.7,
		SimilarityTopK:      5,
		MaxKeywords:         10,
	})
	scanner := ingest.NewScanner(pipeline, objects)

	insp := inspector.New(containers.Client, st, nil)
	gpuMonitor := gpuhealth.NewMonitor()
	gpuRecoverer := gpuhealth.NewRecoverer(cfg.LLMServiceURL)
	sampler := telemetry.NewSampler(gpuMonitor)
	persister := telemetry.NewPersister(st, sampler)
	notifier := notify.New(cfg.SlackWebhookURL)
	gate := reboot.NewGate(st, cfg.SelfHealingRebootEnabled)

	exec := recovery.New(st, containers, gpuRecoverer, containers, inspector.CriticalUnits, func(ctx context.Context, reason string) error {
		return gate.Reboot(ctx, reason, sampler.Latest().DiskPercent, map[string]any{"reason": reason})
	})

	heartbeat := supervisor.NewHeartbeat(cfg.HeartbeatPath)
	loop := supervisor.NewLoop(st, insp, exec, sampler, gate, notifier, heartbeat,
		cfg.SelfHealingEnabled,
		time.Duration(cfg.SelfHealingInterval)*time.Second,
		supervisor.DiskTiers{
			WarningPercent:  cfg.DiskWarningPercent,
			CleanupPercent:  cfg.DiskCleanupPercent,
			CriticalPercent: cfg.DiskCriticalPercent,
			RebootPercent:   cfg.DiskRebootPercent,
		},
	)

	validator := reboot.NewValidator(st, insp)
	if err := validator.Run(ctx, func() float64 { return sampler.Latest().CPUPercent }); err != nil {
		logger.Warn().Err(err).Msg("post-reboot validation reported issues")
	}

	healthServer := supervisor.NewServer(cfg.HeartbeatPath)
	apiServer := httpapi.New(st, sampler, bm25Index, writer, objects, scanner)

	go sampler.Run(ctx, time.Duration(cfg.MetricsIntervalLive)*time.Second, 6)
	go persister.Run(ctx, time.Duration(cfg.MetricsIntervalPersist)*time.Second, supervisor.PeriodicCleanupEvery, supervisor.LedgerRetention)
	go loop.Run(ctx)
	go scanner.Run(ctx, time.Duration(cfg.DocumentIndexerInterval)*time.Second)

	go func() {
		logger.Info().Int("port", cfg.HeartbeatPort).Msg("starting heartbeat/health server")
		if err := healthServer.Start(fmt.Sprintf(":%d", cfg.HeartbeatPort)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("heartbeat server stopped")
		}
	}()

	go func() {
		logger.Info().Int("port", cfg.APIPort).Msg("starting http api server")
		if err := apiServer.Start(fmt.Sprintf(":%d", cfg.APIPort)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http api server stopped")
		}
	}()

	logger.Info().Msg("aegisd started")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}
