// Command aegis-migrate re-embeds every indexed chunk into a fresh vector
// collection and swaps it in, a checkpointed one-shot operator tool for
// changing the appliance's embedding model. Search through the collection
// name is unavailable for the moment between deleting the old collection
// and creating the alias.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/aegis/pkg/config"
	"github.com/cuemby/aegis/pkg/embedclient"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/migration"
	"github.com/cuemby/aegis/pkg/store"
	"github.com/cuemby/aegis/pkg/vectorstore"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	configPath     string
	dryRun         bool
	resume         bool
	skipSwap       bool
	swapOnly       bool
	spacesOnly     bool
	checkpointPath string
	batchSize      int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "aegis-migrate",
	Short:   "aegis-migrate re-embeds indexed chunks into a new vector collection",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("aegis-migrate version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().StringVar(&configPath, "config", "", "Optional YAML defaults file")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be migrated without writing any vectors")
	rootCmd.Flags().BoolVar(&resume, "resume", false, "Resume from the last saved checkpoint")
	rootCmd.Flags().BoolVar(&skipSwap, "skip-swap", false, "Populate the new collection but do not swap it in")
	rootCmd.Flags().BoolVar(&swapOnly, "swap-only", false, "Only swap an already-populated new collection in, skip re-embedding")
	rootCmd.Flags().BoolVar(&spacesOnly, "spaces-only", false, "Skip chunk re-embedding and the swap; this schema has no space-scoped tables, so nothing is migrated")
	rootCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "Checkpoint file path (default: <data-dir>/migration_checkpoint.json)")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", 64, "Number of chunks re-embedded per batch")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func run(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("migrate")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if checkpointPath == "" {
		checkpointPath = cfg.DataDir + "/migration_checkpoint.json"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	vectors := vectorstore.New(cfg.VectorStoreURL)
	embed := embedclient.NewClient(cfg.EmbeddingURL, 10, cfg.EmbeddingVectorSize)

	migrator := migration.New(st, vectors, embed, cfg.QdrantCollectionName, cfg.EmbeddingVectorSize, batchSize)

	logger.Info().
		Bool("dry_run", dryRun).
		Bool("resume", resume).
		Bool("skip_swap", skipSwap).
		Bool("swap_only", swapOnly).
		Bool("spaces_only", spacesOnly).
		Str("checkpoint", checkpointPath).
		Msg("starting embedding migration")

	if err := migrator.Run(ctx, migration.Options{
		DryRun:         dryRun,
		Resume:         resume,
		SkipSwap:       skipSwap,
		SwapOnly:       swapOnly,
		SpacesOnly:     spacesOnly,
		CheckpointPath: checkpointPath,
	}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	logger.Info().Msg("migration completed")
	return nil
}
