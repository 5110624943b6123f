package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	atlasruntime "github.com/companyatlas/atlas/internal/runtime"
	"github.com/companyatlas/atlas/pkg/config"
	"github.com/companyatlas/atlas/pkg/logger"
	"github.com/companyatlas/atlas/pkg/models"
	"github.com/companyatlas/atlas/pkg/observability"
	"github.com/companyatlas/atlas/pkg/quality"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile string
	var logLevel string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "atlas",
		Short: "Atlas - multi-source company entity-resolution pipeline",
		Long: `Atlas unifies company records from multiple feeds into one deduplicated,
validated table. Records flow through raw, bronze, and marts layers, each
behind a quality gate, and publish atomically so readers never see a
half-built table.`,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to pipeline config YAML (defaults apply when omitted)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "run timeout")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Atlas v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "rules",
		Short: "Print the default quality rule sets as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rules []quality.Rule
			for _, layer := range []models.Layer{models.LayerRaw, models.LayerBronze, models.LayerMarts} {
				rules = append(rules, quality.DefaultRules(layer)...)
			}
			out, err := json.MarshalIndent(rules, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run and wait for completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd.Context(), configFile, logLevel, timeout)
		},
	}
	root.AddCommand(runCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pipeline configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("--config is required")
			}
			if _, err := config.Load(configFile); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}
	root.AddCommand(validateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func executeRun(ctx context.Context, configFile, logLevel string, timeout time.Duration) error {
	if err := logger.Init(logger.Config{Level: logLevel}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := observability.Init(observability.DefaultConfig()); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = observability.Shutdown(shutdownCtx)
	}()

	cfg := config.DefaultPipelineConfig()
	if configFile != "" {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sources, err := atlasruntime.BuildSources(cfg, log)
	if err != nil {
		return err
	}
	publisher, err := atlasruntime.BuildPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	exporter, err := atlasruntime.BuildExporter(ctx, cfg, log)
	if err != nil {
		return err
	}

	orchestrator, err := atlasruntime.NewOrchestrator(cfg, sources, publisher, exporter, log)
	if err != nil {
		return err
	}

	runID, err := orchestrator.StartRun(ctx)
	if err != nil {
		return err
	}
	log.Info("run triggered", zap.String("run_id", runID))

	snapshot, err := orchestrator.Wait(ctx, runID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if snapshot.Status != atlasruntime.RunSucceeded {
		return fmt.Errorf("run %s finished with status %s", runID, snapshot.Status)
	}
	return nil
}
