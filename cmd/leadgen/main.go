// Copyright 2025 AI Lead Generation System Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main implements the leadgen command line tool. It hosts the lead
// generation dashboard and runs one-shot research from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Fos938/lead-generator/internal/config"
	"github.com/Fos938/lead-generator/internal/export"
	"github.com/Fos938/lead-generator/internal/health"
	"github.com/Fos938/lead-generator/internal/history"
	"github.com/Fos938/lead-generator/internal/inference"
	"github.com/Fos938/lead-generator/internal/lead"
	"github.com/Fos938/lead-generator/internal/pipeline"
	"github.com/Fos938/lead-generator/internal/prompt"
	"github.com/Fos938/lead-generator/internal/server"
	"github.com/Fos938/lead-generator/internal/store"
	"github.com/Fos938/lead-generator/internal/task"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configPath string

	researchIndustry string
	researchLocation string
	researchCriteria string
	researchCount    int
	researchOutDir   string

	historyLimit int
)

var rootCmd = &cobra.Command{
	Use:          "leadgen",
	Short:        "AI lead generation: research, score, and reach out to local businesses",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lead generation dashboard server",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Run the research and qualification pipeline once and export a spreadsheet",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runResearch()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show summaries of recently completed runs",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runHistory()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the leadgen version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("leadgen %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	researchCmd.Flags().StringVarP(&researchIndustry, "industry", "i", "", "Industry to research")
	researchCmd.Flags().StringVarP(&researchLocation, "location", "l", "", "Location to search in")
	researchCmd.Flags().StringVar(&researchCriteria, "criteria", "", "Qualification criteria")
	researchCmd.Flags().IntVarP(&researchCount, "count", "n", 0, "Number of leads to research (3-10)")
	researchCmd.Flags().StringVarP(&researchOutDir, "output-dir", "o", "", "Directory for the spreadsheet")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")

	rootCmd.AddCommand(serveCmd, researchCmd, historyCmd, versionCmd)
}

func main() {
	// A .env file is optional; environment variables win either way
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initializeLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	client, err := inference.NewClient(inference.Config{
		APIKey:            cfg.Inference.APIKey,
		BaseURL:           cfg.Inference.Endpoint,
		Model:             cfg.Inference.Model,
		MaxAttempts:       cfg.Inference.MaxAttempts,
		RequestsPerSecond: cfg.Inference.RequestsPerSecond,
		Burst:             cfg.Inference.Burst,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create inference client: %w", err)
	}

	generator := pipeline.NewGenerator(client, generationOptions(cfg), logger)

	registry := store.NewRegistry(store.Config{
		MaxRuns:         cfg.Runs.MaxRuns,
		TTL:             cfg.Runs.TTL,
		CleanupInterval: cfg.Runs.CleanupInterval,
	}, logger)
	defer func() { _ = registry.Close() }()

	writer := export.NewWriter(cfg.Export.OutputDir, logger)

	healthManager := health.NewManager("lead-generator", Version, logger)
	healthManager.AddChecker("inference", health.InferenceHealthChecker(cfg.Inference.Endpoint, client.Healthcheck))
	healthManager.AddChecker("registry", health.RegistryHealthChecker(registry.Stats))

	var historyStore *history.Store
	var recorder task.Recorder
	if cfg.History.Enabled {
		historyStore, err = history.NewStore(cfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer func() { _ = historyStore.Close() }()
		recorder = historyStore
		healthManager.AddChecker("history", health.DatabaseHealthChecker("history", historyStore.Ping))
	}

	runner := task.NewRunner(generator, registry, writer, recorder, logger)
	defer runner.Close()

	srv := server.New(cfg, runner, registry, generator, historyStore, healthManager, logger)

	logger.Info("Starting lead generation server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("endpoint", cfg.Inference.Endpoint),
		zap.String("model", cfg.Inference.Model),
		zap.Bool("history_enabled", cfg.History.Enabled))

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
		<-errChan
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("Lead generation server stopped")
	return nil
}

func runResearch() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initializeLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	industry := cfg.Search.Industry
	if researchIndustry != "" {
		industry = researchIndustry
	}
	location := cfg.Search.Location
	if researchLocation != "" {
		location = researchLocation
	}
	criteria := cfg.Search.Criteria
	if researchCriteria != "" {
		criteria = researchCriteria
	}
	count := cfg.Search.NumLeads
	if researchCount != 0 {
		count = researchCount
	}
	count = pipeline.ClampLeadCount(count)
	outputDir := cfg.Export.OutputDir
	if researchOutDir != "" {
		outputDir = researchOutDir
	}

	client, err := inference.NewClient(inference.Config{
		APIKey:            cfg.Inference.APIKey,
		BaseURL:           cfg.Inference.Endpoint,
		Model:             cfg.Inference.Model,
		MaxAttempts:       cfg.Inference.MaxAttempts,
		RequestsPerSecond: cfg.Inference.RequestsPerSecond,
		Burst:             cfg.Inference.Burst,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create inference client: %w", err)
	}

	generator := pipeline.NewGenerator(client, generationOptions(cfg), logger)
	writer := export.NewWriter(outputDir, logger)

	ctx := context.Background()

	fmt.Printf("Researching %d %s in %s...\n", count, industry, location)
	research := generator.Research(ctx, industry, location, count)
	if research.Warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", research.Warning)
	}

	fmt.Println("Analyzing and scoring leads...")
	qualified := generator.Qualify(ctx, research.Leads, criteria)
	if qualified.Warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", qualified.Warning)
	}

	if len(qualified.Leads) == 0 {
		return fmt.Errorf("no qualified leads produced")
	}

	result, err := writer.Write(ctx, qualified.Leads)
	if err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}

	tallies := lead.CountByClassification(qualified.Leads)
	fmt.Printf("\nQualified %d leads (%d high value, %d medium, %d low):\n",
		len(qualified.Leads),
		tallies[lead.ClassificationHigh],
		tallies[lead.ClassificationMedium],
		tallies[lead.ClassificationLow])
	for _, l := range qualified.Leads {
		fmt.Printf("  %.1f  %-14s %s\n", l.ScoreValue(), l.Classification, l.BusinessName)
	}
	fmt.Printf("\nSaved %s (%s)\n", result.Path, result.SizeHuman)

	return nil
}

func runHistory() error {
	// The history command reads a local database and never calls the
	// completion API, so a missing key should not block it
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		ConfigPath:       configPath,
		ValidateRequired: false,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if !cfg.History.Enabled {
		return fmt.Errorf("run history is disabled in configuration")
	}

	logger, err := initializeLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	historyStore, err := history.NewStore(cfg.History.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer func() { _ = historyStore.Close() }()

	summaries, err := historyStore.Recent(context.Background(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}

	if len(summaries) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	for _, s := range summaries {
		fmt.Printf("%s  %-24s %-28s %2d qualified (%d high, %d medium, %d low)",
			s.CompletedAt.Local().Format("2006-01-02 15:04"),
			s.Industry, s.Location,
			s.QualifiedLeads, s.HighValue, s.MediumValue, s.LowValue)
		if s.ExportFilename != "" {
			fmt.Printf("  %s", s.ExportFilename)
		}
		fmt.Println()
	}

	return nil
}

func generationOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		ResearchTemperature: cfg.Generation.ResearchTemperature,
		ResearchMaxTokens:   cfg.Generation.ResearchMaxTokens,
		OutreachTemperature: cfg.Generation.OutreachTemperature,
		OutreachMaxTokens:   cfg.Generation.OutreachMaxTokens,
		Profile: prompt.Profile{
			Services:       cfg.Profile.Services,
			Locations:      cfg.Profile.Locations,
			TargetAccounts: cfg.Profile.TargetAccounts,
		},
	}
}

// initializeLogger creates a logger based on configuration settings
func initializeLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.Logging.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Set log level
	switch cfg.Logging.Level {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info":
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	// Set output destination
	if cfg.Logging.Output == "file" {
		zapConfig.OutputPaths = []string{"leadgen.log"}
		zapConfig.ErrorOutputPaths = []string{"leadgen.log"}
	} else {
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	return zapConfig.Build()
}
