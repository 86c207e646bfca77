package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"github.com/wardenlabs/llm-warden/internal/classifier"
	"github.com/wardenlabs/llm-warden/internal/config"
	"github.com/wardenlabs/llm-warden/internal/eval"
	"github.com/wardenlabs/llm-warden/internal/logger"
	"github.com/wardenlabs/llm-warden/internal/rules"
	"github.com/wardenlabs/llm-warden/internal/scan"
	"github.com/wardenlabs/llm-warden/internal/store"
	"github.com/wardenlabs/llm-warden/internal/tenant"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON)")
		batchSize  = flag.Int("batch-size", 1000, "Batch size for processing")
		workers    = flag.Int("workers", 4, "Number of worker goroutines")
		mode       = flag.String("mode", "balanced", "Scan mode (fast, balanced, thorough)")
		tenantID   = flag.String("tenant", "", "Tenant id to resolve policy against")
		jsonOut    = flag.Bool("json", false, "Print the report as JSON")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input dataset.csv --batch-size 500\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input dataset.parquet --workers 8 --mode thorough\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting LLM-Warden evaluation",
		zap.String("input", *inputFile),
		zap.String("mode", *mode))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling evaluation...")
		cancel()
	}()

	// Check if file exists
	if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
		log.Fatal("Input file does not exist", zap.String("file", *inputFile))
	}

	engine, err := buildEngine(cfg, log)
	if err != nil {
		log.Fatal("Failed to build scan engine", zap.Error(err))
	}

	evalConfig := eval.DefaultConfig()
	evalConfig.BatchSize = *batchSize
	evalConfig.WorkerCount = *workers
	evalConfig.Mode = *mode
	evalConfig.TenantID = *tenantID

	pipeline := eval.NewPipeline(engine, evalConfig, log.Logger)
	report, err := pipeline.ProcessFile(ctx, *inputFile)
	if err != nil {
		log.Fatal("Evaluation failed", zap.Error(err))
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		return
	}
	printReport(report)
}

// buildEngine wires an offline engine: in-memory policy store, the shipped
// rule pack, and the configured classifier backend.
func buildEngine(cfg *config.Config, log *logger.Logger) (*scan.Engine, error) {
	clf, err := classifier.New(cfg.Classifier, log.WithComponent("classifier").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}

	mem := store.NewMemory()
	resolver := tenant.NewResolver(mem, log.WithComponent("tenant").Logger)

	return scan.NewEngine(
		cfg.Engine,
		rules.DefaultRules(),
		clf,
		resolver,
		mem,
		mem,
		log.WithComponent("scan").Logger,
	)
}

// printReport renders a human-readable summary
func printReport(report *eval.Report) {
	fmt.Printf("\n=== LLM-Warden Evaluation Report ===\n")
	fmt.Printf("Total Records:      %d\n", report.TotalRecords)
	fmt.Printf("Scan Failures:      %d\n", report.ScanFailures)
	fmt.Printf("True Positives:     %d\n", report.TruePositives)
	fmt.Printf("False Positives:    %d\n", report.FalsePositives)
	fmt.Printf("True Negatives:     %d\n", report.TrueNegatives)
	fmt.Printf("False Negatives:    %d\n", report.FalseNegatives)
	fmt.Printf("Precision:          %.4f\n", report.Precision)
	fmt.Printf("Recall:             %.4f\n", report.Recall)
	fmt.Printf("F1 Score:           %.4f\n", report.F1)
	fmt.Printf("Avg Latency:        %.2f ms\n", report.AvgLatencyMS)
	fmt.Printf("P95 Latency:        %.2f ms\n", report.P95LatencyMS)
	fmt.Printf("P99 Latency:        %.2f ms\n", report.P99LatencyMS)
	fmt.Printf("Duration:           %v\n", report.Duration)

	if len(report.ByLabelText) > 0 {
		fmt.Printf("\n=== By Category ===\n")
		categories := make([]string, 0, len(report.ByLabelText))
		for name := range report.ByLabelText {
			categories = append(categories, name)
		}
		sort.Strings(categories)
		for _, name := range categories {
			stats := report.ByLabelText[name]
			fmt.Printf("%-30s total=%d flagged=%d missed=%d\n",
				name, stats.Total, stats.Flagged, stats.Missed)
		}
	}

	if len(report.Errors) > 0 {
		fmt.Printf("\n=== Errors (first %d) ===\n", len(report.Errors))
		for _, e := range report.Errors {
			fmt.Printf("- %s\n", e)
		}
	}
}
