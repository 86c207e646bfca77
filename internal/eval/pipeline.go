// Package eval replays labeled datasets through the scan engine offline and
// reports precision, recall, and latency. Used to validate rule pack and
// threshold changes before rollout.
package eval

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/wardenlabs/llm-warden/internal/scan"
)

// Pipeline replays dataset records through a scan engine
type Pipeline struct {
	engine *scan.Engine
	config *Config
	logger *zap.Logger
}

// NewPipeline creates a new evaluation pipeline
func NewPipeline(engine *scan.Engine, config *Config, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pipeline{
		engine: engine,
		config: config,
		logger: logger,
	}
}

// ProcessFile evaluates a dataset file (CSV, Parquet, or JSON)
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*Report, error) {
	p.logger.Info("Starting evaluation",
		zap.String("file", filePath),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	start := time.Now()
	report := &Report{ByLabelText: make(map[string]*CategoryStats)}
	var latencies []float64

	// Detect file format
	format := DetectFileFormat(filePath)
	p.logger.Info("Detected file format", zap.String("format", string(format)))

	var err error
	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, filePath, report, &latencies)
	case FormatParquet:
		err = p.processParquet(ctx, filePath, report, &latencies)
	case FormatJSON:
		err = p.processJSON(ctx, filePath, report, &latencies)
	default:
		return report, fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return report, fmt.Errorf("%s processing failed: %w", format, err)
	}

	report.Duration = time.Since(start)
	finalizeReport(report, latencies)

	p.logger.Info("Evaluation completed",
		zap.Int64("total_records", report.TotalRecords),
		zap.Int64("scan_failures", report.ScanFailures),
		zap.Float64("precision", report.Precision),
		zap.Float64("recall", report.Recall),
		zap.Float64("f1", report.F1),
		zap.Float64("p95_latency_ms", report.P95LatencyMS),
		zap.Duration("total_duration", report.Duration))

	return report, nil
}

// processCSV evaluates CSV files
func (p *Pipeline) processCSV(ctx context.Context, filePath string, report *Report, latencies *[]float64) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 3 // text, label_text, label

	// Read header
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	p.logger.Info("CSV header detected", zap.Strings("columns", header))

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				continue
			}
			if len(record) != 3 {
				p.logger.Warn("Invalid CSV record length", zap.Int("length", len(record)))
				continue
			}

			var label int
			if record[2] == "1" || strings.ToLower(record[2]) == "true" {
				label = 1
			}

			dataRecord := &DataRecord{
				Text:      strings.TrimSpace(record[0]),
				LabelText: strings.TrimSpace(record[1]),
				Label:     label,
			}
			if p.validateRecord(dataRecord) {
				batch = append(batch, dataRecord)
			}
		}
		return batch, nil
	}, report, latencies)
}

// processParquet evaluates Parquet files
func (p *Pipeline) processParquet(ctx context.Context, filePath string, report *Report, latencies *[]float64) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read Parquet record", zap.Error(err))
				continue
			}
			if p.validateRecord(&record) {
				batch = append(batch, &record)
			}
		}
		return batch, nil
	}, report, latencies)
}

// processJSON evaluates JSON files (one JSON object per line)
func (p *Pipeline) processJSON(ctx context.Context, filePath string, report *Report, latencies *[]float64) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read JSON record", zap.Error(err))
				continue
			}
			if p.validateRecord(&record) {
				batch = append(batch, &record)
			}
		}
		return batch, nil
	}, report, latencies)
}

// processBatches reads batches and fans each one out over the worker pool
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*DataRecord, error), report *Report, latencies *[]float64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break // End of file
		}

		p.evaluateBatch(ctx, batch, report, latencies)

		if p.config.ProgressReport > 0 && report.TotalRecords%int64(p.config.ProgressReport) == 0 {
			p.logger.Info("Evaluation progress",
				zap.Int64("records_processed", report.TotalRecords),
				zap.Int64("scan_failures", report.ScanFailures))
		}
	}
	return nil
}

type outcome struct {
	record    *DataRecord
	flagged   bool
	latencyMS float64
	err       error
}

// evaluateBatch scans one batch concurrently and folds outcomes into the
// report. Report mutation happens only here, after all workers join.
func (p *Pipeline) evaluateBatch(ctx context.Context, batch []*DataRecord, report *Report, latencies *[]float64) {
	workers := p.config.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan *DataRecord)
	outcomes := make([]outcome, 0, len(batch))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				o := p.scanRecord(ctx, record)
				mu.Lock()
				outcomes = append(outcomes, o)
				mu.Unlock()
			}
		}()
	}

	for _, record := range batch {
		jobs <- record
	}
	close(jobs)
	wg.Wait()

	for _, o := range outcomes {
		report.TotalRecords++
		if o.err != nil {
			report.ScanFailures++
			if len(report.Errors) < 20 {
				report.Errors = append(report.Errors, o.err.Error())
			}
			continue
		}
		report.ProcessedOK++
		*latencies = append(*latencies, o.latencyMS)

		stats := report.ByLabelText[o.record.LabelText]
		if stats == nil {
			stats = &CategoryStats{}
			report.ByLabelText[o.record.LabelText] = stats
		}
		stats.Total++

		switch {
		case o.record.Label == 1 && o.flagged:
			report.TruePositives++
			stats.Flagged++
		case o.record.Label == 1 && !o.flagged:
			report.FalseNegatives++
			stats.Missed++
		case o.record.Label == 0 && o.flagged:
			report.FalsePositives++
			stats.Flagged++
		default:
			report.TrueNegatives++
		}
	}
}

// scanRecord runs one record through the engine
func (p *Pipeline) scanRecord(ctx context.Context, record *DataRecord) outcome {
	opts := scan.DefaultOptions()
	opts.Mode = scan.Mode(p.config.Mode)
	opts.TenantID = p.config.TenantID

	result, err := p.engine.Scan(ctx, record.Text, opts)
	if err != nil {
		return outcome{record: record, err: err}
	}
	return outcome{
		record:    record,
		flagged:   result.HasThreats,
		latencyMS: result.DurationMS,
	}
}

// validateRecord validates a data record
func (p *Pipeline) validateRecord(record *DataRecord) bool {
	if !p.config.ValidateData {
		return true
	}

	if strings.TrimSpace(record.Text) == "" {
		p.logger.Debug("Invalid record: empty text")
		return false
	}

	if record.Label != 0 && record.Label != 1 {
		p.logger.Debug("Invalid record: invalid label", zap.Int("label", record.Label))
		return false
	}

	if p.config.MaxTextLength > 0 && len(record.Text) > p.config.MaxTextLength {
		p.logger.Debug("Invalid record: text too long", zap.Int("length", len(record.Text)))
		return false
	}

	return true
}

// finalizeReport computes the derived metrics
func finalizeReport(report *Report, latencies []float64) {
	if report.TruePositives+report.FalsePositives > 0 {
		report.Precision = float64(report.TruePositives) / float64(report.TruePositives+report.FalsePositives)
	}
	if report.TruePositives+report.FalseNegatives > 0 {
		report.Recall = float64(report.TruePositives) / float64(report.TruePositives+report.FalseNegatives)
	}
	if report.Precision+report.Recall > 0 {
		report.F1 = 2 * report.Precision * report.Recall / (report.Precision + report.Recall)
	}

	if len(latencies) == 0 {
		return
	}
	sort.Float64s(latencies)
	var sum float64
	for _, l := range latencies {
		sum += l
	}
	report.AvgLatencyMS = sum / float64(len(latencies))
	report.P95LatencyMS = percentile(latencies, 0.95)
	report.P99LatencyMS = percentile(latencies, 0.99)
}

// percentile expects sorted input
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
