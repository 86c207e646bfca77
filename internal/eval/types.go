package eval

import (
	"time"
)

// DataRecord represents a single labeled sample from the input dataset
type DataRecord struct {
	Text      string `csv:"text" parquet:"text" json:"text"`
	LabelText string `csv:"label_text" parquet:"label_text" json:"label_text"`
	Label     int    `csv:"label" parquet:"label" json:"label"`
}

// Report represents the result of evaluating a dataset against the engine
type Report struct {
	TotalRecords   int64         `json:"total_records"`
	ProcessedOK    int64         `json:"processed_ok"`
	ScanFailures   int64         `json:"scan_failures"`
	TruePositives  int64         `json:"true_positives"`
	FalsePositives int64         `json:"false_positives"`
	TrueNegatives  int64         `json:"true_negatives"`
	FalseNegatives int64         `json:"false_negatives"`
	Precision      float64       `json:"precision"`
	Recall         float64       `json:"recall"`
	F1             float64       `json:"f1"`
	Duration       time.Duration `json:"duration"`
	AvgLatencyMS   float64       `json:"avg_latency_ms"`
	P95LatencyMS   float64       `json:"p95_latency_ms"`
	P99LatencyMS   float64       `json:"p99_latency_ms"`
	// ByLabelText breaks misclassifications down per attack category.
	ByLabelText map[string]*CategoryStats `json:"by_label_text,omitempty"`
	Errors      []string                  `json:"errors,omitempty"`
}

// CategoryStats aggregates outcomes for one label_text category
type CategoryStats struct {
	Total   int64 `json:"total"`
	Flagged int64 `json:"flagged"`
	Missed  int64 `json:"missed"`
}

// Config contains evaluation pipeline configuration
type Config struct {
	BatchSize      int       `yaml:"batch_size" mapstructure:"batch_size"`           // 1000
	WorkerCount    int       `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	ValidateData   bool      `yaml:"validate_data" mapstructure:"validate_data"`     // true
	ProgressReport int       `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	Mode           string    `yaml:"mode" mapstructure:"mode"`                       // fast, balanced, thorough
	TenantID       string    `yaml:"tenant_id" mapstructure:"tenant_id"`
	MaxTextLength  int       `yaml:"max_text_length" mapstructure:"max_text_length"` // 10000
}

// DefaultConfig returns the evaluation defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      1000,
		WorkerCount:    4,
		ValidateData:   true,
		ProgressReport: 1000,
		Mode:           "balanced",
		MaxTextLength:  10000,
	}
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch {
	case len(filename) >= 4 && filename[len(filename)-4:] == ".csv":
		return FormatCSV
	case len(filename) >= 8 && filename[len(filename)-8:] == ".parquet":
		return FormatParquet
	case len(filename) >= 5 && filename[len(filename)-5:] == ".json":
		return FormatJSON
	default:
		return FormatCSV // Default to CSV
	}
}
