// Package classifier abstracts the statistical threat classifier behind a
// small interface. The engine treats it as a black box that returns cascade
// probabilities; inference runtime, weights and training are external.
package classifier

import (
	"context"

	"github.com/wardenlabs/llm-warden/internal/scoring"
)

// Classifier is the L2 inference contract. Implementations must be safe for
// concurrent calls and respect the context deadline.
type Classifier interface {
	// Infer returns the cascade probabilities for text.
	Infer(ctx context.Context, text string) (*scoring.ThreatScore, error)
	// Ready reports whether the backend is initialized and usable.
	Ready() bool
	// Close releases any native resources.
	Close() error
}

// Backend selects a classifier implementation.
type Backend string

const (
	// BackendStub returns a neutral SAFE score; for environments without the
	// ML dependency.
	BackendStub Backend = "stub"
	// BackendONNX runs the cascade model via ONNX Runtime. Requires the
	// 'onnx' build tag.
	BackendONNX Backend = "onnx"
)

// Config selects and configures the classifier backend.
type Config struct {
	Backend   Backend `yaml:"backend" mapstructure:"backend"`
	ModelPath string  `yaml:"model_path" mapstructure:"model_path"`
	MaxLength int     `yaml:"max_length" mapstructure:"max_length"`
}
