package classifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/wardenlabs/llm-warden/internal/scoring"
)

// Stub is a classifier that reports every text as confidently safe. It lets
// the rest of the pipeline run in environments without the ML runtime; the
// L1 layer still detects on its own.
type Stub struct {
	logger *zap.Logger
}

// NewStub creates the neutral stub classifier.
func NewStub(logger *zap.Logger) *Stub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stub{logger: logger}
}

// Infer returns a fixed SAFE cascade output.
func (s *Stub) Infer(ctx context.Context, text string) (*scoring.ThreatScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &scoring.ThreatScore{
		Binary:    []float64{0.99, 0.01},
		Family:    map[string]float64{"benign": 1.0},
		SubFamily: map[string]float64{"benign": 1.0},
	}, nil
}

// Ready always reports true; the stub has nothing to initialize.
func (s *Stub) Ready() bool { return true }

// Close is a no-op.
func (s *Stub) Close() error { return nil }
