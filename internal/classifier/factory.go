package classifier

import (
	"fmt"

	"go.uber.org/zap"
)

// New creates the configured classifier backend. An unavailable ONNX backend
// is a construction failure, not a silent stub fallback: whoever configured
// L2 inference needs to know it is not running.
func New(cfg Config, logger *zap.Logger) (Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "", BackendStub:
		logger.Info("Created stub classifier (L2 scoring neutral)")
		return NewStub(logger), nil
	case BackendONNX:
		c := newONNXClassifier(logger, cfg.ModelPath, cfg.MaxLength)
		if c == nil {
			return nil, fmt.Errorf("onnx classifier unavailable: build with -tags onnx and set model_path")
		}
		logger.Info("Created ONNX classifier", zap.String("model_path", cfg.ModelPath))
		return c, nil
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", cfg.Backend)
	}
}
