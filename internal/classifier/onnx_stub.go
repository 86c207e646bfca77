//go:build !onnx
// +build !onnx

package classifier

import "go.uber.org/zap"

// newONNXClassifier is compiled without the 'onnx' build tag and reports the
// backend as unavailable. This avoids the CGO dependency in default builds.
func newONNXClassifier(logger *zap.Logger, modelPath string, maxLength int) Classifier {
	return nil
}
