//go:build onnx
// +build onnx

package classifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/wardenlabs/llm-warden/internal/scoring"
)

// Cascade model IO contract: one float32 feature vector in, three logit
// vectors out (binary, family, sub-family), in that declared order.
const (
	featureDim      = 2048
	defaultMaxChars = 8192
)

// familyLabels and subFamilyLabels map model output indices to labels. They
// must match the label order the model was exported with.
var familyLabels = []string{
	"benign", "prompt_injection", "jailbreak", "pii",
	"command_injection", "encoding", "data_exfiltration",
}

var subFamilyLabels = []string{
	"benign", "instruction-override", "buried-injection", "persona-adoption",
	"token-coercion", "prompt-extraction", "markdown-exfil", "credentials",
	"personal-data", "sensitive-paths", "encoded-instructions",
}

// onnxClassifier runs the cascade model via ONNX Runtime.
type onnxClassifier struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	maxChars    int
	logger      *zap.Logger
	ready       bool
	mu          sync.RWMutex
}

// newONNXClassifier initializes the ONNX Runtime backend. Requires the 'onnx'
// build tag. Returns nil on any initialization failure; the factory turns
// that into a construction error.
func newONNXClassifier(logger *zap.Logger, modelPath string, maxLength int) Classifier {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		logger.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", modelPath))
		return nil
	}
	if len(inputsInfo) == 0 || len(outputsInfo) < 3 {
		logger.Error("Cascade model must declare one input and three outputs",
			zap.Int("inputs", len(inputsInfo)), zap.Int("outputs", len(outputsInfo)))
		return nil
	}

	inputNames := []string{inputsInfo[0].Name}
	outputNames := []string{outputsInfo[0].Name, outputsInfo[1].Name, outputsInfo[2].Name}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", modelPath))
		return nil
	}

	maxChars := maxLength
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}

	logger.Info("ONNX cascade classifier ready",
		zap.String("model", modelPath),
		zap.Strings("outputs", outputNames))
	return &onnxClassifier{
		session:     sess,
		inputNames:  inputNames,
		outputNames: outputNames,
		maxChars:    maxChars,
		logger:      logger,
		ready:       true,
	}
}

func (c *onnxClassifier) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready && c.session != nil
}

func (c *onnxClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	ort.DestroyEnvironment()
	c.ready = false
	return nil
}

// Infer featurizes text, runs one session call, and converts the three logit
// vectors into probability distributions.
func (c *onnxClassifier) Infer(ctx context.Context, text string) (*scoring.ThreatScore, error) {
	if !c.Ready() {
		return nil, fmt.Errorf("onnx classifier not ready")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features := featurize(text, c.maxChars)
	inTensor, err := ort.NewTensor[float32](ort.NewShape(1, featureDim), features)
	if err != nil {
		return nil, fmt.Errorf("failed to create feature tensor: %w", err)
	}
	defer inTensor.Destroy()

	outputs := make([]ort.Value, 3)
	if err := c.session.Run([]ort.Value{inTensor}, outputs); err != nil {
		return nil, fmt.Errorf("cascade inference failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	binary, err := tensorProbs(outputs[0], 2)
	if err != nil {
		return nil, fmt.Errorf("binary stage: %w", err)
	}
	family, err := tensorProbs(outputs[1], len(familyLabels))
	if err != nil {
		return nil, fmt.Errorf("family stage: %w", err)
	}
	sub, err := tensorProbs(outputs[2], len(subFamilyLabels))
	if err != nil {
		return nil, fmt.Errorf("sub-family stage: %w", err)
	}

	return &scoring.ThreatScore{
		Binary:    binary,
		Family:    labelDist(familyLabels, family),
		SubFamily: labelDist(subFamilyLabels, sub),
	}, nil
}

// featurize hashes word 1- and 2-grams into a fixed-size float vector,
// L2-normalized. Deterministic for identical text.
func featurize(text string, maxChars int) []float32 {
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	features := make([]float32, featureDim)
	words := strings.Fields(strings.ToLower(text))
	for i, w := range words {
		features[bucket(w)]++
		if i+1 < len(words) {
			features[bucket(w+" "+words[i+1])]++
		}
	}
	var norm float64
	for _, v := range features {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range features {
			features[i] *= scale
		}
	}
	return features
}

func bucket(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % featureDim)
}

// tensorProbs extracts a logit vector of the expected width and applies
// softmax.
func tensorProbs(v ort.Value, want int) ([]float64, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	data := t.GetData()
	if len(data) != want {
		return nil, fmt.Errorf("got %d logits, want %d", len(data), want)
	}
	return softmax(data), nil
}

func softmax(logits []float32) []float64 {
	max := float64(logits[0])
	for _, l := range logits[1:] {
		if float64(l) > max {
			max = float64(l)
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l) - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func labelDist(labels []string, probs []float64) map[string]float64 {
	out := make(map[string]float64, len(labels))
	for i, l := range labels {
		out[l] = probs[i]
	}
	return out
}
