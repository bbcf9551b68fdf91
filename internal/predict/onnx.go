package predict

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/thebtf/opportune/pkg/models"
)

// ONNXClassifier runs the exported per-cluster sequence models. Sessions are
// loaded on first use and kept for the life of the classifier.
type ONNXClassifier struct {
	logger      zerolog.Logger
	modelPath   func(variant int) (string, error)
	inputNames  []string
	outputNames []string

	mu       sync.Mutex
	sessions map[int]*ort.DynamicAdvancedSession
}

// NewONNXClassifier initialises the runtime. libraryPath may be empty to use
// the platform default.
func NewONNXClassifier(logger zerolog.Logger, libraryPath string, modelPath func(int) (string, error)) (*ONNXClassifier, error) {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	return &ONNXClassifier{
		logger:      logger.With().Str("classifier", "onnx").Logger(),
		modelPath:   modelPath,
		inputNames:  []string{"input"},
		outputNames: []string{"output"},
		sessions:    make(map[int]*ort.DynamicAdvancedSession),
	}, nil
}

func (o *ONNXClassifier) session(variant int) (*ort.DynamicAdvancedSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.sessions[variant]; ok {
		return s, nil
	}
	path, err := o.modelPath(variant)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", path)
	}

	sess, err := ort.NewDynamicAdvancedSession(path, o.inputNames, o.outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for variant %d: %w", variant, err)
	}
	o.logger.Info().Str("model", path).Int("variant", variant).Msg("Sequence model loaded")
	o.sessions[variant] = sess
	return sess, nil
}

// Predict implements Classifier.
func (o *ONNXClassifier) Predict(_ context.Context, variant int, block Block) ([]float32, error) {
	sess, err := o.session(variant)
	if err != nil {
		return nil, err
	}

	data := make([]float32, 0, SequenceLength*models.FeatureWidth)
	for _, row := range block {
		data = append(data, row[:]...)
	}
	input, err := ort.NewTensor(ort.NewShape(1, SequenceLength, models.FeatureWidth), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(models.NumClasses)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := sess.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, models.NumClasses)
	copy(out, output.GetData())
	return out, nil
}

// Close releases all sessions and the runtime environment.
func (o *ONNXClassifier) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for v, s := range o.sessions {
		if err := s.Destroy(); err != nil {
			o.logger.Warn().Err(err).Int("variant", v).Msg("Failed to destroy session")
		}
		delete(o.sessions, v)
	}
	return ort.DestroyEnvironment()
}
