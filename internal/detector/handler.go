package detector

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sync/atomic"

	"github.com/Brownie44l1/poar-detector/internal/model"
	"go.uber.org/zap"
)

// State is the lifecycle of a Handler. It only moves forward.
type State int32

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	default:
		return "UNINITIALIZED"
	}
}

// Handler runs the authenticity pipeline for one worker. It must not be
// called from more than one goroutine at a time.
type Handler struct {
	env    *Environment
	loader model.Loader
	logger *zap.Logger

	state    atomic.Int32
	model    model.Model
	device   model.Device
	metadata model.Metadata
	pre      *Preprocessor
}

// NewHandler creates an uninitialized handler. env is used when Handle has to
// initialize lazily.
func NewHandler(env *Environment, loader model.Loader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		env:      env,
		loader:   loader,
		logger:   logger,
		metadata: model.DefaultMetadata(),
	}
}

// State returns the current lifecycle state.
func (h *Handler) State() State {
	return State(h.state.Load())
}

// Ready reports whether the handler has been initialized.
func (h *Handler) Ready() bool {
	return h.State() == StateReady
}

// Threshold returns the decision threshold in effect.
func (h *Handler) Threshold() float64 {
	return h.metadata.Threshold
}

// Device returns the device the model was loaded on. Empty before Initialize.
func (h *Handler) Device() model.Device {
	return h.device
}

// Initialize loads the model and metadata described by env. A missing or
// unloadable model is fatal and leaves the handler uninitialized; a missing
// metadata file only logs a warning. Calling it on a ready handler does nothing.
func (h *Handler) Initialize(env *Environment) error {
	if h.Ready() {
		return nil
	}
	if env == nil {
		env = h.env
	}
	if env == nil {
		return fmt.Errorf("%w: no environment", ErrNotReady)
	}

	modelPath := env.ModelPath()
	metadataPath := env.MetadataPath()

	if _, err := os.Stat(modelPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
		}
		return fmt.Errorf("failed to stat model file %s: %w", modelPath, err)
	}

	device := env.Device
	if device == "" {
		device = model.DeviceAuto
	}

	m, err := h.loader.Load(modelPath, device)
	if err != nil {
		return fmt.Errorf("failed to load model %s: %w", modelPath, err)
	}

	meta, found, err := model.LoadMetadata(metadataPath)
	if err != nil {
		if cerr := m.Close(); cerr != nil {
			h.logger.Warn("Failed to release model after metadata error", zap.Error(cerr))
		}
		return err
	}
	if !found {
		h.logger.Warn("Metadata file not found, using default threshold",
			zap.String("path", metadataPath),
			zap.Float64("threshold", meta.Threshold))
	}

	h.env = env
	h.model = m
	h.device = m.Device()
	h.metadata = meta
	h.pre = NewPreprocessor(model.ImageSize)
	h.state.Store(int32(StateReady))

	h.logger.Info("Model initialized",
		zap.String("model", modelPath),
		zap.Stringer("device", h.device),
		zap.Float64("threshold", h.metadata.Threshold))

	return nil
}

// Preprocess extracts the image from the payload and converts it to a tensor.
func (h *Handler) Preprocess(p Payload) (*model.Tensor, error) {
	if !h.Ready() {
		return nil, ErrNotReady
	}

	data, err := Bytes(p)
	if err != nil {
		return nil, err
	}

	img, format, err := h.pre.Decode(data)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("Decoded image",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	return h.pre.Transform(img), nil
}

// Inference runs one forward pass and squashes the logit into [0, 1].
func (h *Handler) Inference(t *model.Tensor) (float64, error) {
	if !h.Ready() {
		return 0, ErrNotReady
	}
	if t.BatchSize() != 1 {
		return 0, model.ErrBatchSize
	}

	out, err := h.model.Forward(t)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("%w: empty output", ErrBadOutput)
	}

	logit := float64(out[0])
	if math.IsNaN(logit) {
		return 0, fmt.Errorf("%w: NaN logit", ErrBadOutput)
	}
	return sigmoid(logit), nil
}

// Postprocess rounds the score and applies the threshold. The comparison uses
// the rounded score so the returned record always satisfies
// status == AUTHENTIC iff authenticity_score >= threshold.
func (h *Handler) Postprocess(score float64) model.Result {
	return Classify(score, h.metadata.Threshold)
}

// Handle runs the full pipeline, initializing on first use.
func (h *Handler) Handle(p Payload) ([]model.Result, error) {
	if err := h.Initialize(nil); err != nil {
		return nil, err
	}

	tensor, err := h.Preprocess(p)
	if err != nil {
		return nil, err
	}

	score, err := h.Inference(tensor)
	if err != nil {
		return nil, err
	}

	return []model.Result{h.Postprocess(score)}, nil
}

// Close releases the model. The handler stays READY; do not use it afterwards.
func (h *Handler) Close() error {
	if h.model == nil {
		return nil
	}
	return h.model.Close()
}

// Classify builds the result record for a score under threshold.
func Classify(score, threshold float64) model.Result {
	rounded := Round4(score)
	status := model.StatusNotAuthentic
	if rounded >= threshold {
		status = model.StatusAuthentic
	}
	return model.Result{
		AuthenticityScore: rounded,
		Threshold:         threshold,
		Status:            status,
	}
}

// Round4 rounds to four decimal places.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
