package model

// Input geometry of the detector network.
const (
	ImageSize = 224
	Channels  = 3
)

// DefaultThreshold is used when no metadata file is present or it has no threshold.
const DefaultThreshold = 0.6

// Metadata is the configuration record stored next to the model.
type Metadata struct {
	Threshold float64 `json:"threshold"`
}

// Status is the verdict attached to a prediction.
type Status string

const (
	StatusAuthentic    Status = "AUTHENTIC"
	StatusNotAuthentic Status = "NOT AUTHENTIC"
)

// Result is the per-request prediction returned to callers.
type Result struct {
	AuthenticityScore float64 `json:"authenticity_score" yaml:"authenticity_score"`
	Threshold         float64 `json:"threshold"          yaml:"threshold"`
	Status            Status  `json:"status"             yaml:"status"`
}

// Tensor is a dense float32 array in NCHW layout.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewImageTensor allocates a zeroed [1, 3, 224, 224] tensor.
func NewImageTensor() *Tensor {
	return &Tensor{
		Shape: []int64{1, Channels, ImageSize, ImageSize},
		Data:  make([]float32, Channels*ImageSize*ImageSize),
	}
}

// BatchSize returns the leading dimension, or 0 for an empty shape.
func (t *Tensor) BatchSize() int64 {
	if t == nil || len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}
