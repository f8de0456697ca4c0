package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestONNXModel_ForwardGuards(t *testing.T) {
	// The guards run before the session does, so an unbacked session and an
	// empty bound tensor are enough here.
	bound := &ONNXModel{
		session:      &ort.AdvancedSession{},
		inputTensor:  &ort.Tensor[float32]{},
		outputTensor: &ort.Tensor[float32]{},
		device:       DeviceCPU,
	}

	tests := []struct {
		name    string
		model   *ONNXModel
		input   *Tensor
		wantErr error
	}{
		{"closed model", &ONNXModel{}, NewImageTensor(), ErrClosed},
		{"nil input", bound, nil, ErrBatchSize},
		{"batch of two", bound, &Tensor{Shape: []int64{2, 3, 224, 224}}, ErrBatchSize},
		{"length mismatch", bound, NewImageTensor(), ErrShapeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.model.Forward(tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, out)
		})
	}
}

func TestONNXModel_CloseUnopened(t *testing.T) {
	m := &ONNXModel{device: DeviceCUDA}
	require.NoError(t, m.Close())
	assert.Equal(t, DeviceCUDA, m.Device())

	_, err := m.Forward(NewImageTensor())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestONNXOptions_Defaults(t *testing.T) {
	var opts ONNXOptions
	opts.applyDefaults()
	assert.Equal(t, "input", opts.InputName)
	assert.Equal(t, "output", opts.OutputName)
	assert.Equal(t, DeviceAuto, opts.Device)
}
