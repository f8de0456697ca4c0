package detector

import (
	"path/filepath"

	"github.com/Brownie44l1/poar-detector/internal/model"
)

// Keys understood in Environment maps.
const (
	PropModelDir    = "model_dir"
	OptModelFile    = "model_file"
	OptMetadataFile = "metadata_file"
	// DefaultModelFile is the ONNX export of the detector. It replaces the
	// TorchScript artifact detector_torchscript_local.pt, which ONNX Runtime
	// cannot load.
	DefaultModelFile = "detector_local.onnx"
	DefaultMetaFile  = "metadata_local.json"
	DefaultModelName = "poar_detector"
)

// Environment describes where a handler finds its artifacts. It is built once
// at startup and shared read-only by every handler.
type Environment struct {
	SystemProperties map[string]string
	HandlerOptions   map[string]string
	Device           model.Device
}

// ModelPath resolves the model artifact path.
func (e *Environment) ModelPath() string {
	return e.resolve(OptModelFile, DefaultModelFile)
}

// MetadataPath resolves the metadata file path.
func (e *Environment) MetadataPath() string {
	return e.resolve(OptMetadataFile, DefaultMetaFile)
}

func (e *Environment) resolve(key, fallback string) string {
	name := e.HandlerOptions[key]
	if name == "" {
		name = fallback
	}
	if dir := e.SystemProperties[PropModelDir]; dir != "" {
		return filepath.Join(dir, name)
	}
	return name
}
