package model

// Model is a loaded binary classifier. Implementations are not safe for concurrent use.
type Model interface {
	// Forward runs one inference pass and returns the raw network outputs.
	Forward(input *Tensor) ([]float32, error)

	// Device reports where the model executes.
	Device() Device

	// Close releases runtime resources.
	Close() error
}

// Loader opens the model artifact at path on the requested device.
type Loader interface {
	Load(path string, device Device) (Model, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string, device Device) (Model, error)

// Load calls f(path, device).
func (f LoaderFunc) Load(path string, device Device) (Model, error) {
	return f(path, device)
}
