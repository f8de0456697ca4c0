package model

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions configures an ONNX Runtime session.
type ONNXOptions struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default search path.
	LibraryPath string
	InputName   string
	OutputName  string
	Device      Device
	// IntraOpThreads limits CPU threads per session; 0 keeps the runtime default.
	IntraOpThreads int
}

func (o *ONNXOptions) applyDefaults() {
	if o.InputName == "" {
		o.InputName = "input"
	}
	if o.OutputName == "" {
		o.OutputName = "output"
	}
	if o.Device == "" {
		o.Device = DeviceAuto
	}
}

var envMu sync.Mutex

// initEnvironment initializes the process-wide runtime exactly once.
func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// Shutdown tears down the ONNX environment. Call once at process exit after
// every ONNXModel is closed.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXModel runs a single-logit classifier through ONNX Runtime.
type ONNXModel struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	device       Device
}

// ONNXLoader returns a Loader that opens models with the given options.
// The device passed to Load overrides opts.Device.
func ONNXLoader(opts ONNXOptions) Loader {
	return LoaderFunc(func(path string, device Device) (Model, error) {
		o := opts
		o.Device = device
		return OpenONNX(path, o)
	})
}

// OpenONNX loads the model at path. The device is resolved here and stays
// fixed for the lifetime of the returned model.
func OpenONNX(path string, opts ONNXOptions) (*ONNXModel, error) {
	opts.applyDefaults()

	if err := initEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}

	sessionOpts, device, err := newSessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer sessionOpts.Destroy()

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, Channels, ImageSize, ImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		sessionOpts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXModel{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		device:       device,
	}, nil
}

// newSessionOptions attaches the CUDA provider when asked to. With DeviceAuto
// a provider failure falls back to the CPU.
func newSessionOptions(opts ONNXOptions) (*ort.SessionOptions, Device, error) {
	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session options: %w", err)
	}

	if opts.IntraOpThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			sessionOpts.Destroy()
			return nil, "", fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	if opts.Device == DeviceCPU {
		return sessionOpts, DeviceCPU, nil
	}

	if err := appendCUDA(sessionOpts); err != nil {
		if opts.Device == DeviceCUDA {
			sessionOpts.Destroy()
			return nil, "", fmt.Errorf("%w: cuda: %v", ErrDeviceUnusable, err)
		}
		return sessionOpts, DeviceCPU, nil
	}
	return sessionOpts, DeviceCUDA, nil
}

func appendCUDA(sessionOpts *ort.SessionOptions) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOpts.Destroy()

	if err := cudaOpts.Update(map[string]string{"device_id": "0"}); err != nil {
		return err
	}
	return sessionOpts.AppendExecutionProviderCUDA(cudaOpts)
}

// Forward copies input into the bound tensor, runs the session and returns a
// copy of the output.
func (m *ONNXModel) Forward(input *Tensor) ([]float32, error) {
	if m.session == nil {
		return nil, ErrClosed
	}
	if input.BatchSize() != 1 {
		return nil, ErrBatchSize
	}

	dst := m.inputTensor.GetData()
	if len(input.Data) != len(dst) {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrShapeMismatch, len(input.Data), len(dst))
	}
	copy(dst, input.Data)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := m.outputTensor.GetData()
	return append([]float32(nil), out...), nil
}

// Device reports the execution provider chosen at load time.
func (m *ONNXModel) Device() Device {
	return m.device
}

// Close releases the session and its tensors.
func (m *ONNXModel) Close() error {
	var errs []error
	if m.inputTensor != nil {
		errs = append(errs, m.inputTensor.Destroy())
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		errs = append(errs, m.outputTensor.Destroy())
		m.outputTensor = nil
	}
	if m.session != nil {
		errs = append(errs, m.session.Destroy())
		m.session = nil
	}
	return errors.Join(errs...)
}
