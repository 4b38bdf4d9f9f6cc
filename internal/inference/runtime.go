package inference

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrModelLoad marks failures to bring up a model from its packaged weights.
// Model files are static assets, so callers should not retry.
var ErrModelLoad = errors.New("model load failed")

// ModelLoadError records which model failed to load
type ModelLoadError struct {
	Path  string
	cause error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.Path, e.cause)
}

func (e *ModelLoadError) Unwrap() []error { return []error{ErrModelLoad, e.cause} }

// NewModelLoadError wraps cause as a load failure for the model at path
func NewModelLoadError(path string, cause error) error {
	return &ModelLoadError{Path: path, cause: cause}
}

// Runtime runs a model with a single float input and float outputs.
// Outputs are returned in the order the model was configured with and are
// owned by the caller.
type Runtime interface {
	Run(input []float32) ([][]float32, error)
	Close() error
}

// TensorSpec names a model tensor and fixes its shape
type TensorSpec struct {
	Name  string
	Shape []int64
}

// ONNXRuntime is a Runtime backed by ONNX Runtime
type ONNXRuntime struct {
	session *Session
	input   TensorSpec
	outputs []TensorSpec
}

// NewONNXRuntime opens modelPath with one input and the given outputs.
// The process environment is acquired here and released by Close.
func NewONNXRuntime(libraryPath, modelPath string, input TensorSpec, outputs []TensorSpec, threads int) (*ONNXRuntime, error) {
	if err := Initialize(libraryPath); err != nil {
		return nil, err
	}

	outputNames := make([]string, len(outputs))
	for i, o := range outputs {
		outputNames[i] = o.Name
	}

	session, err := NewSession(modelPath, []string{input.Name}, outputNames, threads)
	if err != nil {
		_ = Shutdown()
		return nil, err
	}

	return &ONNXRuntime{
		session: session,
		input:   input,
		outputs: outputs,
	}, nil
}

// Run executes one inference call
func (r *ONNXRuntime) Run(input []float32) ([][]float32, error) {
	if int64(len(input)) != elements(r.input.Shape) {
		return nil, fmt.Errorf("input has %d values, model expects %v", len(input), r.input.Shape)
	}

	inputTensor, err := CreateTensor(r.input.Shape, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, len(r.outputs))
	outputTensors := make([]*ort.Tensor[float32], len(r.outputs))
	defer func() {
		for _, t := range outputTensors {
			if t != nil {
				t.Destroy()
			}
		}
	}()

	for i, spec := range r.outputs {
		t, err := CreateEmptyTensor[float32](spec.Shape)
		if err != nil {
			return nil, fmt.Errorf("failed to create output tensor %s: %w", spec.Name, err)
		}
		outputs[i] = t
		outputTensors[i] = t
	}

	if err := r.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	// Tensor memory is released on return
	results := make([][]float32, len(outputTensors))
	for i, t := range outputTensors {
		data := t.GetData()
		results[i] = append([]float32(nil), data...)
	}

	return results, nil
}

// Close releases the session and the environment reference
func (r *ONNXRuntime) Close() error {
	return errors.Join(r.session.Destroy(), Shutdown())
}
