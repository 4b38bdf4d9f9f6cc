package tflite

import (
	"errors"
	"fmt"

	tfl "github.com/mattn/go-tflite"

	"github.com/pillarpond/facerecognizer/internal/inference"
)

// Runtime runs a TensorFlow Lite model with one float32 input tensor
type Runtime struct {
	model       *tfl.Model
	interpreter *tfl.Interpreter
	modelPath   string
}

// NewRuntime loads a .tflite model and allocates its tensors
func NewRuntime(modelPath string, threads int) (*Runtime, error) {
	model := tfl.NewModelFromFile(modelPath)
	if model == nil {
		return nil, inference.NewModelLoadError(modelPath, errors.New("cannot read flatbuffer"))
	}

	options := tfl.NewInterpreterOptions()
	defer options.Delete()
	if threads > 0 {
		options.SetNumThread(threads)
	}

	interpreter := tfl.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, inference.NewModelLoadError(modelPath, errors.New("cannot create interpreter"))
	}

	if status := interpreter.AllocateTensors(); status != tfl.OK {
		interpreter.Delete()
		model.Delete()
		return nil, inference.NewModelLoadError(modelPath, fmt.Errorf("tensor allocation failed: %v", status))
	}

	return &Runtime{
		model:       model,
		interpreter: interpreter,
		modelPath:   modelPath,
	}, nil
}

// Run copies input into the first input tensor, invokes the interpreter and
// returns a copy of every output tensor
func (r *Runtime) Run(input []float32) ([][]float32, error) {
	in := r.interpreter.GetInputTensor(0)
	if in == nil {
		return nil, fmt.Errorf("model %s has no input tensor", r.modelPath)
	}
	if want := len(in.Float32s()); want != len(input) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(input), want)
	}
	if status := in.CopyFromBuffer(input); status != tfl.OK {
		return nil, fmt.Errorf("failed to copy input tensor: %v", status)
	}

	if status := r.interpreter.Invoke(); status != tfl.OK {
		return nil, fmt.Errorf("inference failed: %v", status)
	}

	count := r.interpreter.GetOutputTensorCount()
	outputs := make([][]float32, count)
	for i := 0; i < count; i++ {
		out := r.interpreter.GetOutputTensor(i)
		outputs[i] = append([]float32(nil), out.Float32s()...)
	}

	return outputs, nil
}

// Tensors describes the model's input and output tensors
func (r *Runtime) Tensors() []string {
	var out []string
	for i := 0; i < r.interpreter.GetInputTensorCount(); i++ {
		t := r.interpreter.GetInputTensor(i)
		out = append(out, fmt.Sprintf("input %s: shape=%v, type=%v", t.Name(), t.Shape(), t.Type()))
	}
	for i := 0; i < r.interpreter.GetOutputTensorCount(); i++ {
		t := r.interpreter.GetOutputTensor(i)
		out = append(out, fmt.Sprintf("output %s: shape=%v, type=%v", t.Name(), t.Shape(), t.Type()))
	}
	return out
}

// Close releases the interpreter and model
func (r *Runtime) Close() error {
	if r.interpreter != nil {
		r.interpreter.Delete()
		r.interpreter = nil
	}
	if r.model != nil {
		r.model.Delete()
		r.model = nil
	}
	return nil
}
