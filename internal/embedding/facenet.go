package embedding

import (
	"fmt"
	"image"
	"strings"

	"github.com/pillarpond/facerecognizer/internal/inference"
)

// Size is the FaceNet embedding length
const Size = 512

// Embedding represents a 512-dimensional face embedding
type Embedding [Size]float32

// FromSlice copies a runtime output buffer into an Embedding
func FromSlice(data []float32) (Embedding, error) {
	var e Embedding
	if len(data) != Size {
		return e, fmt.Errorf("embedding has %d values, expected %d", len(data), Size)
	}
	copy(e[:], data)
	return e, nil
}

// Slice returns a copy of the embedding as a slice
func (e Embedding) Slice() []float32 {
	out := make([]float32, Size)
	copy(out, e[:])
	return out
}

func (e Embedding) String() string {
	var b strings.Builder
	b.WriteString("Embedding[")
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&b, "%.4f ", e[i])
	}
	b.WriteString("...]")
	return b.String()
}

// FaceNet extracts face embeddings using a FaceNet model
type FaceNet struct {
	runtime inference.Runtime
	height  int
	width   int
}

// NewFaceNet creates an encoder expecting height x width RGB crops
func NewFaceNet(runtime inference.Runtime, height, width int) (*FaceNet, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", width, height)
	}
	return &FaceNet{
		runtime: runtime,
		height:  height,
		width:   width,
	}, nil
}

// Extract computes the embedding of the face inside rect
func (f *FaceNet) Extract(img image.Image, rect image.Rectangle) (Embedding, error) {
	input, err := Prepare(img, rect, f.height, f.width)
	if err != nil {
		return Embedding{}, err
	}

	outputs, err := f.runtime.Run(input)
	if err != nil {
		return Embedding{}, fmt.Errorf("inference failed: %w", err)
	}
	if len(outputs) == 0 {
		return Embedding{}, fmt.Errorf("model returned no outputs")
	}

	return FromSlice(outputs[0])
}

// Close releases encoder resources
func (f *FaceNet) Close() error {
	return f.runtime.Close()
}
