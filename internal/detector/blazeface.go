package detector

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/pillarpond/facerecognizer/internal/inference"
)

// Options configures the BlazeFace front-camera detector
type Options struct {
	InputWidth           int
	InputHeight          int
	Strides              []int
	MinScale             float32
	MaxScale             float32
	ScoreThreshold       float32
	SuppressionThreshold float32
	NumCoords            int
	BoxScale             float32 // applied to x, y, w and h regressors
	BoxesOutput          int     // index of the regressor output
	ScoresOutput         int     // index of the classificator output
}

// DefaultOptions returns the face_detection_front model layout
func DefaultOptions() Options {
	return Options{
		InputWidth:           128,
		InputHeight:          128,
		Strides:              []int{8, 16, 16, 16},
		MinScale:             0.1484375,
		MaxScale:             0.75,
		ScoreThreshold:       0.95,
		SuppressionThreshold: 0.3,
		NumCoords:            16,
		BoxScale:             128,
		BoxesOutput:          0,
		ScoresOutput:         1,
	}
}

// BlazeFace implements the BlazeFace short-range face detector
type BlazeFace struct {
	runtime inference.Runtime
	opts    Options
	anchors []Anchor
	input   []float32
	canvas  *image.RGBA
}

// NewBlazeFace creates a detector over a loaded runtime
func NewBlazeFace(runtime inference.Runtime, opts Options) (*BlazeFace, error) {
	if opts.InputWidth <= 0 || opts.InputHeight <= 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", opts.InputWidth, opts.InputHeight)
	}
	if len(opts.Strides) == 0 {
		return nil, fmt.Errorf("no feature strides configured")
	}

	anchors := GenerateAnchors(AnchorOptions{
		Strides:      opts.Strides,
		MinScale:     opts.MinScale,
		MaxScale:     opts.MaxScale,
		InputHeight:  opts.InputHeight,
		InputWidth:   opts.InputWidth,
		AspectRatios: 1,
		OffsetX:      0.5,
		OffsetY:      0.5,
	})

	return &BlazeFace{
		runtime: runtime,
		opts:    opts,
		anchors: anchors,
		input:   make([]float32, opts.InputHeight*opts.InputWidth*3),
		canvas:  image.NewRGBA(image.Rect(0, 0, opts.InputWidth, opts.InputHeight)),
	}, nil
}

// InputSize returns the fixed detector resolution
func (b *BlazeFace) InputSize() image.Point {
	return image.Pt(b.opts.InputWidth, b.opts.InputHeight)
}

// Anchors returns the number of anchors the model is decoded against
func (b *BlazeFace) Anchors() int {
	return len(b.anchors)
}

// Detect finds faces in img. Boxes are returned in img pixel coordinates,
// which equal detector input coordinates when img already has the input size.
func (b *BlazeFace) Detect(img image.Image) ([]BoundingBox, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	b.preprocess(img)

	outputs, err := b.runtime.Run(b.input)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(outputs) <= b.opts.BoxesOutput || len(outputs) <= b.opts.ScoresOutput {
		return nil, fmt.Errorf("model returned %d outputs: %w", len(outputs), ErrTensorShape)
	}

	candidates, err := Decode(outputs[b.opts.ScoresOutput], outputs[b.opts.BoxesOutput], b.anchors, DecodeOptions{
		ScoreThreshold: b.opts.ScoreThreshold,
		NumCoords:      b.opts.NumCoords,
		XScale:         b.opts.BoxScale,
		YScale:         b.opts.BoxScale,
		WScale:         b.opts.BoxScale,
		HScale:         b.opts.BoxScale,
	})
	if err != nil {
		return nil, err
	}

	faces := WeightedNMS(candidates, b.opts.SuppressionThreshold, b.opts.InputWidth, b.opts.InputHeight)

	// Map from detector input back to the caller's image
	sx := float32(bounds.Dx()) / float32(b.opts.InputWidth)
	sy := float32(bounds.Dy()) / float32(b.opts.InputHeight)
	ox := float32(bounds.Min.X)
	oy := float32(bounds.Min.Y)
	if sx != 1 || sy != 1 || ox != 0 || oy != 0 {
		for i, f := range faces {
			f = f.Scale(sx, sy)
			faces[i] = BoundingBox{X1: f.X1 + ox, Y1: f.Y1 + oy, X2: f.X2 + ox, Y2: f.Y2 + oy}
		}
	}

	return faces, nil
}

// preprocess scales img to the input size and normalizes RGB to [-1, 1]
func (b *BlazeFace) preprocess(img image.Image) {
	draw.BiLinear.Scale(b.canvas, b.canvas.Bounds(), img, img.Bounds(), draw.Src, nil)

	pix := b.canvas.Pix
	for i, j := 0, 0; i < len(pix); i, j = i+4, j+3 {
		b.input[j] = float32(pix[i])/127.5 - 1
		b.input[j+1] = float32(pix[i+1])/127.5 - 1
		b.input[j+2] = float32(pix[i+2])/127.5 - 1
	}
}

// Close releases detector resources
func (b *BlazeFace) Close() error {
	return b.runtime.Close()
}
