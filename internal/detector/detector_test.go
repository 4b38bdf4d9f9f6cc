package detector

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

func blazeFaceAnchors() AnchorOptions {
	return AnchorOptions{
		Strides:      []int{8, 16, 16, 16},
		MinScale:     0.1484375,
		MaxScale:     0.75,
		InputHeight:  128,
		InputWidth:   128,
		AspectRatios: 1,
		OffsetX:      0.5,
		OffsetY:      0.5,
	}
}

func TestGenerateAnchors_BlazeFaceCount(t *testing.T) {
	anchors := GenerateAnchors(blazeFaceAnchors())

	// 16x16 cells * 2 anchors + 8x8 cells * 6 anchors
	assert.Len(t, anchors, 896)
	assert.Equal(t, 896, AnchorCount(blazeFaceAnchors()))
}

func TestGenerateAnchors_CountMatchesFeatureMaps(t *testing.T) {
	tests := []struct {
		name    string
		strides []int
		h, w    int
		ratios  int
	}{
		{"single layer", []int{8}, 64, 64, 1},
		{"non divisible input", []int{8, 16}, 100, 60, 1},
		{"two ratios", []int{16, 16, 32}, 128, 128, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := AnchorOptions{
				Strides:      tt.strides,
				MinScale:     0.2,
				MaxScale:     0.9,
				InputHeight:  tt.h,
				InputWidth:   tt.w,
				AspectRatios: tt.ratios,
				OffsetX:      0.5,
				OffsetY:      0.5,
			}
			assert.Len(t, GenerateAnchors(opts), AnchorCount(opts))
		})
	}

	// ceil(100/8)=13, ceil(60/8)=8, ceil(100/16)=7, ceil(60/16)=4
	opts := AnchorOptions{Strides: []int{8, 16}, InputHeight: 100, InputWidth: 60, MinScale: 0.1, MaxScale: 0.5}
	assert.Equal(t, 13*8*2+7*4*2, AnchorCount(opts))
}

func TestGenerateAnchors_Deterministic(t *testing.T) {
	first := GenerateAnchors(blazeFaceAnchors())
	second := GenerateAnchors(blazeFaceAnchors())
	require.Equal(t, first, second)
}

func TestGenerateAnchors_Layout(t *testing.T) {
	anchors := GenerateAnchors(blazeFaceAnchors())

	// First cell of the stride 8 map holds two anchors
	assert.Equal(t, Anchor{CenterX: 0.5 / 16, CenterY: 0.5 / 16, Width: 1, Height: 1}, anchors[0])
	assert.Equal(t, anchors[0], anchors[1])

	// Columns advance before rows
	assert.InDelta(t, 1.5/16, anchors[2].CenterX, 1e-6)
	assert.InDelta(t, 0.5/16, anchors[2].CenterY, 1e-6)
	assert.InDelta(t, 0.5/16, anchors[32].CenterX, 1e-6)
	assert.InDelta(t, 1.5/16, anchors[32].CenterY, 1e-6)

	// Stride 16 layers are merged: six anchors per cell
	first16 := anchors[512]
	assert.InDelta(t, 0.5/8, first16.CenterX, 1e-6)
	for i := 513; i < 518; i++ {
		assert.Equal(t, first16, anchors[i])
	}
	assert.InDelta(t, 1.5/8, anchors[518].CenterX, 1e-6)

	last := anchors[len(anchors)-1]
	assert.InDelta(t, 7.5/8, last.CenterX, 1e-6)
	assert.InDelta(t, 7.5/8, last.CenterY, 1e-6)
}

func defaultDecode() DecodeOptions {
	return DecodeOptions{ScoreThreshold: 0.5, NumCoords: 16, XScale: 128, YScale: 128, WScale: 128, HScale: 128}
}

func TestDecode_ThresholdAndBox(t *testing.T) {
	anchors := []Anchor{
		{CenterX: 0.25, CenterY: 0.25, Width: 1, Height: 1},
		{CenterX: 0.5, CenterY: 0.5, Width: 1, Height: 1},
		{CenterX: 0.75, CenterY: 0.75, Width: 1, Height: 1},
	}
	scores := []float32{-5, 5, 0}
	boxes := make([]float32, 3*16)
	boxes[16+0] = 12.8 // +0.1 in x
	boxes[16+1] = -12.8
	boxes[16+2] = 64 // w = 0.5
	boxes[16+3] = 32 // h = 0.25

	candidates, err := Decode(scores, boxes, anchors, defaultDecode())
	require.NoError(t, err)

	// sigmoid(0) == 0.5 is not strictly above the threshold
	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.InDelta(t, sigmoid(5), c.Score, 1e-6)
	assert.InDelta(t, 0.35, c.Box.X1, 1e-6)
	assert.InDelta(t, 0.85, c.Box.X2, 1e-6)
	assert.InDelta(t, 0.275, c.Box.Y1, 1e-6)
	assert.InDelta(t, 0.525, c.Box.Y2, 1e-6)
}

func TestDecode_KeepsAnchorOrderAndOutOfRangeBoxes(t *testing.T) {
	anchors := []Anchor{
		{CenterX: 0, CenterY: 0, Width: 1, Height: 1},
		{CenterX: 1, CenterY: 1, Width: 1, Height: 1},
	}
	scores := []float32{2, 9}
	boxes := make([]float32, 2*16)
	boxes[2], boxes[3] = 128, 128
	boxes[18], boxes[19] = 128, 128

	candidates, err := Decode(scores, boxes, anchors, defaultDecode())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Less(t, candidates[0].Score, candidates[1].Score)
	assert.InDelta(t, -0.5, candidates[0].Box.X1, 1e-6)
	assert.InDelta(t, 1.5, candidates[1].Box.X2, 1e-6)
}

func TestDecode_ScoreRangeAndClamp(t *testing.T) {
	anchors := make([]Anchor, 6)
	for i := range anchors {
		anchors[i] = Anchor{CenterX: 0.5, CenterY: 0.5, Width: 1, Height: 1}
	}
	scores := []float32{1000, 100, -1000, -100, 0.3, 42}
	boxes := make([]float32, len(anchors)*16)

	opts := defaultDecode()
	opts.ScoreThreshold = -1 // keep everything
	candidates, err := Decode(scores, boxes, anchors, opts)
	require.NoError(t, err)
	require.Len(t, candidates, len(scores))

	for _, c := range candidates {
		assert.Greater(t, c.Score, float32(0))
		assert.LessOrEqual(t, c.Score, float32(1))
	}
	assert.Equal(t, candidates[1].Score, candidates[0].Score)
	assert.Equal(t, candidates[3].Score, candidates[2].Score)
}

func TestDecode_ShortTensors(t *testing.T) {
	anchors := make([]Anchor, 4)

	_, err := Decode(make([]float32, 3), make([]float32, 64), anchors, defaultDecode())
	assert.True(t, errors.Is(err, ErrTensorShape))

	_, err = Decode(make([]float32, 4), make([]float32, 63), anchors, defaultDecode())
	assert.True(t, errors.Is(err, ErrTensorShape))
}

func TestWeightedNMS_Empty(t *testing.T) {
	out := WeightedNMS(nil, 0.3, 128, 128)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestWeightedNMS_IdenticalCandidatesFuse(t *testing.T) {
	box := BoundingBox{X1: 0.2, Y1: 0.3, X2: 0.6, Y2: 0.7}
	candidates := []Candidate{{Box: box, Score: 0.9}, {Box: box, Score: 0.9}}

	out := WeightedNMS(candidates, 0, 1, 1)
	require.Len(t, out, 1)
	assert.InDelta(t, box.X1, out[0].X1, 1e-6)
	assert.InDelta(t, box.Y1, out[0].Y1, 1e-6)
	assert.InDelta(t, box.X2, out[0].X2, 1e-6)
	assert.InDelta(t, box.Y2, out[0].Y2, 1e-6)
}

func TestWeightedNMS_NonOverlappingKeepsAllByDescendingScore(t *testing.T) {
	candidates := []Candidate{
		{Box: BoundingBox{X1: 0.0, Y1: 0.0, X2: 0.1, Y2: 0.1}, Score: 0.7},
		{Box: BoundingBox{X1: 0.2, Y1: 0.2, X2: 0.3, Y2: 0.3}, Score: 0.9},
		{Box: BoundingBox{X1: 0.5, Y1: 0.5, X2: 0.6, Y2: 0.6}, Score: 0.8},
	}

	out := WeightedNMS(candidates, 0.3, 100, 100)
	require.Len(t, out, 3)
	assert.InDelta(t, 20, out[0].X1, 1e-4)
	assert.InDelta(t, 50, out[1].X1, 1e-4)
	assert.InDelta(t, 0, out[2].X1, 1e-4)
}

func TestWeightedNMS_WeightedAverage(t *testing.T) {
	candidates := []Candidate{
		{Box: BoundingBox{X1: 0.0, Y1: 0.0, X2: 0.4, Y2: 0.4}, Score: 0.25},
		{Box: BoundingBox{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.5}, Score: 0.75},
		{Box: BoundingBox{X1: 0.8, Y1: 0.8, X2: 0.9, Y2: 0.9}, Score: 0.5},
	}

	out := WeightedNMS(candidates, 0.3, 128, 128)
	require.Len(t, out, 2)

	// (0.0*0.25 + 0.1*0.75) / 1.0 = 0.075
	assert.InDelta(t, 0.075*128, out[0].X1, 1e-3)
	assert.InDelta(t, 0.475*128, out[0].X2, 1e-3)
	assert.InDelta(t, 0.8*128, out[1].X1, 1e-3)
}

func TestWeightedNMS_StableTies(t *testing.T) {
	candidates := []Candidate{
		{Box: BoundingBox{X1: 0.0, Y1: 0.0, X2: 0.1, Y2: 0.1}, Score: 0.9},
		{Box: BoundingBox{X1: 0.5, Y1: 0.5, X2: 0.6, Y2: 0.6}, Score: 0.9},
	}

	out := WeightedNMS(candidates, 0.3, 1, 1)
	require.Len(t, out, 2)
	// Equal scores keep input order ascending, so the later one seeds first
	assert.InDelta(t, 0.5, out[0].X1, 1e-6)
	assert.InDelta(t, 0.0, out[1].X1, 1e-6)
}

func TestIoU(t *testing.T) {
	a := BoundingBox{X1: 0, Y1: 0, X2: 2, Y2: 2}
	b := BoundingBox{X1: 1, Y1: 1, X2: 3, Y2: 3}
	assert.InDelta(t, 1.0/7.0, iou(a, b), 1e-6)
	assert.Equal(t, float32(0), iou(a, BoundingBox{X1: 5, Y1: 5, X2: 6, Y2: 6}))
	assert.Equal(t, float32(0), iou(BoundingBox{}, BoundingBox{}))
}

// fakeRuntime returns fixed outputs and records inputs
type fakeRuntime struct {
	outputs [][]float32
	inputs  [][]float32
	closed  bool
}

func (f *fakeRuntime) Run(input []float32) ([][]float32, error) {
	f.inputs = append(f.inputs, append([]float32(nil), input...))
	return f.outputs, nil
}

func (f *fakeRuntime) Close() error {
	f.closed = true
	return nil
}

func singleFaceOutputs(anchors []Anchor, index int) [][]float32 {
	scores := make([]float32, len(anchors))
	for i := range scores {
		scores[i] = -100
	}
	scores[index] = 100

	boxes := make([]float32, len(anchors)*16)
	a := anchors[index]
	boxes[index*16+0] = (0.5 - a.CenterX) * 128
	boxes[index*16+1] = (0.5 - a.CenterY) * 128
	boxes[index*16+2] = 64
	boxes[index*16+3] = 64
	return [][]float32{boxes, scores}
}

func TestBlazeFace_Detect(t *testing.T) {
	anchors := GenerateAnchors(blazeFaceAnchors())
	rt := &fakeRuntime{outputs: singleFaceOutputs(anchors, 100)}

	det, err := NewBlazeFace(rt, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 896, det.Anchors())

	img := image.NewRGBA(image.Rect(0, 0, 128, 128))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 255, A: 255}}, image.Point{}, draw.Src)

	faces, err := det.Detect(img)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.InDelta(t, 32, faces[0].X1, 1e-3)
	assert.InDelta(t, 32, faces[0].Y1, 1e-3)
	assert.InDelta(t, 96, faces[0].X2, 1e-3)
	assert.InDelta(t, 96, faces[0].Y2, 1e-3)

	// Red pixels map to [1, -1, -1]
	require.Len(t, rt.inputs, 1)
	assert.InDelta(t, 1, rt.inputs[0][0], 0.02)
	assert.InDelta(t, -1, rt.inputs[0][1], 0.02)
	assert.InDelta(t, -1, rt.inputs[0][2], 0.02)

	require.NoError(t, det.Close())
	assert.True(t, rt.closed)
}

func TestBlazeFace_DetectScalesToImage(t *testing.T) {
	anchors := GenerateAnchors(blazeFaceAnchors())
	rt := &fakeRuntime{outputs: singleFaceOutputs(anchors, 600)}

	det, err := NewBlazeFace(rt, DefaultOptions())
	require.NoError(t, err)

	faces, err := det.Detect(image.NewRGBA(image.Rect(0, 0, 256, 512)))
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.InDelta(t, 64, faces[0].X1, 1e-3)
	assert.InDelta(t, 128, faces[0].Y1, 1e-3)
	assert.InDelta(t, 192, faces[0].X2, 1e-3)
	assert.InDelta(t, 384, faces[0].Y2, 1e-3)
}

func TestBlazeFace_MissingOutputs(t *testing.T) {
	det, err := NewBlazeFace(&fakeRuntime{outputs: [][]float32{{1}}}, DefaultOptions())
	require.NoError(t, err)

	_, err = det.Detect(image.NewRGBA(image.Rect(0, 0, 128, 128)))
	assert.ErrorIs(t, err, ErrTensorShape)
}

func TestBoundingBox_Rect(t *testing.T) {
	b := BoundingBox{X1: 1.4, Y1: 1.5, X2: 10.49, Y2: 10.5}
	assert.Equal(t, image.Rect(1, 2, 10, 11), b.Rect())
	assert.True(t, BoundingBox{}.Empty())
	assert.False(t, b.Empty())
}
