package detector

import (
	"fmt"
	"image"
	"math"
)

// BoundingBox represents a face bounding box
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Area returns box area
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Empty reports whether the box encloses no area
func (b BoundingBox) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Scale multiplies x coordinates by sx and y coordinates by sy
func (b BoundingBox) Scale(sx, sy float32) BoundingBox {
	return BoundingBox{X1: b.X1 * sx, Y1: b.Y1 * sy, X2: b.X2 * sx, Y2: b.Y2 * sy}
}

// Rect rounds the box to integer pixel coordinates
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(round(b.X1), round(b.Y1), round(b.X2), round(b.Y2))
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("BoundingBox(%.1f, %.1f, %.1f, %.1f)", b.X1, b.Y1, b.X2, b.Y2)
}

// Anchor is a reference box in normalized input coordinates. Detector
// outputs are offsets relative to the anchor at the same row index.
type Anchor struct {
	CenterX, CenterY float32
	Width, Height    float32
}

// Candidate is a decoded, thresholded detection before suppression.
// Box is in normalized input coordinates and may extend outside [0,1].
type Candidate struct {
	Box   BoundingBox
	Score float32
}

func round(v float32) int {
	return int(math.Floor(float64(v) + 0.5))
}
