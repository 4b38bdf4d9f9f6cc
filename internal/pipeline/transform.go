package pipeline

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/pillarpond/facerecognizer/internal/detector"
)

// Transform maps face rectangles from detector space into frame space
type Transform interface {
	MapRect(r detector.BoundingBox) detector.BoundingBox
}

// Matrix is a 2D affine transform in row-major order:
//
//	x' = m[0]*x + m[1]*y + m[2]
//	y' = m[3]*x + m[4]*y + m[5]
type Matrix f64.Aff3

// Identity leaves rectangles unchanged
var Identity = Matrix{1, 0, 0, 0, 1, 0}

// Then returns the transform that applies m followed by n
func (m Matrix) Then(n Matrix) Matrix {
	return Matrix{
		n[0]*m[0] + n[1]*m[3],
		n[0]*m[1] + n[1]*m[4],
		n[0]*m[2] + n[1]*m[5] + n[2],
		n[3]*m[0] + n[4]*m[3],
		n[3]*m[1] + n[4]*m[4],
		n[3]*m[2] + n[4]*m[5] + n[5],
	}
}

// Translate returns m followed by a translation
func (m Matrix) Translate(dx, dy float64) Matrix {
	return m.Then(Matrix{1, 0, dx, 0, 1, dy})
}

// Scale returns m followed by a scale about the origin
func (m Matrix) Scale(sx, sy float64) Matrix {
	return m.Then(Matrix{sx, 0, 0, 0, sy, 0})
}

// Rotate returns m followed by a clockwise rotation (y axis pointing down)
// about the origin. Quarter turns are exact.
func (m Matrix) Rotate(degrees int) Matrix {
	var sin, cos float64
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		sin, cos = 0, 1
	case 90:
		sin, cos = 1, 0
	case 180:
		sin, cos = 0, -1
	case 270:
		sin, cos = -1, 0
	default:
		rad := float64(degrees) * math.Pi / 180
		sin, cos = math.Sincos(rad)
	}
	return m.Then(Matrix{cos, -sin, 0, sin, cos, 0})
}

// Apply maps a single point
func (m Matrix) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Invert returns the inverse transform
func (m Matrix) Invert() (Matrix, error) {
	det := m[0]*m[4] - m[1]*m[3]
	if det == 0 || math.IsNaN(det) {
		return Matrix{}, errors.New("matrix is not invertible")
	}
	return Matrix{
		m[4] / det,
		-m[1] / det,
		(m[1]*m[5] - m[4]*m[2]) / det,
		-m[3] / det,
		m[0] / det,
		(m[3]*m[2] - m[0]*m[5]) / det,
	}, nil
}

// MapRect maps all four corners of r and returns their bounding box
func (m Matrix) MapRect(r detector.BoundingBox) detector.BoundingBox {
	corners := [4][2]float64{
		{float64(r.X1), float64(r.Y1)},
		{float64(r.X2), float64(r.Y1)},
		{float64(r.X1), float64(r.Y2)},
		{float64(r.X2), float64(r.Y2)},
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		x, y := m.Apply(c[0], c[1])
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		maxX = math.Max(maxX, x)
		maxY = math.Max(maxY, y)
	}

	return detector.BoundingBox{
		X1: float32(minX),
		Y1: float32(minY),
		X2: float32(maxX),
		Y2: float32(maxY),
	}
}

// CropTransform builds the transform from a srcW x srcH frame to a dstW x dstH
// crop, rotating by a multiple of 90 degrees about the frame centre. With
// maintainAspect the larger of the two scale factors is used on both axes.
func CropTransform(srcW, srcH, dstW, dstH, rotation int, maintainAspect bool) (Matrix, error) {
	if rotation%90 != 0 {
		return Matrix{}, fmt.Errorf("rotation %d is not a multiple of 90", rotation)
	}
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return Matrix{}, fmt.Errorf("invalid sizes %dx%d -> %dx%d", srcW, srcH, dstW, dstH)
	}

	m := Identity
	if rotation != 0 {
		m = m.Translate(-float64(srcW)/2, -float64(srcH)/2).Rotate(rotation)
	}

	transpose := (abs(rotation)+90)%180 == 0
	inW, inH := srcW, srcH
	if transpose {
		inW, inH = srcH, srcW
	}

	if inW != dstW || inH != dstH {
		sx := float64(dstW) / float64(inW)
		sy := float64(dstH) / float64(inH)
		if maintainAspect {
			s := math.Max(sx, sy)
			m = m.Scale(s, s)
		} else {
			m = m.Scale(sx, sy)
		}
	}

	if rotation != 0 {
		m = m.Translate(float64(dstW)/2, float64(dstH)/2)
	}
	return m, nil
}

// Warp renders src into a new w x h image through m
func Warp(src image.Image, m Matrix, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Transform(dst, f64.Aff3(m), src, src.Bounds(), draw.Src, nil)
	return dst
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
