package embedding

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// ErrInvalidRegion is returned for face rectangles with no area inside the image
var ErrInvalidRegion = errors.New("invalid face region")

// RegionError reports the rejected rectangle
type RegionError struct {
	Rect   image.Rectangle
	Bounds image.Rectangle
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("invalid face region %v in image %v", e.Rect, e.Bounds)
}

func (e *RegionError) Unwrap() error { return ErrInvalidRegion }

// Prepare crops rect out of img, resamples it to width x height with
// bilinear interpolation and returns the prewhitened RGB samples in HWC order.
func Prepare(img image.Image, rect image.Rectangle, height, width int) ([]float32, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}

	bounds := img.Bounds()
	region := rect.Intersect(bounds)
	if rect.Empty() || region.Empty() {
		return nil, &RegionError{Rect: rect, Bounds: bounds}
	}

	crop := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(crop, crop.Bounds(), img, region, draw.Src, nil)

	samples := make([]float32, 0, width*height*3)
	for i := 0; i < len(crop.Pix); i += 4 {
		samples = append(samples, float32(crop.Pix[i]), float32(crop.Pix[i+1]), float32(crop.Pix[i+2]))
	}

	Prewhiten(samples)
	return samples, nil
}

// Prewhiten standardizes samples in place using their own mean and
// population standard deviation. The deviation is floored at 1/sqrt(n) so
// flat crops do not blow up.
func Prewhiten(samples []float32) {
	n := len(samples)
	if n == 0 {
		return
	}

	var sum float64
	for _, v := range samples {
		sum += float64(v)
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range samples {
		d := float64(v) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n))
	std = math.Max(std, 1.0/math.Sqrt(float64(n)))

	for i, v := range samples {
		samples[i] = float32((float64(v) - mean) / std)
	}
}
