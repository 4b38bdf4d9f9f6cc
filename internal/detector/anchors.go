package detector

import "math"

// AnchorOptions describes the anchor layout of an SSD-style detector
type AnchorOptions struct {
	Strides      []int
	MinScale     float32
	MaxScale     float32
	InputHeight  int
	InputWidth   int
	AspectRatios int // anchors per scale, all with ratio 1.0
	OffsetX      float32
	OffsetY      float32
}

// GenerateAnchors precomputes the reference boxes for a fixed input size.
//
// Consecutive layers that share a stride are merged into one feature map.
// Anchors are emitted rows first, then columns, then per-cell scales, which
// is the row order of the detector's raw output tensors. Width and height
// are fixed to 1.0; box size is recovered from the regressor at decode time.
func GenerateAnchors(opts AnchorOptions) []Anchor {
	aspectRatios := opts.AspectRatios
	if aspectRatios <= 0 {
		aspectRatios = 1
	}

	numLayers := len(opts.Strides)
	anchors := make([]Anchor, 0, AnchorCount(opts))

	layerID := 0
	for layerID < numLayers {
		var scales []float32

		lastSameStride := layerID
		for lastSameStride < numLayers && opts.Strides[lastSameStride] == opts.Strides[layerID] {
			scale := calculateScale(opts.MinScale, opts.MaxScale, lastSameStride, numLayers)
			for i := 0; i < aspectRatios; i++ {
				scales = append(scales, scale)
			}

			next := float32(1.0)
			if lastSameStride < numLayers-1 {
				next = calculateScale(opts.MinScale, opts.MaxScale, lastSameStride+1, numLayers)
			}
			scales = append(scales, float32(math.Sqrt(float64(scale*next))))
			lastSameStride++
		}

		stride := opts.Strides[layerID]
		fmHeight := featureMapSize(opts.InputHeight, stride)
		fmWidth := featureMapSize(opts.InputWidth, stride)

		for y := 0; y < fmHeight; y++ {
			for x := 0; x < fmWidth; x++ {
				for range scales {
					anchors = append(anchors, Anchor{
						CenterX: (float32(x) + opts.OffsetX) / float32(fmWidth),
						CenterY: (float32(y) + opts.OffsetY) / float32(fmHeight),
						Width:   1.0,
						Height:  1.0,
					})
				}
			}
		}

		layerID = lastSameStride
	}

	return anchors
}

// AnchorCount returns the number of anchors GenerateAnchors emits for opts
func AnchorCount(opts AnchorOptions) int {
	aspectRatios := opts.AspectRatios
	if aspectRatios <= 0 {
		aspectRatios = 1
	}

	total := 0
	layerID := 0
	for layerID < len(opts.Strides) {
		group := 0
		last := layerID
		for last < len(opts.Strides) && opts.Strides[last] == opts.Strides[layerID] {
			group++
			last++
		}
		perCell := group * (aspectRatios + 1)
		stride := opts.Strides[layerID]
		total += featureMapSize(opts.InputHeight, stride) * featureMapSize(opts.InputWidth, stride) * perCell
		layerID = last
	}
	return total
}

func calculateScale(minScale, maxScale float32, strideIndex, numStrides int) float32 {
	if numStrides <= 1 {
		return minScale
	}
	return minScale + (maxScale-minScale)*float32(strideIndex)/float32(numStrides-1)
}

func featureMapSize(input, stride int) int {
	return int(math.Ceil(float64(input) / float64(stride)))
}
