package detector

import (
	"errors"
	"fmt"
	"math"
)

// ErrTensorShape is returned when raw detector outputs are shorter than the anchor set
var ErrTensorShape = errors.New("detector output does not match anchor count")

// DecodeOptions controls logit and regressor decoding
type DecodeOptions struct {
	ScoreThreshold float32
	NumCoords      int // regressor values per anchor
	XScale         float32
	YScale         float32
	WScale         float32
	HScale         float32
}

const scoreClipping = 100.0

// Decode converts raw per-anchor scores and box regressors into candidates.
//
// Scores are clipped to [-100, 100] before the sigmoid and anchors whose
// confidence is not strictly above the threshold are dropped. Candidates
// keep anchor order and stay in normalized input coordinates.
func Decode(scores, boxes []float32, anchors []Anchor, opts DecodeOptions) ([]Candidate, error) {
	numCoords := opts.NumCoords
	if numCoords < 4 {
		return nil, fmt.Errorf("invalid coordinate count %d: %w", numCoords, ErrTensorShape)
	}
	if len(scores) < len(anchors) {
		return nil, fmt.Errorf("%d scores for %d anchors: %w", len(scores), len(anchors), ErrTensorShape)
	}
	if len(boxes) < len(anchors)*numCoords {
		return nil, fmt.Errorf("%d box values for %d anchors: %w", len(boxes), len(anchors), ErrTensorShape)
	}

	var candidates []Candidate
	for i, anchor := range anchors {
		score := sigmoid(clamp(scores[i], -scoreClipping, scoreClipping))
		if score <= opts.ScoreThreshold {
			continue
		}

		offset := i * numCoords
		cx := boxes[offset]/opts.XScale*anchor.Width + anchor.CenterX
		cy := boxes[offset+1]/opts.YScale*anchor.Height + anchor.CenterY
		w := boxes[offset+2] / opts.WScale * anchor.Width
		h := boxes[offset+3] / opts.HScale * anchor.Height

		candidates = append(candidates, Candidate{
			Box: BoundingBox{
				X1: cx - w/2,
				Y1: cy - h/2,
				X2: cx + w/2,
				Y2: cy + h/2,
			},
			Score: score,
		})
	}

	return candidates, nil
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

func clamp(x, min, max float32) float32 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
