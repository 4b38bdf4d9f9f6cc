package detector

import "sort"

// WeightedNMS fuses overlapping candidates into representative boxes.
//
// The highest scoring remaining candidate seeds a cluster made of every
// remaining candidate whose IoU with it exceeds overlapThreshold. The
// cluster is replaced by the score-weighted mean of its coordinates, scaled
// to input pixels (inputWidth x inputHeight). Boxes are returned in cluster
// order, highest seed first.
func WeightedNMS(candidates []Candidate, overlapThreshold float32, inputWidth, inputHeight int) []BoundingBox {
	if len(candidates) == 0 {
		return []BoundingBox{}
	}

	// Ascending by score, ties keep input order
	remaining := make([]int, len(candidates))
	for i := range remaining {
		remaining[i] = i
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		return candidates[remaining[i]].Score < candidates[remaining[j]].Score
	})

	sx := float32(inputWidth)
	sy := float32(inputHeight)

	var output []BoundingBox
	cluster := make([]int, 0, len(remaining))
	rest := make([]int, 0, len(remaining))

	for len(remaining) > 0 {
		seedIdx := remaining[len(remaining)-1]
		seed := candidates[seedIdx].Box

		cluster = cluster[:0]
		rest = rest[:0]
		for _, idx := range remaining {
			if idx == seedIdx || iou(candidates[idx].Box, seed) > overlapThreshold {
				cluster = append(cluster, idx)
			} else {
				rest = append(rest, idx)
			}
		}

		fused := seed
		if len(cluster) > 1 {
			var x1, y1, x2, y2, total float32
			for _, idx := range cluster {
				c := candidates[idx]
				total += c.Score
				x1 += c.Box.X1 * c.Score
				y1 += c.Box.Y1 * c.Score
				x2 += c.Box.X2 * c.Score
				y2 += c.Box.Y2 * c.Score
			}
			if total > 0 {
				fused = BoundingBox{X1: x1 / total, Y1: y1 / total, X2: x2 / total, Y2: y2 / total}
			}
		}
		output = append(output, fused.Scale(sx, sy))

		remaining, rest = rest, remaining
	}

	return output
}

// iou calculates Intersection over Union of two bounding boxes
func iou(a, b BoundingBox) float32 {
	// Intersection
	x1 := max32(a.X1, b.X1)
	y1 := max32(a.Y1, b.Y1)
	x2 := min32(a.X2, b.X2)
	y2 := min32(a.Y2, b.Y2)

	if x1 >= x2 || y1 >= y2 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
