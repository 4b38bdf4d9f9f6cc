package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/pillarpond/facerecognizer/internal/detector"
)

// Recognition describes one recognized face. Every field is optional.
type Recognition struct {
	ID         *string // label index as text
	Title      *string // display name
	Confidence *float32
	Location   *detector.BoundingBox // frame coordinates
}

func (r Recognition) String() string {
	var parts []string
	if r.ID != nil {
		parts = append(parts, "["+*r.ID+"]")
	}
	if r.Title != nil {
		parts = append(parts, *r.Title)
	}
	if r.Confidence != nil {
		parts = append(parts, fmt.Sprintf("(%.1f%%)", *r.Confidence*100))
	}
	if r.Location != nil {
		parts = append(parts, r.Location.String())
	}
	return strings.Join(parts, " ")
}

// Timing holds performance timing information
type Timing struct {
	Detection      time.Duration
	Embedding      time.Duration
	Classification time.Duration
	Total          time.Duration
}

func ptr[T any](v T) *T {
	return &v
}
