package pipeline

import (
	"image"

	"github.com/pillarpond/facerecognizer/internal/detector"
	"github.com/pillarpond/facerecognizer/internal/embedding"
)

// FaceDetector interface for face detection. Boxes are in image pixel
// coordinates.
type FaceDetector interface {
	Detect(img image.Image) ([]detector.BoundingBox, error)
	Close() error
}

// FaceEncoder interface for face embedding extraction
type FaceEncoder interface {
	Extract(img image.Image, rect image.Rectangle) (embedding.Embedding, error)
	Close() error
}
