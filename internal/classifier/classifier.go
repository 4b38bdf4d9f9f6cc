// Package classifier maps face embeddings to enrolled identity labels.
package classifier

import (
	"errors"

	"github.com/pillarpond/facerecognizer/internal/embedding"
)

var (
	// ErrNotTrained is returned by Predict before any samples were trained
	ErrNotTrained = errors.New("classifier has no training data")
	// ErrInvalidLabel is returned for negative labels
	ErrInvalidLabel = errors.New("invalid label")
	// ErrNoMatch is returned when no neighbor carries any similarity,
	// e.g. for an all-zero embedding
	ErrNoMatch = errors.New("no similar samples")
)

// Classifier is trained with labelled embeddings and predicts the label of
// new ones. Training is append-and-retrain: every call rebuilds the model
// from the full accumulated feature set.
type Classifier interface {
	Train(label int, samples []embedding.Embedding) error
	Predict(e embedding.Embedding) (label int, probability float32, err error)
	// NumClasses is the size of the label space, highest trained label + 1
	NumClasses() int
	Close() error
}
