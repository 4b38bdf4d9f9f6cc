// Package pipeline runs detection, embedding and classification over frames
// and manages identity enrollment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pillarpond/facerecognizer/internal/classifier"
	"github.com/pillarpond/facerecognizer/internal/embedding"
	"github.com/pillarpond/facerecognizer/internal/labels"
	"github.com/pillarpond/facerecognizer/internal/logging"
)

// AddPersonEntry is the first entry of DisplayNames
const AddPersonEntry = "+ add new person"

const defaultDecodeWorkers = 4

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLocker replaces the lock guarding the models and registry
func WithLocker(l sync.Locker) Option {
	return func(p *Pipeline) { p.mu = l }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.OrDiscard(l) }
}

// WithDecodeWorkers bounds concurrent enrollment image decoding
func WithDecodeWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.decodeWorkers = n
		}
	}
}

// Pipeline orchestrates face recognition and enrollment. One lock guards the
// detector, encoder, classifier and class registry.
type Pipeline struct {
	mu         sync.Locker
	detector   FaceDetector
	encoder    FaceEncoder
	classifier classifier.Classifier
	labels     labels.Store
	classNames []string
	broken     error
	closed     bool

	enrolling     atomic.Int32
	decodeWorkers int
	logger        *slog.Logger

	timingMu   sync.Mutex
	lastTiming Timing
}

// New creates a pipeline over already loaded models. The registry is read
// from store and checked against the classifier.
func New(det FaceDetector, enc FaceEncoder, clf classifier.Classifier, store labels.Store, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		mu:            &sync.Mutex{},
		detector:      det,
		encoder:       enc,
		classifier:    clf,
		labels:        store,
		decodeWorkers: defaultDecodeWorkers,
		logger:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}

	names, err := store.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load class names: %w", err)
	}
	p.classNames = names

	if n := clf.NumClasses(); n > len(names) {
		return nil, &StateMismatchError{NumClasses: n, Registry: len(names)}
	}

	p.logger.Info("pipeline ready", "classes", len(names))
	return p, nil
}

// Busy reports whether an enrollment is in flight
func (p *Pipeline) Busy() bool {
	return p.enrolling.Load() > 0
}

func (p *Pipeline) beginEnroll() func() {
	p.enrolling.Add(1)
	return func() { p.enrolling.Add(-1) }
}

// usable must be called with the lock held
func (p *Pipeline) usable() error {
	if p.closed {
		return ErrClosed
	}
	return p.broken
}

// checkClasses must be called with the lock held
func (p *Pipeline) checkClasses() error {
	if n := p.classifier.NumClasses(); n > len(p.classNames) {
		p.broken = &StateMismatchError{NumClasses: n, Registry: len(p.classNames)}
	}
	return p.broken
}

// checkLabel must be called with the lock held
func (p *Pipeline) checkLabel(label int) error {
	if err := p.checkClasses(); err != nil {
		return err
	}
	if label < 0 || label >= len(p.classNames) {
		p.broken = &StateMismatchError{Label: label, Predicted: true, NumClasses: p.classifier.NumClasses(), Registry: len(p.classNames)}
	}
	return p.broken
}

// RecognizeFrame detects, embeds and classifies every face in img. Face
// locations are mapped into frame space with remap (nil for identity).
// A face whose region cannot be embedded or classified is skipped.
func (p *Pipeline) RecognizeFrame(ctx context.Context, img image.Image, remap Transform) ([]Recognition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.usable(); err != nil {
		return nil, err
	}
	if remap == nil {
		remap = Identity
	}

	totalStart := time.Now()
	var timing Timing

	detectStart := time.Now()
	faces, err := p.detector.Detect(img)
	timing.Detection = time.Since(detectStart)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	results := make([]Recognition, 0, len(faces))
	for _, face := range faces {
		if face.Empty() {
			p.logger.DebugContext(ctx, "skipping empty detection", "box", face)
			continue
		}
		rect := face.Rect()

		embedStart := time.Now()
		emb, err := p.encoder.Extract(img, rect)
		timing.Embedding += time.Since(embedStart)
		if errors.Is(err, embedding.ErrInvalidRegion) {
			p.logger.DebugContext(ctx, "skipping face", "rect", rect, "error", err)
			continue
		}
		if err != nil {
			p.logger.WarnContext(ctx, "embedding failed", "rect", rect, "error", err)
			continue
		}

		classifyStart := time.Now()
		label, prob, err := p.classifier.Predict(emb)
		timing.Classification += time.Since(classifyStart)
		if err != nil {
			p.logger.DebugContext(ctx, "classification skipped", "rect", rect, "error", err)
			continue
		}

		if err := p.checkLabel(label); err != nil {
			p.logger.ErrorContext(ctx, "classifier out of sync with registry", "error", err)
			return nil, err
		}

		loc := remap.MapRect(face)
		results = append(results, Recognition{
			ID:         ptr(strconv.Itoa(label)),
			Title:      ptr(p.classNames[label]),
			Confidence: ptr(prob),
			Location:   &loc,
		})
	}

	timing.Total = time.Since(totalStart)
	p.timingMu.Lock()
	p.lastTiming = timing
	p.timingMu.Unlock()

	return results, nil
}

// AddIdentity appends name to the registry and the label store and returns
// the new registry size
func (p *Pipeline) AddIdentity(name string) (int, error) {
	if strings.TrimSpace(name) == "" {
		return 0, ErrEmptyName
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}

	if err := p.labels.Append(name); err != nil {
		return 0, fmt.Errorf("failed to store identity: %w", err)
	}
	p.classNames = append(p.classNames, name)

	p.logger.Info("identity added", "name", name, "label", len(p.classNames)-1)
	return len(p.classNames), nil
}

// ClassNames returns a copy of the registry
func (p *Pipeline) ClassNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.classNames...)
}

// DisplayNames returns the registry prefixed with AddPersonEntry, so entry
// i+1 is label i
func (p *Pipeline) DisplayNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.classNames)+1)
	out = append(out, AddPersonEntry)
	return append(out, p.classNames...)
}

// LastTiming returns timing from the last RecognizeFrame call
func (p *Pipeline) LastTiming() Timing {
	p.timingMu.Lock()
	defer p.timingMu.Unlock()
	return p.lastTiming
}

// Close releases the models. Calls after the first return nil.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.detector != nil {
		if err := p.detector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close detector: %w", err))
		}
	}
	if p.encoder != nil {
		if err := p.encoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close encoder: %w", err))
		}
	}
	if p.classifier != nil {
		if err := p.classifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close classifier: %w", err))
		}
	}

	return errors.Join(errs...)
}
