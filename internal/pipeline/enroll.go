package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/pillarpond/facerecognizer/internal/embedding"
	"github.com/pillarpond/facerecognizer/internal/logging"
)

// ImageSource is an enrollment image that can be opened for decoding
type ImageSource interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// FileSource reads an image from the filesystem
type FileSource string

func (f FileSource) Name() string { return string(f) }

func (f FileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(f)) //nolint:gosec // user-selected enrollment image
}

// BytesSource holds an already loaded image
type BytesSource struct {
	Label string
	Data  []byte
}

func (b BytesSource) Name() string { return b.Label }

func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}

// SkippedSource records an enrollment image that produced no embedding
type SkippedSource struct {
	Name string
	Err  error
}

// EnrollResult summarizes one enrollment batch
type EnrollResult struct {
	BatchID      uuid.UUID
	Label        int
	Embedded     int
	Skipped      []SkippedSource
	RegistrySize int
	Duration     time.Duration
}

type decoded struct {
	name string
	img  image.Image
}

// Enroll embeds one face from each source and retrains the classifier with
// them under label. Sources are decoded before the pipeline lock is taken.
// The first detected face is used; when none is found the whole image is
// embedded. Unreadable sources are reported in the result and skipped.
func (p *Pipeline) Enroll(ctx context.Context, label int, sources []ImageSource) (EnrollResult, error) {
	end := p.beginEnroll()
	defer end()
	return p.enroll(ctx, label, sources)
}

func (p *Pipeline) enroll(ctx context.Context, label int, sources []ImageSource) (EnrollResult, error) {
	start := time.Now()
	result := EnrollResult{
		BatchID: uuid.New(),
		Label:   label,
	}
	logger := p.logger.With("batch", result.BatchID.String())

	if len(sources) == 0 {
		return result, ErrNoEnrollmentImages
	}

	images, skipped := p.decodeSources(sources)
	result.Skipped = skipped

	p.mu.Lock()
	defer p.mu.Unlock()

	result.RegistrySize = len(p.classNames)
	if err := p.usable(); err != nil {
		return result, err
	}
	if label < 0 || label >= len(p.classNames) {
		return result, fmt.Errorf("label %d of %d: %w", label, len(p.classNames), ErrUnknownLabel)
	}

	vecs := make([]embedding.Embedding, 0, len(images))
	for _, d := range images {
		emb, err := p.embedFirstFace(d.img)
		if err != nil {
			logger.WarnContext(ctx, "enrollment image skipped", "source", d.name, "error", err)
			result.Skipped = append(result.Skipped, SkippedSource{Name: d.name, Err: err})
			continue
		}
		vecs = append(vecs, emb)
	}

	if len(vecs) == 0 {
		logging.LogEnroll(ctx, logger, label, 0, len(result.Skipped), ErrNoEnrollmentImages)
		return result, ErrNoEnrollmentImages
	}

	if err := p.classifier.Train(label, vecs); err != nil {
		err = fmt.Errorf("failed to train classifier: %w", err)
		logging.LogEnroll(ctx, logger, label, 0, len(result.Skipped), err)
		return result, err
	}
	if err := p.checkClasses(); err != nil {
		logger.ErrorContext(ctx, "classifier out of sync with registry", "error", err)
		return result, err
	}

	result.Embedded = len(vecs)
	result.Duration = time.Since(start)
	logging.LogEnroll(ctx, logger, label, result.Embedded, len(result.Skipped), nil)
	return result, nil
}

// embedFirstFace must be called with the lock held
func (p *Pipeline) embedFirstFace(img image.Image) (embedding.Embedding, error) {
	faces, err := p.detector.Detect(img)
	if err != nil {
		return embedding.Embedding{}, fmt.Errorf("detection failed: %w", err)
	}

	var rect image.Rectangle
	if len(faces) > 0 {
		rect = faces[0].Rect()
	}

	emb, err := p.encoder.Extract(img, rect)
	if errors.Is(err, embedding.ErrInvalidRegion) {
		emb, err = p.encoder.Extract(img, img.Bounds())
	}
	if err != nil {
		return embedding.Embedding{}, fmt.Errorf("embedding failed: %w", err)
	}
	return emb, nil
}

// decodeSources decodes every source with bounded concurrency and keeps the
// input order
func (p *Pipeline) decodeSources(sources []ImageSource) ([]decoded, []SkippedSource) {
	images := make([]image.Image, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(p.decodeWorkers)
	for i, src := range sources {
		g.Go(func() error {
			images[i], errs[i] = decodeSource(src)
			return nil
		})
	}
	_ = g.Wait()

	var (
		out     []decoded
		skipped []SkippedSource
	)
	for i, src := range sources {
		if errs[i] != nil {
			skipped = append(skipped, SkippedSource{Name: src.Name(), Err: errs[i]})
			continue
		}
		out = append(out, decoded{name: src.Name(), img: images[i]})
	}
	return out, skipped
}

func decodeSource(src ImageSource) (image.Image, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEnrollmentIO, src.Name(), err)
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEnrollmentIO, src.Name(), err)
	}
	return img, nil
}
