package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillarpond/facerecognizer/internal/classifier"
	"github.com/pillarpond/facerecognizer/internal/detector"
	"github.com/pillarpond/facerecognizer/internal/embedding"
)

// eventLog is shared by the stubs so tests can check interleaving
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) index(e string, from int) int {
	events := l.snapshot()
	for i := from; i < len(events); i++ {
		if events[i] == e {
			return i
		}
	}
	return -1
}

type recordingLocker struct {
	inner sync.Mutex
	log   *eventLog
}

func (r *recordingLocker) Lock() {
	r.inner.Lock()
	r.log.add("lock")
}

func (r *recordingLocker) Unlock() {
	r.log.add("unlock")
	r.inner.Unlock()
}

type stubDetector struct {
	faces   []detector.BoundingBox
	err     error
	log     *eventLog
	started chan struct{} // signalled on each Detect when set
	release chan struct{} // Detect waits on it when set
	closed  bool
}

func (s *stubDetector) Detect(img image.Image) ([]detector.BoundingBox, error) {
	s.log.add("detect")
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	return s.faces, s.err
}

func (s *stubDetector) Close() error {
	s.closed = true
	return nil
}

// stubEncoder validates regions like the real encoder and records them
type stubEncoder struct {
	mu     sync.Mutex
	rects  []image.Rectangle
	fail   map[image.Rectangle]error
	closed bool
}

func (s *stubEncoder) Extract(img image.Image, rect image.Rectangle) (embedding.Embedding, error) {
	s.mu.Lock()
	s.rects = append(s.rects, rect)
	s.mu.Unlock()

	if _, err := embedding.Prepare(img, rect, 4, 4); err != nil {
		return embedding.Embedding{}, err
	}
	if err := s.fail[rect]; err != nil {
		return embedding.Embedding{}, err
	}
	var e embedding.Embedding
	e[0] = float32(rect.Dx())
	return e, nil
}

func (s *stubEncoder) Close() error {
	s.closed = true
	return nil
}

type trainCall struct {
	label int
	vecs  []embedding.Embedding
}

type stubClassifier struct {
	mu         sync.Mutex
	label      int
	prob       float32
	predictErr error
	numClasses int
	trains     []trainCall
	log        *eventLog
	started    chan struct{}
	release    chan struct{}
	closed     bool
}

func (s *stubClassifier) Train(label int, vecs []embedding.Embedding) error {
	s.log.add("train-start")
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.trains = append(s.trains, trainCall{label: label, vecs: vecs})
	if label+1 > s.numClasses {
		s.numClasses = label + 1
	}
	s.mu.Unlock()
	s.log.add("train-end")
	return nil
}

func (s *stubClassifier) Predict(embedding.Embedding) (int, float32, error) {
	return s.label, s.prob, s.predictErr
}

func (s *stubClassifier) NumClasses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numClasses
}

func (s *stubClassifier) Close() error {
	s.closed = true
	return nil
}

type memStore struct {
	names []string
	err   error
}

func (m *memStore) ReadAll() ([]string, error) {
	return append([]string(nil), m.names...), m.err
}

func (m *memStore) Append(name string) error {
	if m.err != nil {
		return m.err
	}
	m.names = append(m.names, name)
	return nil
}

type fixture struct {
	det   *stubDetector
	enc   *stubEncoder
	clf   *stubClassifier
	store *memStore
	log   *eventLog
}

func newFixture(names ...string) *fixture {
	log := &eventLog{}
	return &fixture{
		det:   &stubDetector{log: log},
		enc:   &stubEncoder{},
		clf:   &stubClassifier{log: log, prob: 0.97},
		store: &memStore{names: names},
		log:   log,
	}
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(f.det, f.enc, f.clf, f.store, opts...)
	require.NoError(t, err)
	return p
}

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	return img
}

func pngSource(t *testing.T, name string, w, h int) BytesSource {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(w, h)))
	return BytesSource{Label: name, Data: buf.Bytes()}
}

// fakeRuntime serves fixed detector outputs
type fakeRuntime struct {
	outputs [][]float32
}

func (f *fakeRuntime) Run([]float32) ([][]float32, error) { return f.outputs, nil }
func (f *fakeRuntime) Close() error                       { return nil }

// centeredFace places one confident detection at anchor index whose box
// spans [32, 96] on a 128x128 input
func centeredFace(opts detector.Options, index int) [][]float32 {
	anchors := detector.GenerateAnchors(detector.AnchorOptions{
		Strides:      opts.Strides,
		MinScale:     opts.MinScale,
		MaxScale:     opts.MaxScale,
		InputHeight:  opts.InputHeight,
		InputWidth:   opts.InputWidth,
		AspectRatios: 1,
		OffsetX:      0.5,
		OffsetY:      0.5,
	})

	scores := make([]float32, len(anchors))
	for i := range scores {
		scores[i] = -100
	}
	scores[index] = 100

	boxes := make([]float32, len(anchors)*opts.NumCoords)
	a := anchors[index]
	boxes[index*opts.NumCoords+0] = (0.5 - a.CenterX) * opts.BoxScale
	boxes[index*opts.NumCoords+1] = (0.5 - a.CenterY) * opts.BoxScale
	boxes[index*opts.NumCoords+2] = 64
	boxes[index*opts.NumCoords+3] = 64
	return [][]float32{boxes, scores}
}

func TestRecognizeFrame_EndToEnd(t *testing.T) {
	opts := detector.DefaultOptions()
	det, err := detector.NewBlazeFace(&fakeRuntime{outputs: centeredFace(opts, 100)}, opts)
	require.NoError(t, err)

	enc := &stubEncoder{}
	clf := &stubClassifier{label: 0, prob: 0.97, numClasses: 1}
	p, err := New(det, enc, clf, &memStore{names: []string{"Alice"}})
	require.NoError(t, err)

	recs, err := p.RecognizeFrame(context.Background(), solidImage(128, 128), nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	require.NotNil(t, r.ID)
	require.NotNil(t, r.Title)
	require.NotNil(t, r.Confidence)
	require.NotNil(t, r.Location)
	assert.Equal(t, "0", *r.ID)
	assert.Equal(t, "Alice", *r.Title)
	assert.Equal(t, float32(0.97), *r.Confidence)
	assert.InDelta(t, 32, r.Location.X1, 1e-3)
	assert.InDelta(t, 32, r.Location.Y1, 1e-3)
	assert.InDelta(t, 96, r.Location.X2, 1e-3)
	assert.InDelta(t, 96, r.Location.Y2, 1e-3)

	assert.Equal(t, []image.Rectangle{image.Rect(32, 32, 96, 96)}, enc.rects)
	assert.Equal(t, "[0] Alice (97.0%) BoundingBox(32.0, 32.0, 96.0, 96.0)", r.String())

	timing := p.LastTiming()
	assert.GreaterOrEqual(t, timing.Total, timing.Detection)
}

func TestRecognizeFrame_RemapsLocation(t *testing.T) {
	f := newFixture("Alice")
	f.det.faces = []detector.BoundingBox{{X1: 10, Y1: 20, X2: 30, Y2: 40}}
	f.clf.numClasses = 1
	p := f.pipeline(t)

	recs, err := p.RecognizeFrame(context.Background(), solidImage(64, 64), Identity.Scale(2, 3))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, detector.BoundingBox{X1: 20, Y1: 60, X2: 60, Y2: 120}, *recs[0].Location)
}

func TestRecognizeFrame_SkipsInvalidRegions(t *testing.T) {
	f := newFixture("Alice")
	f.det.faces = []detector.BoundingBox{
		{X1: 100, Y1: 100, X2: 120, Y2: 120}, // outside the image
		{X1: 5, Y1: 5, X2: 5, Y2: 30},        // zero width
		{X1: 4, Y1: 4, X2: 20, Y2: 20},
	}
	f.clf.numClasses = 1
	p := f.pipeline(t)

	recs, err := p.RecognizeFrame(context.Background(), solidImage(64, 64), nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, detector.BoundingBox{X1: 4, Y1: 4, X2: 20, Y2: 20}, *recs[0].Location)
}

func TestRecognizeFrame_SkipsInvertedBoxes(t *testing.T) {
	f := newFixture("Alice")
	f.det.faces = []detector.BoundingBox{
		{X1: 30, Y1: 30, X2: 10, Y2: 10},
		{X1: 4, Y1: 20, X2: 20, Y2: 4},
	}
	f.clf.numClasses = 1
	p := f.pipeline(t)

	recs, err := p.RecognizeFrame(context.Background(), solidImage(64, 64), nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, f.enc.rects)
}

func TestRecognizeFrame_EmbeddingFailureSkipsOnlyThatFace(t *testing.T) {
	f := newFixture("Alice")
	f.det.faces = []detector.BoundingBox{
		{X1: 2, Y1: 2, X2: 20, Y2: 20},
		{X1: 30, Y1: 30, X2: 50, Y2: 50},
	}
	f.enc.fail = map[image.Rectangle]error{
		image.Rect(2, 2, 20, 20): errors.New("runtime hiccup"),
	}
	f.clf.numClasses = 1
	p := f.pipeline(t)

	recs, err := p.RecognizeFrame(context.Background(), solidImage(64, 64), nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, detector.BoundingBox{X1: 30, Y1: 30, X2: 50, Y2: 50}, *recs[0].Location)
	assert.Len(t, f.enc.rects, 2)
}

func TestRecognizeFrame_SkipsUnclassifiedFaces(t *testing.T) {
	f := newFixture("Alice")
	f.det.faces = []detector.BoundingBox{{X1: 4, Y1: 4, X2: 20, Y2: 20}}
	f.clf.predictErr = classifier.ErrNotTrained
	p := f.pipeline(t)

	recs, err := p.RecognizeFrame(context.Background(), solidImage(64, 64), nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecognizeFrame_DetectionFailure(t *testing.T) {
	f := newFixture("Alice")
	f.det.err = errors.New("runtime exploded")
	p := f.pipeline(t)

	_, err := p.RecognizeFrame(context.Background(), solidImage(64, 64), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime exploded")

	// not fatal
	f.det.err = nil
	_, err = p.RecognizeFrame(context.Background(), solidImage(64, 64), nil)
	assert.NoError(t, err)
}

func TestRecognizeFrame_LabelOutOfRangeIsFatal(t *testing.T) {
	f := newFixture("Alice")
	f.det.faces = []detector.BoundingBox{{X1: 4, Y1: 4, X2: 20, Y2: 20}}
	f.clf.label = 3
	p := f.pipeline(t)

	_, err := p.RecognizeFrame(context.Background(), solidImage(64, 64), nil)
	require.ErrorIs(t, err, ErrClassifierStateMismatch)

	var mismatch *StateMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, mismatch.Predicted)
	assert.Equal(t, 3, mismatch.Label)
	assert.Equal(t, 1, mismatch.Registry)

	// stays broken even if the classifier recovers
	f.clf.label = 0
	_, err = p.RecognizeFrame(context.Background(), solidImage(64, 64), nil)
	assert.ErrorIs(t, err, ErrClassifierStateMismatch)

	_, err = p.Enroll(context.Background(), 0, []ImageSource{pngSource(t, "a.png", 32, 32)})
	assert.ErrorIs(t, err, ErrClassifierStateMismatch)
}

func TestNew_ClassifierAheadOfRegistry(t *testing.T) {
	f := newFixture("Alice")
	f.clf.numClasses = 2

	_, err := New(f.det, f.enc, f.clf, f.store)
	assert.ErrorIs(t, err, ErrClassifierStateMismatch)
}

func TestNew_StoreFailure(t *testing.T) {
	f := newFixture()
	f.store.err = errors.New("disk gone")

	_, err := New(f.det, f.enc, f.clf, f.store)
	assert.Error(t, err)
}

func TestEnroll_NoFaceUsesWholeImage(t *testing.T) {
	f := newFixture("Alice")
	p := f.pipeline(t)

	res, err := p.Enroll(context.Background(), 0, []ImageSource{pngSource(t, "a.png", 48, 40)})
	require.NoError(t, err)

	// zero rectangle first, then the full image
	require.Len(t, f.enc.rects, 2)
	assert.Equal(t, image.Rectangle{}, f.enc.rects[0])
	assert.Equal(t, image.Rect(0, 0, 48, 40), f.enc.rects[1])

	require.Len(t, f.clf.trains, 1)
	assert.Equal(t, 0, f.clf.trains[0].label)
	assert.Len(t, f.clf.trains[0].vecs, 1)

	assert.Equal(t, 1, res.RegistrySize)
	assert.Equal(t, 1, res.Embedded)
	assert.Empty(t, res.Skipped)
	assert.NotEqual(t, [16]byte{}, [16]byte(res.BatchID))
	assert.Len(t, p.ClassNames(), 1)
}

func TestEnroll_UsesFirstFace(t *testing.T) {
	f := newFixture("Alice")
	f.det.faces = []detector.BoundingBox{
		{X1: 2, Y1: 2, X2: 12.4, Y2: 12.6},
		{X1: 20, Y1: 20, X2: 30, Y2: 30},
	}
	p := f.pipeline(t)

	_, err := p.Enroll(context.Background(), 0, []ImageSource{pngSource(t, "a.png", 32, 32)})
	require.NoError(t, err)
	assert.Equal(t, []image.Rectangle{image.Rect(2, 2, 12, 13)}, f.enc.rects)
}

func TestEnroll_SkipsUnreadableSources(t *testing.T) {
	f := newFixture("Alice", "Bob")
	p := f.pipeline(t, WithDecodeWorkers(2))

	sources := []ImageSource{
		BytesSource{Label: "garbage", Data: []byte("not an image")},
		pngSource(t, "ok-1.png", 16, 16),
		FileSource("/does/not/exist.jpg"),
		pngSource(t, "ok-2.png", 24, 24),
	}

	res, err := p.Enroll(context.Background(), 1, sources)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Embedded)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "garbage", res.Skipped[0].Name)
	assert.ErrorIs(t, res.Skipped[0].Err, ErrEnrollmentIO)
	assert.Equal(t, "/does/not/exist.jpg", res.Skipped[1].Name)
	assert.ErrorIs(t, res.Skipped[1].Err, ErrEnrollmentIO)

	// decode order is kept
	require.Len(t, f.clf.trains, 1)
	vecs := f.clf.trains[0].vecs
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(16), vecs[0][0])
	assert.Equal(t, float32(24), vecs[1][0])
}

func TestEnroll_Errors(t *testing.T) {
	f := newFixture("Alice")
	p := f.pipeline(t)
	ctx := context.Background()

	_, err := p.Enroll(ctx, 0, nil)
	assert.ErrorIs(t, err, ErrNoEnrollmentImages)

	_, err = p.Enroll(ctx, 1, []ImageSource{pngSource(t, "a.png", 8, 8)})
	assert.ErrorIs(t, err, ErrUnknownLabel)

	_, err = p.Enroll(ctx, 0, []ImageSource{BytesSource{Label: "bad", Data: []byte{1, 2, 3}}})
	assert.ErrorIs(t, err, ErrNoEnrollmentImages)

	assert.Empty(t, f.clf.trains)
	assert.False(t, p.Busy())
}

func TestAddIdentity(t *testing.T) {
	f := newFixture("Alice")
	p := f.pipeline(t)

	n, err := p.AddIdentity("Bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"Alice", "Bob"}, f.store.names)
	assert.Equal(t, []string{"Alice", "Bob"}, p.ClassNames())
	assert.Equal(t, []string{AddPersonEntry, "Alice", "Bob"}, p.DisplayNames())

	_, err = p.AddIdentity("  ")
	assert.ErrorIs(t, err, ErrEmptyName)
	assert.Len(t, p.ClassNames(), 2)
}

func TestAddIdentity_StoreFailureLeavesRegistry(t *testing.T) {
	f := newFixture("Alice")
	p := f.pipeline(t)
	f.store.err = errors.New("read-only")

	_, err := p.AddIdentity("Bob")
	assert.Error(t, err)
	assert.Equal(t, []string{"Alice"}, p.ClassNames())
}

func TestClose(t *testing.T) {
	f := newFixture("Alice")
	p := f.pipeline(t)

	require.NoError(t, p.Close())
	assert.True(t, f.det.closed)
	assert.True(t, f.enc.closed)
	assert.True(t, f.clf.closed)

	require.NoError(t, p.Close())

	_, err := p.RecognizeFrame(context.Background(), solidImage(8, 8), nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = p.AddIdentity("Bob")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecognizeFrame_WaitsForEnrollment(t *testing.T) {
	f := newFixture("Alice")
	f.det.faces = []detector.BoundingBox{{X1: 4, Y1: 4, X2: 20, Y2: 20}}
	f.clf.started = make(chan struct{})
	f.clf.release = make(chan struct{})
	p := f.pipeline(t, WithLocker(&recordingLocker{log: f.log}))
	ctx := context.Background()

	sources := []ImageSource{pngSource(t, "a.png", 32, 32)}
	enrollDone := make(chan error, 1)
	go func() {
		_, err := p.Enroll(ctx, 0, sources)
		enrollDone <- err
	}()
	<-f.clf.started
	assert.True(t, p.Busy())

	recDone := make(chan error, 1)
	go func() {
		_, err := p.RecognizeFrame(ctx, solidImage(32, 32), nil)
		recDone <- err
	}()

	select {
	case <-recDone:
		t.Fatal("recognition ran while enrollment held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.clf.release)
	require.NoError(t, <-enrollDone)
	require.NoError(t, <-recDone)
	assert.False(t, p.Busy())

	trainEnd := f.log.index("train-end", 0)
	require.GreaterOrEqual(t, trainEnd, 0)
	unlock := f.log.index("unlock", trainEnd)
	require.Greater(t, unlock, trainEnd)
	relock := f.log.index("lock", unlock)
	require.Greater(t, relock, unlock)
	assert.Greater(t, f.log.index("detect", relock), relock)
}
