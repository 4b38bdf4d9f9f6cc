package pipeline

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pillarpond/facerecognizer/internal/logging"
)

// FrameResult is the outcome of one admitted frame
type FrameResult struct {
	Ordinal      uint64
	Recognitions []Recognition
	Timing       Timing
	Err          error
}

// EnrollOutcome is the outcome of a background enrollment
type EnrollOutcome struct {
	Result EnrollResult
	Err    error
}

// Dispatcher admits camera frames into a Pipeline. At most one recognition
// runs at a time; frames that arrive while one is running, or while an
// enrollment is in flight, are dropped rather than queued.
type Dispatcher struct {
	pipeline *Pipeline
	logger   *slog.Logger

	ordinal  atomic.Uint64
	inFlight atomic.Bool
	dropped  atomic.Uint64

	mu     sync.Mutex // guards closed and wg.Add
	closed bool
	wg     sync.WaitGroup
	done   chan struct{}

	emitMu      sync.Mutex
	lastEmitted uint64
	results     chan FrameResult
}

// NewDispatcher creates a dispatcher over p. buffer sizes the results channel.
func NewDispatcher(p *Pipeline, buffer int, logger *slog.Logger) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{
		pipeline: p,
		logger:   logging.OrDiscard(logger),
		done:     make(chan struct{}),
		results:  make(chan FrameResult, buffer),
	}
}

// Submit assigns the frame the next ordinal and starts recognition on it
// unless the pipeline is busy. The frame must not be modified until its
// result is delivered.
func (d *Dispatcher) Submit(ctx context.Context, img image.Image, remap Transform) (uint64, bool) {
	ordinal := d.ordinal.Add(1)

	if d.pipeline.Busy() {
		d.dropped.Add(1)
		return ordinal, false
	}
	if !d.inFlight.CompareAndSwap(false, true) {
		d.dropped.Add(1)
		return ordinal, false
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.inFlight.Store(false)
		return ordinal, false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.inFlight.Store(false)

		start := time.Now()
		recs, err := d.pipeline.RecognizeFrame(ctx, img, remap)
		logging.LogFrame(ctx, d.logger, ordinal, len(recs), time.Since(start), err)

		d.emit(FrameResult{
			Ordinal:      ordinal,
			Recognitions: recs,
			Timing:       d.pipeline.LastTiming(),
			Err:          err,
		})
	}()

	return ordinal, true
}

func (d *Dispatcher) emit(r FrameResult) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	if r.Ordinal <= d.lastEmitted {
		d.logger.Debug("discarding stale result", "ordinal", r.Ordinal, "last", d.lastEmitted)
		return
	}
	d.lastEmitted = r.Ordinal

	select {
	case d.results <- r:
	case <-d.done:
	}
}

// Results delivers frame results in strictly increasing ordinal order. The
// channel is closed by Close.
func (d *Dispatcher) Results() <-chan FrameResult {
	return d.results
}

// Dropped returns how many frames were not admitted
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Enroll runs an enrollment in the background. Frames submitted from now
// until it finishes are dropped. The returned channel yields one outcome.
func (d *Dispatcher) Enroll(ctx context.Context, label int, sources []ImageSource) <-chan EnrollOutcome {
	out := make(chan EnrollOutcome, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		out <- EnrollOutcome{Err: ErrClosed}
		close(out)
		return out
	}
	d.wg.Add(1)
	d.mu.Unlock()

	end := d.pipeline.beginEnroll()
	go func() {
		defer d.wg.Done()
		defer close(out)
		defer end()

		res, err := d.pipeline.enroll(ctx, label, sources)
		out <- EnrollOutcome{Result: res, Err: err}
	}()
	return out
}

// Close waits for in-flight work and closes the results channel. The
// pipeline itself is not closed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()
	close(d.results)
}
