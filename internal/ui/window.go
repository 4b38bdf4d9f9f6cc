package ui

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"github.com/pillarpond/facerecognizer/internal/pipeline"
)

var (
	textColor    = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	unknownColor = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	boxColors    = []color.RGBA{
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
	}
)

// Window manages the preview display
type Window struct {
	window     *gocv.Window
	name       string
	lastFrame  time.Time
	frameCount int
	fps        float64
}

// NewWindow creates a new preview window
func NewWindow(name string, width, height int) *Window {
	window := gocv.NewWindow(name)
	window.ResizeWindow(width, height)
	window.MoveWindow(100, 100)
	return &Window{
		window:    window,
		name:      name,
		lastFrame: time.Now(),
	}
}

// Show draws recognitions and stats onto frame, displays it and updates
// the FPS counter
func (w *Window) Show(frame *gocv.Mat, recs []pipeline.Recognition, timing pipeline.Timing, dropped uint64) {
	w.frameCount++
	now := time.Now()

	// Calculate FPS every second
	elapsed := now.Sub(w.lastFrame)
	if elapsed >= time.Second {
		w.fps = float64(w.frameCount) / elapsed.Seconds()
		w.frameCount = 0
		w.lastFrame = now
	}

	for _, r := range recs {
		drawRecognition(frame, r)
	}

	stats := fmt.Sprintf("FPS: %.1f  Inference: %dms  Dropped: %d", w.fps, timing.Total.Milliseconds(), dropped)
	gocv.PutText(frame, stats, image.Pt(10, 30),
		gocv.FontHersheyPlain, 1.5, textColor, 2)

	w.window.IMShow(*frame)
}

func drawRecognition(frame *gocv.Mat, r pipeline.Recognition) {
	if r.Location == nil {
		return
	}
	rect := r.Location.Rect()

	c := unknownColor
	if r.ID != nil {
		if idx, err := strconv.Atoi(*r.ID); err == nil && idx >= 0 {
			c = boxColors[idx%len(boxColors)]
		}
	}

	gocv.Rectangle(frame, rect, c, 2)

	label := caption(r)
	if label == "" {
		return
	}
	origin := image.Pt(rect.Min.X, rect.Min.Y-6)
	if origin.Y < 12 {
		origin.Y = rect.Max.Y + 16
	}
	gocv.PutText(frame, label, origin, gocv.FontHersheyPlain, 1.4, c, 2)
}

func caption(r pipeline.Recognition) string {
	switch {
	case r.Title != nil && r.Confidence != nil:
		return fmt.Sprintf("%s %.0f%%", *r.Title, *r.Confidence*100)
	case r.Title != nil:
		return *r.Title
	default:
		return ""
	}
}

// WaitKey waits for key press, returns key code or -1
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// FPS returns current frames per second
func (w *Window) FPS() float64 {
	return w.fps
}

// Close closes the window
func (w *Window) Close() error {
	if w.window != nil {
		return w.window.Close()
	}
	return nil
}
