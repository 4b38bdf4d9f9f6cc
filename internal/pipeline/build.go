package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/pillarpond/facerecognizer/internal/classifier"
	"github.com/pillarpond/facerecognizer/internal/config"
	"github.com/pillarpond/facerecognizer/internal/detector"
	"github.com/pillarpond/facerecognizer/internal/embedding"
	"github.com/pillarpond/facerecognizer/internal/inference"
	"github.com/pillarpond/facerecognizer/internal/labels"
	"github.com/pillarpond/facerecognizer/internal/tflite"
)

// DetectorOptions derives the BlazeFace options from configuration
func DetectorOptions(cfg config.Config) detector.Options {
	opts := detector.DefaultOptions()
	opts.InputWidth = cfg.Detector.InputSize
	opts.InputHeight = cfg.Detector.InputSize
	opts.ScoreThreshold = cfg.Detector.ScoreThreshold
	opts.SuppressionThreshold = cfg.Detector.SuppressionThreshold
	return opts
}

// NewFromConfig loads the models named in cfg and builds a pipeline
func NewFromConfig(cfg config.Config, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	detOpts := DetectorOptions(cfg)
	detRuntime, err := openDetectorRuntime(cfg, detOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	det, err := detector.NewBlazeFace(detRuntime, detOpts)
	if err != nil {
		detRuntime.Close()
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}

	encRuntime, err := openEmbedderRuntime(cfg)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	enc, err := embedding.NewFaceNet(encRuntime, cfg.Embedder.InputSize, cfg.Embedder.InputSize)
	if err != nil {
		det.Close()
		encRuntime.Close()
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	clf, err := classifier.OpenKNN(classifier.KNNConfig{
		DataPath:  cfg.DataPath(),
		ModelPath: cfg.ModelPath(),
		Neighbors: cfg.Classifier.Neighbors,
	}, logger)
	if err != nil {
		det.Close()
		enc.Close()
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	opts = append([]Option{WithLogger(logger), WithDecodeWorkers(cfg.Enroll.Workers)}, opts...)
	p, err := New(det, enc, clf, labels.NewFileStore(cfg.LabelPath()), opts...)
	if err != nil {
		det.Close()
		enc.Close()
		clf.Close()
		return nil, err
	}
	return p, nil
}

func openDetectorRuntime(cfg config.Config, opts detector.Options) (inference.Runtime, error) {
	if cfg.Backend == config.BackendTFLite {
		return tflite.NewRuntime(cfg.Detector.Model, cfg.Threads)
	}

	anchors := int64(detector.AnchorCount(detector.AnchorOptions{
		Strides:      opts.Strides,
		InputHeight:  opts.InputHeight,
		InputWidth:   opts.InputWidth,
		AspectRatios: 1,
	}))
	size := int64(cfg.Detector.InputSize)

	return inference.NewONNXRuntime(
		cfg.ONNXLibrary,
		cfg.Detector.Model,
		inference.TensorSpec{Name: cfg.Detector.Input, Shape: []int64{1, size, size, 3}},
		[]inference.TensorSpec{
			{Name: cfg.Detector.Outputs[0], Shape: []int64{1, anchors, int64(opts.NumCoords)}},
			{Name: cfg.Detector.Outputs[1], Shape: []int64{1, anchors, 1}},
		},
		cfg.Threads,
	)
}

func openEmbedderRuntime(cfg config.Config) (inference.Runtime, error) {
	if cfg.Backend == config.BackendTFLite {
		return tflite.NewRuntime(cfg.Embedder.Model, cfg.Threads)
	}

	size := int64(cfg.Embedder.InputSize)
	return inference.NewONNXRuntime(
		cfg.ONNXLibrary,
		cfg.Embedder.Model,
		inference.TensorSpec{Name: cfg.Embedder.Input, Shape: []int64{1, size, size, 3}},
		[]inference.TensorSpec{
			{Name: cfg.Embedder.Outputs[0], Shape: []int64{1, embedding.Size}},
		},
		cfg.Threads,
	)
}
