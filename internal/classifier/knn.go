package classifier

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/coder/hnsw"

	"github.com/pillarpond/facerecognizer/internal/embedding"
	"github.com/pillarpond/facerecognizer/internal/logging"
)

const (
	defaultNeighbors = 5
	maxNeighbors     = 16
)

// KNNConfig locates the persisted feature set and model
type KNNConfig struct {
	DataPath  string // libsvm-style feature dataset, appended on Train
	ModelPath string // exported HNSW graph
	Neighbors int
}

// KNN is a k-nearest-neighbour classifier over an HNSW graph with cosine
// distance. Neighbours vote with weight 1 - d/2 and the probability is the
// winning label's share of the total weight.
type KNN struct {
	mu         sync.RWMutex
	cfg        KNNConfig
	graph      *hnsw.Graph[int]
	samples    []Sample
	numClasses int
	logger     *slog.Logger
}

// OpenKNN loads the dataset and the saved graph. The graph is rebuilt when
// it is missing or out of date with the dataset.
func OpenKNN(cfg KNNConfig, logger *slog.Logger) (*KNN, error) {
	if cfg.Neighbors <= 0 {
		cfg.Neighbors = defaultNeighbors
	}
	if cfg.Neighbors > maxNeighbors {
		cfg.Neighbors = maxNeighbors
	}
	logger = logging.OrDiscard(logger)

	samples, err := ReadDataset(cfg.DataPath)
	if err != nil {
		return nil, err
	}

	k := &KNN{
		cfg:     cfg,
		samples: samples,
		logger:  logger,
	}
	k.numClasses = labelSpace(samples)

	if len(samples) == 0 {
		return k, nil
	}

	if g, err := loadGraph(cfg.ModelPath); err == nil && g.Len() == len(samples) {
		k.graph = g
		logger.Debug("classifier model loaded", "path", cfg.ModelPath, "samples", len(samples))
		return k, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("classifier model unreadable, rebuilding", "path", cfg.ModelPath, "error", err)
	}

	if err := k.retrain(); err != nil {
		return nil, err
	}
	return k, nil
}

// Train appends samples for label to the dataset and retrains on the full set
func (k *KNN) Train(label int, vectors []embedding.Embedding) error {
	if label < 0 {
		return fmt.Errorf("label %d: %w", label, ErrInvalidLabel)
	}
	if len(vectors) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	batch := make([]Sample, len(vectors))
	for i, v := range vectors {
		batch[i] = Sample{Label: label, Vector: v}
	}

	if k.cfg.DataPath != "" {
		if err := AppendDataset(k.cfg.DataPath, batch); err != nil {
			return err
		}
	}
	k.samples = append(k.samples, batch...)
	if label+1 > k.numClasses {
		k.numClasses = label + 1
	}

	return k.retrain()
}

// retrain rebuilds the graph from every sample and exports it
func (k *KNN) retrain() error {
	g := newGraph()
	for i, s := range k.samples {
		g.Add(hnsw.MakeNode(i, s.Vector.Slice()))
	}
	k.graph = g

	if k.cfg.ModelPath == "" {
		return nil
	}

	f, err := os.Create(k.cfg.ModelPath) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	if err := g.Export(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to export model: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}

	k.logger.Info("classifier retrained", "samples", len(k.samples), "classes", k.numClasses)
	return nil
}

// Predict returns the most likely label for e and its vote share
func (k *KNN) Predict(e embedding.Embedding) (int, float32, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.graph == nil || len(k.samples) == 0 {
		return 0, 0, ErrNotTrained
	}

	query := e.Slice()
	neighbors := k.graph.Search(query, k.cfg.Neighbors)
	if len(neighbors) == 0 {
		return 0, 0, ErrNotTrained
	}

	votes := make(map[int]float64)
	var total float64
	for _, n := range neighbors {
		if n.Key < 0 || n.Key >= len(k.samples) {
			continue
		}
		w := 1 - float64(hnsw.CosineDistance(query, n.Value))/2
		if math.IsNaN(w) || w < 0 {
			w = 0
		}
		votes[k.samples[n.Key].Label] += w
		total += w
	}

	best, bestWeight := -1, -1.0
	for label, w := range votes {
		if w > bestWeight || (w == bestWeight && label < best) {
			best, bestWeight = label, w
		}
	}
	if best < 0 || total <= 0 {
		return 0, 0, ErrNoMatch
	}
	return best, float32(bestWeight / total), nil
}

// NumClasses returns the highest trained label + 1
func (k *KNN) NumClasses() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.numClasses
}

// Samples returns the number of training rows
func (k *KNN) Samples() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.samples)
}

// Close releases the graph
func (k *KNN) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.graph = nil
	return nil
}

func newGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

func loadGraph(path string) (*hnsw.Graph[int], error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g := newGraph()
	if err := g.Import(f); err != nil {
		return nil, err
	}
	return g, nil
}

func labelSpace(samples []Sample) int {
	n := 0
	for _, s := range samples {
		if s.Label+1 > n {
			n = s.Label + 1
		}
	}
	return n
}
