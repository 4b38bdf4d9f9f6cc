package classifier

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pillarpond/facerecognizer/internal/embedding"
)

// Sample is one labelled row of the feature dataset
type Sample struct {
	Label  int
	Vector embedding.Embedding
}

// ReadDataset parses a sparse "label index:value ..." feature file.
// A missing file is an empty dataset.
func ReadDataset(path string) ([]Sample, error) {
	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	return parseDataset(f)
}

func parseDataset(r io.Reader) ([]Sample, error) {
	var samples []Sample

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		fields := strings.Fields(text)
		label, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("dataset line %d: bad label %q", line, fields[0])
		}

		var s Sample
		s.Label = label
		for _, field := range fields[1:] {
			idx, val, ok := strings.Cut(field, ":")
			if !ok {
				return nil, fmt.Errorf("dataset line %d: bad feature %q", line, field)
			}
			i, err := strconv.Atoi(idx)
			if err != nil || i < 0 || i >= embedding.Size {
				return nil, fmt.Errorf("dataset line %d: bad feature index %q", line, idx)
			}
			v, err := strconv.ParseFloat(val, 32)
			if err != nil {
				return nil, fmt.Errorf("dataset line %d: bad feature value %q", line, val)
			}
			s.Vector[i] = float32(v)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	return samples, nil
}

// AppendDataset appends samples to the feature file, creating it if needed
func AppendDataset(path string, samples []Sample) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, s := range samples {
		writeSample(w, s)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	return f.Close()
}

func writeSample(w *bufio.Writer, s Sample) {
	w.WriteString(strconv.Itoa(s.Label))
	for i, v := range s.Vector {
		w.WriteByte(' ')
		w.WriteString(strconv.Itoa(i))
		w.WriteByte(':')
		w.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	w.WriteByte('\n')
}
