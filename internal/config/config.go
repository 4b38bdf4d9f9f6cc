// Package config loads facerecognizer settings from YAML and the environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Backend selects the model runtime
type Backend string

const (
	BackendONNX   Backend = "onnx"
	BackendTFLite Backend = "tflite"
)

type Config struct {
	Backend     Backend          `yaml:"backend"`
	ONNXLibrary string           `yaml:"onnx_library"` // onnxruntime shared library, empty for the default search path
	Threads     int              `yaml:"threads"`
	DataDir     string           `yaml:"data_dir"` // base for relative data files
	Detector    DetectorConfig   `yaml:"detector"`
	Embedder    EmbedderConfig   `yaml:"embedder"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	Labels      LabelsConfig     `yaml:"labels"`
	Camera      CameraConfig     `yaml:"camera"`
	Enroll      EnrollConfig     `yaml:"enroll"`
	Log         LogConfig        `yaml:"log"`
}

type DetectorConfig struct {
	Model                string   `yaml:"model"`
	Input                string   `yaml:"input"`
	Outputs              []string `yaml:"outputs"` // regressors first, then classificators
	InputSize            int      `yaml:"input_size"`
	ScoreThreshold       float32  `yaml:"score_threshold"`
	SuppressionThreshold float32  `yaml:"suppression_threshold"`
}

type EmbedderConfig struct {
	Model     string   `yaml:"model"`
	Input     string   `yaml:"input"`
	Outputs   []string `yaml:"outputs"`
	InputSize int      `yaml:"input_size"`
}

type ClassifierConfig struct {
	DataFile  string `yaml:"data_file"`
	ModelFile string `yaml:"model_file"`
	Neighbors int    `yaml:"neighbors"`
}

type LabelsConfig struct {
	File string `yaml:"file"`
}

type CameraConfig struct {
	Device         int  `yaml:"device"`
	Width          int  `yaml:"width"`
	Height         int  `yaml:"height"`
	Rotation       int  `yaml:"rotation"`  // degrees, multiple of 90
	CropSize       int  `yaml:"crop_size"` // square frame fed to the pipeline
	MaintainAspect bool `yaml:"maintain_aspect"`
	Window         bool `yaml:"window"`
}

type EnrollConfig struct {
	Workers int `yaml:"workers"` // concurrent image decoders
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration
func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// Embedded at build time
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return cfg
}

// Load reads the defaults, overlays the YAML file at path (if non-empty)
// and then FACEREC_* environment variables
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is from the command line
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FACEREC_BACKEND"); v != "" {
		c.Backend = Backend(strings.ToLower(v))
	}
	c.ONNXLibrary = envString("FACEREC_ONNX_LIBRARY", c.ONNXLibrary)
	c.DataDir = envString("FACEREC_DATA_DIR", c.DataDir)
	c.Threads = envInt("FACEREC_THREADS", c.Threads)
	c.Detector.Model = envString("FACEREC_DETECTOR_MODEL", c.Detector.Model)
	c.Embedder.Model = envString("FACEREC_EMBEDDER_MODEL", c.Embedder.Model)
	c.Classifier.Neighbors = envInt("FACEREC_NEIGHBORS", c.Classifier.Neighbors)
	c.Camera.Device = envInt("FACEREC_CAMERA_DEVICE", c.Camera.Device)
	c.Enroll.Workers = envInt("FACEREC_ENROLL_WORKERS", c.Enroll.Workers)
	c.Log.Level = envString("FACEREC_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("FACEREC_LOG_FORMAT", c.Log.Format)
}

// Validate checks value ranges and required paths
func (c Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendONNX, BackendTFLite:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	if c.Detector.Model == "" {
		errs = append(errs, errors.New("detector.model is required"))
	}
	if c.Embedder.Model == "" {
		errs = append(errs, errors.New("embedder.model is required"))
	}
	if c.Detector.InputSize <= 0 || c.Embedder.InputSize <= 0 {
		errs = append(errs, errors.New("model input sizes must be positive"))
	}
	if c.Detector.ScoreThreshold <= 0 || c.Detector.ScoreThreshold >= 1 {
		errs = append(errs, fmt.Errorf("detector.score_threshold %v outside (0,1)", c.Detector.ScoreThreshold))
	}
	if c.Detector.SuppressionThreshold < 0 || c.Detector.SuppressionThreshold > 1 {
		errs = append(errs, fmt.Errorf("detector.suppression_threshold %v outside [0,1]", c.Detector.SuppressionThreshold))
	}
	if c.Backend == BackendONNX {
		if c.Detector.Input == "" || len(c.Detector.Outputs) != 2 {
			errs = append(errs, errors.New("detector needs one input and two output tensor names"))
		}
		if c.Embedder.Input == "" || len(c.Embedder.Outputs) != 1 {
			errs = append(errs, errors.New("embedder needs one input and one output tensor name"))
		}
	}
	if c.Camera.Rotation%90 != 0 {
		errs = append(errs, fmt.Errorf("camera.rotation %d is not a multiple of 90", c.Camera.Rotation))
	}
	if c.Camera.CropSize <= 0 {
		errs = append(errs, errors.New("camera.crop_size must be positive"))
	}

	return errors.Join(errs...)
}

// Path resolves name against DataDir unless it is absolute
func (c Config) Path(name string) string {
	if name == "" || filepath.IsAbs(name) || c.DataDir == "" {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// DataPath is the classifier feature dataset
func (c Config) DataPath() string { return c.Path(c.Classifier.DataFile) }

// ModelPath is the persisted classifier model
func (c Config) ModelPath() string { return c.Path(c.Classifier.ModelFile) }

// LabelPath is the identity label file
func (c Config) LabelPath() string { return c.Path(c.Labels.File) }

// EnsureDataDir creates DataDir if it does not exist
func (c Config) EnsureDataDir() error {
	if c.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envInt reads an environment variable as a non-negative integer and falls
// back to defaultVal when it is unset or invalid
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}
