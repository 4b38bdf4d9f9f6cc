package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pillarpond/facerecognizer/internal/config"
	"github.com/pillarpond/facerecognizer/internal/logging"
	"github.com/pillarpond/facerecognizer/internal/pipeline"
)

var (
	configPath string
	backend    string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facerecognizer",
	Short:   "Real-time face recognition with enrollable identities",
	Version: Version,
	Long: `facerecognizer detects faces with BlazeFace, embeds them with FaceNet and
classifies the embeddings against identities enrolled from example photos.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env file is optional, don't fail if not found
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if backend != "" {
			cfg.Backend = config.Backend(backend)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Inference backend: onnx or tflite")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// openPipeline loads every model named in the configuration
func openPipeline() (*pipeline.Pipeline, error) {
	logger.Info("loading models", "backend", cfg.Backend, "detector", cfg.Detector.Model, "embedder", cfg.Embedder.Model)
	p, err := pipeline.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p, nil
}
