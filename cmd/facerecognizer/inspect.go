package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/pillarpond/facerecognizer/internal/config"
	"github.com/pillarpond/facerecognizer/internal/inference"
	"github.com/pillarpond/facerecognizer/internal/tflite"
)

var importGraph bool

var inspectCmd = &cobra.Command{
	Use:   "inspect [model]...",
	Short: "Check that models load and print their tensors",
	Long: `Loads each model with the configured backend and prints its inputs and
outputs. Without arguments the configured detector and embedder are checked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		models := args
		if len(models) == 0 {
			models = []string{cfg.Detector.Model, cfg.Embedder.Model}
		}

		var failed int
		for _, path := range models {
			if err := inspectModel(path); err != nil {
				fmt.Printf("FAILED %s: %v\n\n", path, err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d models failed to load", failed, len(models))
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&importGraph, "import", false, "Also import ONNX graphs with go-metal (macOS only)")
	rootCmd.AddCommand(inspectCmd)
}

func inspectModel(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	fmt.Printf("Model: %s\n", path)

	if cfg.Backend == config.BackendTFLite {
		return inspectTFLite(path)
	}
	if err := inspectONNX(path); err != nil {
		return err
	}
	if importGraph {
		return importONNX(path)
	}
	return nil
}

func inspectONNX(path string) error {
	if err := inference.Initialize(cfg.ONNXLibrary); err != nil {
		return err
	}
	defer inference.Shutdown()

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return inference.NewModelLoadError(path, err)
	}

	fmt.Printf("  Inputs (%d):\n", len(inputs))
	for _, info := range inputs {
		fmt.Printf("    %s: shape=%v, type=%v\n", info.Name, info.Dimensions, info.DataType)
	}
	fmt.Printf("  Outputs (%d):\n", len(outputs))
	for _, info := range outputs {
		fmt.Printf("    %s: shape=%v, type=%v\n", info.Name, info.Dimensions, info.DataType)
	}

	metadata, err := ort.GetModelMetadata(path)
	if err != nil {
		fmt.Printf("  (could not read metadata: %v)\n", err)
		return nil
	}
	defer metadata.Destroy()

	if producer, err := metadata.GetProducerName(); err == nil {
		fmt.Printf("  Producer: %s\n", producer)
	}
	if version, err := metadata.GetVersion(); err == nil {
		fmt.Printf("  Version: %d\n", version)
	}
	if desc, err := metadata.GetDescription(); err == nil && desc != "" {
		fmt.Printf("  Description: %s\n", desc)
	}
	return nil
}

func inspectTFLite(path string) error {
	rt, err := tflite.NewRuntime(path, cfg.Threads)
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, t := range rt.Tensors() {
		fmt.Printf("  %s\n", t)
	}
	return nil
}
