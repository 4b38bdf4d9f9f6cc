package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/pillarpond/facerecognizer/internal/camera"
	"github.com/pillarpond/facerecognizer/internal/pipeline"
	"github.com/pillarpond/facerecognizer/internal/ui"
)

var (
	cameraDevice int
	noWindow     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Recognize faces from a camera in real time",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("camera") {
			cfg.Camera.Device = cameraDevice
		}
		if noWindow {
			cfg.Camera.Window = false
		}
		return runCamera(cmd.Context())
	},
}

func init() {
	runCmd.Flags().IntVarP(&cameraDevice, "camera", "c", 0, "Camera device index")
	runCmd.Flags().BoolVar(&noWindow, "no-window", false, "Log recognitions instead of showing a preview")
	rootCmd.AddCommand(runCmd)
}

func runCamera(ctx context.Context) error {
	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	cam, err := camera.NewCapture(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height)
	if err != nil {
		return err
	}
	defer cam.Close()
	logger.Info("camera opened", "device", cfg.Camera.Device, "width", cam.Width(), "height", cam.Height())

	size := cfg.Camera.CropSize
	toCrop, err := pipeline.CropTransform(cam.Width(), cam.Height(), size, size, cfg.Camera.Rotation, cfg.Camera.MaintainAspect)
	if err != nil {
		return err
	}
	toFrame, err := toCrop.Invert()
	if err != nil {
		return fmt.Errorf("failed to invert crop transform: %w", err)
	}

	d := pipeline.NewDispatcher(p, 4, logger)
	defer d.Close()

	var window *ui.Window
	if cfg.Camera.Window {
		window = ui.NewWindow("facerecognizer", cam.Width(), cam.Height())
		defer window.Close()
	}

	frame := gocv.NewMat()
	defer frame.Close()

	var (
		latest []pipeline.Recognition
		timing pipeline.Timing
	)

	logger.Info("running, press 'q' to quit")
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		default:
		}

		img, err := cam.ReadImage(&frame)
		if errors.Is(err, camera.ErrNoFrame) {
			continue
		}
		if err != nil {
			return err
		}

		d.Submit(ctx, pipeline.Warp(img, toCrop, size, size), toFrame)

	drain:
		for {
			select {
			case res := <-d.Results():
				if res.Err != nil {
					if errors.Is(res.Err, pipeline.ErrClassifierStateMismatch) {
						return res.Err
					}
					continue
				}
				latest, timing = res.Recognitions, res.Timing
				if window == nil {
					for _, r := range latest {
						logger.Info("recognized", "ordinal", res.Ordinal, "face", r.String())
					}
				}
			default:
				break drain
			}
		}

		if window != nil {
			window.Show(&frame, latest, timing, d.Dropped())
			key := window.WaitKey(10)
			if key == 'q' || key == 27 { // 'q' or ESC
				logger.Info("quitting")
				return nil
			}
		}
	}
}
