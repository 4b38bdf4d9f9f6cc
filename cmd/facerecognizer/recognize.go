package main

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/spf13/cobra"

	"github.com/pillarpond/facerecognizer/internal/pipeline"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>...",
	Short: "Recognize faces in still images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline()
		if err != nil {
			return err
		}
		defer p.Close()

		var failed int
		for _, path := range args {
			img, err := decodeFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
				continue
			}

			recs, err := p.RecognizeFrame(cmd.Context(), img, nil)
			if errors.Is(err, pipeline.ErrClassifierStateMismatch) {
				return err
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
				continue
			}

			fmt.Printf("%s: %d face(s) in %s\n", path, len(recs), p.LastTiming().Total)
			for _, r := range recs {
				fmt.Printf("  %s\n", r)
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d images failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
}

func decodeFile(path string) (image.Image, error) {
	f, err := pipeline.FileSource(path).Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
