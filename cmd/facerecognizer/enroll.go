package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/pillarpond/facerecognizer/internal/pipeline"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <label|name> <image>...",
	Short: "Train an existing identity with example photos",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline()
		if err != nil {
			return err
		}
		defer p.Close()

		label, err := resolveLabel(p.ClassNames(), args[0])
		if err != nil {
			return err
		}
		return enrollImages(cmd.Context(), p, label, args[1:])
	},
}

var addCmd = &cobra.Command{
	Use:   "add <name> [image...]",
	Short: "Add a new identity and optionally enroll photos for it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline()
		if err != nil {
			return err
		}
		defer p.Close()

		size, err := p.AddIdentity(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Added %q as label %d\n", args[0], size-1)

		if len(args) == 1 {
			return nil
		}
		return enrollImages(cmd.Context(), p, size-1, args[1:])
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(addCmd)
}

// resolveLabel accepts a label index or a registered name
func resolveLabel(names []string, arg string) (int, error) {
	if idx, err := strconv.Atoi(arg); err == nil {
		if idx < 0 || idx >= len(names) {
			return 0, fmt.Errorf("label %d of %d: %w", idx, len(names), pipeline.ErrUnknownLabel)
		}
		return idx, nil
	}
	for i, name := range names {
		if name == arg {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", arg, pipeline.ErrUnknownLabel)
}

func enrollImages(ctx context.Context, p *pipeline.Pipeline, label int, paths []string) error {
	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Decoding images"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	sources := make([]pipeline.ImageSource, len(paths))
	for i, path := range paths {
		sources[i] = progressSource{ImageSource: pipeline.FileSource(path), bar: bar}
	}

	res, err := p.Enroll(ctx, label, sources)
	_ = bar.Finish()

	for _, s := range res.Skipped {
		fmt.Fprintf(os.Stderr, "skipped %s: %v\n", s.Name, s.Err)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Enrolled %d image(s) for label %d in %s (batch %s)\n",
		res.Embedded, res.Label, res.Duration.Round(time.Millisecond), res.BatchID)
	return nil
}

// progressSource advances bar once its image has been read
type progressSource struct {
	pipeline.ImageSource
	bar *progressbar.ProgressBar
}

func (s progressSource) Open() (io.ReadCloser, error) {
	rc, err := s.ImageSource.Open()
	if err != nil {
		_ = s.bar.Add(1)
		return nil, err
	}
	return &progressReader{ReadCloser: rc, bar: s.bar}, nil
}

type progressReader struct {
	io.ReadCloser
	bar *progressbar.ProgressBar
}

func (r *progressReader) Close() error {
	_ = r.bar.Add(1)
	return r.ReadCloser.Close()
}
