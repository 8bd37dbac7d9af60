package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pii-mask/internal/db"
	"pii-mask/internal/services"
)

type maskOptions struct {
	outDir     string
	workers    int
	matcher    string
	failClosed bool
	isolate    bool
}

func newMaskCmd(root *rootOptions) *cobra.Command {
	opts := &maskOptions{}
	cmd := &cobra.Command{
		Use:   "mask FILE...",
		Short: "Mask PII in one or more images or PDFs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.workers < 1 {
				return fmt.Errorf("--workers must be at least 1, got %d", opts.workers)
			}
			return runMask(cmd, root, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "Output directory (default UPLOAD_DIR)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 2, "Files masked in parallel")
	cmd.Flags().StringVar(&opts.matcher, "matcher", "", "Token matcher: exact, casefold or fuzzy (default MATCHER)")
	cmd.Flags().BoolVar(&opts.failClosed, "fail-closed", false, "Fail instead of writing an unmasked copy when PII detection fails")
	cmd.Flags().BoolVar(&opts.isolate, "isolate", false, "Write each file into its own subdirectory")
	return cmd
}

func runMask(cmd *cobra.Command, root *rootOptions, opts *maskOptions, files []string) error {
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}

	outDir := cfg.UploadDir
	if opts.outDir != "" {
		outDir = opts.outDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("ensure output dir: %w", err)
	}
	matcherName := cfg.Matcher
	if opts.matcher != "" {
		matcherName = opts.matcher
	}
	matcher, err := services.NewMatcher(matcherName)
	if err != nil {
		return err
	}

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	masking, err := services.NewMaskingService(services.MaskingConfig{
		OCR:        root.newEngine(cfg),
		Detector:   root.newDetector(cfg),
		Matcher:    matcher,
		Store:      services.NewUploadStore(outDir, opts.isolate || cfg.IsolateUploads),
		PDF:        services.NewPDFService(cfg.PDFDPI),
		Runs:       services.NewRunService(conn),
		FailClosed: opts.failClosed || cfg.FailPolicy == "closed",
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var (
		mu     sync.Mutex
		failed int
	)
	out := cmd.OutOrStdout()

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(opts.workers)
	for _, path := range files {
		path := path
		g.Go(func() error {
			results, err := maskPath(ctx, masking, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				logger.WithError(err).WithField("file", path).Error("mask failed")
				fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
				return nil
			}
			for _, res := range results {
				fmt.Fprintf(out, "ok   %s -> %s (%d boxes, detection %s)\n",
					path, res.MaskedPath, res.MaskedBoxCount, res.Detection.Outcome)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{"files": len(files), "failed": failed}).Info("batch finished")
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

// maskPath reads the whole input first so an input that already lives in the
// output directory is not truncated when the store writes its copy.
func maskPath(ctx context.Context, masking *services.MaskingService, path string) ([]*services.MaskResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return masking.MaskDocument(ctx, bytes.NewReader(data), filepath.Base(path), nil)
}
