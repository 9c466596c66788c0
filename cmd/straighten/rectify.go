package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/batch"
	"github.com/jackzampolin/straighten/internal/export"
	"github.com/jackzampolin/straighten/internal/ingest"
	"github.com/jackzampolin/straighten/internal/server"
	"github.com/jackzampolin/straighten/internal/session"
)

var (
	rectifyOut        string
	rectifyBatchSize  int
	rectifyPages      []int
	rectifyBackground bool
	rectifyDetector   string
	rectifyDPI        int
	rectifyBackend    string
)

var rectifyCmd = &cobra.Command{
	Use:   "rectify <pdf>...",
	Short: "Deskew and crop the pages of PDFs without a server",
	Long: `Rasterize one or more PDFs, rectify every page and write a new PDF.

Several PDFs are treated as one document, ordered by numeric suffix
(scan-1.pdf, scan-2.pdf, scan-10.pdf). Pages whose rectification fails
keep their original image and are listed at the end.

Examples:
  straighten rectify scan.pdf
  straighten rectify scan-*.pdf --out book.pdf --batch-size 8
  straighten rectify scan.pdf --pages 1,2,5 --remove-background
  straighten rectify scan.pdf --detector mock`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger()
		if err != nil {
			return err
		}
		_, cm, err := loadConfig(logger)
		if err != nil {
			return err
		}

		cfg := *cm.Get()
		if rectifyDetector != "" {
			cfg.Detector.Type = rectifyDetector
		}
		if rectifyDPI > 0 {
			cfg.Rasterizer.DPI = rectifyDPI
		}
		if rectifyBackend != "" {
			cfg.Rasterizer.Backend = rectifyBackend
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		for _, p := range args {
			if err := ingest.CheckFilename(p); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}

		out := rectifyOut
		if out == "" {
			out = filepath.Join(filepath.Dir(args[0]), ingest.DeriveTitle(args[0])+"-straightened.pdf")
		}

		detectors, err := server.NewDetectors(&cfg, logger)
		if err != nil {
			return err
		}
		svc, err := server.NewSessionService(&cfg, detectors, filepath.Dir(out), logger)
		if err != nil {
			return err
		}

		rasterizer, err := ingest.New(ingest.Config{
			Backend: cfg.Rasterizer.Backend,
			Workers: cfg.Rasterizer.Workers,
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		renderBar := newBar(-1, "Rasterizing")
		pages, err := ingest.RasterizeFiles(ctx, rasterizer, args, cfg.Rasterizer.DPI, func(cur, total int) {
			renderBar.ChangeMax(total)
			_ = renderBar.Set(cur)
		})
		_ = renderBar.Finish()
		if err != nil {
			return err
		}

		sess := svc.CreateFromImages(ingest.DeriveTitle(args[0]), ingest.Images(pages))

		total := len(rectifyPages)
		if total == 0 {
			total = len(pages)
		}
		bar := newBar(total, "Rectifying")
		summary, err := svc.RunBatch(ctx, sess.ID, session.BatchOptions{
			BatchSize: rectifyBatchSize,
			Pages:     rectifyPages,
		}, func(u batch.Update) {
			_ = bar.Set(u.Completed)
		})
		_ = bar.Finish()
		if err != nil {
			return err
		}
		if summary == nil {
			return fmt.Errorf("batch interrupted: %w", ctx.Err())
		}

		if rectifyBackground {
			for _, p := range summary.Pages {
				if _, err := svc.RemoveBackground(ctx, sess.ID, p.Index); err != nil {
					return fmt.Errorf("page %d: %w", p.Index, err)
				}
			}
		}

		snaps, err := svc.Pages(sess.ID)
		if err != nil {
			return err
		}
		imgs, err := export.PageImages(snaps)
		if err != nil {
			return err
		}
		if err := export.NewAssembler(cfg.Export.JPEGQuality, logger).AssembleFile(out, imgs); err != nil {
			return err
		}

		printSummary(summary, out)
		if len(summary.Failures) > 0 && summary.Succeeded == 0 {
			return fmt.Errorf("no pages rectified")
		}
		return nil
	},
}

func newBar(n int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}

func printSummary(s *batch.Summary, out string) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	green.Printf("✓ %d/%d pages rectified\n", s.Succeeded, s.Total)
	for _, f := range s.Failures {
		red.Printf("✗ page %d: %s\n", f.Page, strings.TrimSpace(f.Error))
	}
	fmt.Printf("Wrote %s\n", out)
}

func init() {
	rectifyCmd.Flags().StringVarP(&rectifyOut, "out", "f", "", "Output PDF (default: <title>-straightened.pdf next to the input)")
	rectifyCmd.Flags().IntVar(&rectifyBatchSize, "batch-size", 0, "Pages rectified concurrently (default from config)")
	rectifyCmd.Flags().IntSliceVar(&rectifyPages, "pages", nil, "Pages to rectify, 1-based (default: all)")
	rectifyCmd.Flags().BoolVar(&rectifyBackground, "remove-background", false, "Whiten the background of every page before export")
	rectifyCmd.Flags().StringVar(&rectifyDetector, "detector", "", "Override detector type: openai or mock")
	rectifyCmd.Flags().IntVar(&rectifyDPI, "dpi", 0, "Rasterization DPI (default from config)")
	rectifyCmd.Flags().StringVar(&rectifyBackend, "backend", "", "Override rasterizer: pdftoppm or fitz")

	rootCmd.AddCommand(rectifyCmd)
}
