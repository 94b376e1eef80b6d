// Package raster converts PDF documents into per-page PNG images for vision
// model calls. Page counting and validation run in-process via pdfcpu;
// rasterization shells out to poppler's pdftoppm, fanned out over a bounded
// worker pool.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Module provides the rasterizer.
var Module = fx.Module("raster",
	fx.Provide(NewService),
)

// Page is a single rasterized PDF page.
type Page struct {
	Number int // 1-based
	PNG    []byte
}

// Result carries the rendered pages plus the numbers of pages that failed
// to render. A page render failure never fails the whole document.
type Result struct {
	Pages  []Page
	Failed []int
}

// Options bounds rasterization to a page window. Zero values mean the whole
// document.
type Options struct {
	FirstPage int
	LastPage  int
}

// Service renders PDFs to page images.
type Service struct {
	log     *slog.Logger
	dpi     int
	workers int
	tempDir string
}

func NewService(cfg *config.Config, log *slog.Logger) *Service {
	workers := cfg.Extraction.RasterWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	tempDir := filepath.Join(os.TempDir(), "veridoc-raster")
	_ = os.MkdirAll(tempDir, 0o755)

	return &Service{
		log:     log.With(logger.Scope("raster")),
		dpi:     cfg.Extraction.RasterDPI,
		workers: workers,
		tempDir: tempDir,
	}
}

// PageCount parses the document and returns its page count. A parse failure
// means the payload is not a processable PDF.
func (s *Service) PageCount(data []byte) (int, error) {
	pdfCtx, err := api.ReadContext(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	return pdfCtx.PageCount, nil
}

// Validate checks that the payload parses as a structurally sound PDF.
func (s *Service) Validate(data []byte) error {
	pdfCtx, err := api.ReadContext(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return fmt.Errorf("validate pdf: %w", err)
	}
	return nil
}

// Rasterize renders the document's pages to PNG at the configured DPI.
// Pages that fail to render are logged, reported in Result.Failed and
// omitted from Result.Pages; rendering continues for the rest of the
// document. Pages come back sorted by page number.
func (s *Service) Rasterize(ctx context.Context, data []byte, opts Options) (*Result, error) {
	pageCount, err := s.PageCount(data)
	if err != nil {
		return nil, err
	}
	first, last := clampRange(opts.FirstPage, opts.LastPage, pageCount)
	if first > last {
		return &Result{}, nil
	}

	workDir, err := os.MkdirTemp(s.tempDir, "doc-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	pdfPath := filepath.Join(workDir, "source.pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	var (
		mu     sync.Mutex
		pages  []Page
		failed []int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for page := first; page <= last; page++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			png, err := s.renderPage(gctx, pdfPath, workDir, page)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Warn("page render failed", "page", page, logger.Error(err))
				mu.Lock()
				failed = append(failed, page)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			pages = append(pages, Page{Number: page, PNG: png})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	sort.Ints(failed)
	return &Result{Pages: pages, Failed: failed}, nil
}

func (s *Service) renderPage(ctx context.Context, pdfPath, workDir string, page int) ([]byte, error) {
	prefix := filepath.Join(workDir, fmt.Sprintf("page-%d", page))
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-r", strconv.Itoa(s.dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-singlefile",
		pdfPath, prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(stderr.String()))
	}
	png, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rendered page %d: %w", page, err)
	}
	return png, nil
}

// clampRange normalizes a requested page window against the document's page
// count. first > last in the result means the window is empty.
func clampRange(first, last, pageCount int) (int, int) {
	if first < 1 {
		first = 1
	}
	if last < 1 || last > pageCount {
		last = pageCount
	}
	return first, last
}
