package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"pii-mask/internal/models"
)

// PDFService rasterizes PDF uploads so each page can go through the image
// pipeline.
type PDFService struct {
	dpi         int
	ghostscript string
}

func NewPDFService(dpi int) *PDFService {
	if dpi <= 0 {
		dpi = 150
	}
	return &PDFService{dpi: dpi, ghostscript: "gs"}
}

// IsPDF reports whether filename has a .pdf extension.
func IsPDF(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// PageFileName is the raster name of a 1-based page of the PDF named original.
func PageFileName(original string, page int) string {
	stem := strings.TrimSuffix(original, filepath.Ext(original))
	return fmt.Sprintf("%s-page-%03d.png", stem, page)
}

// PageCount opens the PDF and returns its number of pages.
func (s *PDFService) PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf for page count: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

// ghostscriptPattern is the -sOutputFile value that makes ghostscript write
// PageFileName for each page. Ghostscript substitutes %03d with the 1-based
// page number and reads %% as a literal percent sign.
func ghostscriptPattern(outDir, stem string) string {
	return filepath.Join(outDir, strings.ReplaceAll(stem, "%", "%%")+"-page-%03d.png")
}

// RenderPages renders every page of the PDF at path into outDir and returns
// the page rasters in page order.
func (s *PDFService) RenderPages(ctx context.Context, path, outDir string) ([]models.PageImage, error) {
	numPages, err := s.PageCount(path)
	if err != nil {
		return nil, err
	}
	if numPages == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outputPattern := ghostscriptPattern(outDir, stem)
	cmd := exec.CommandContext(ctx, s.ghostscript,
		"-dQUIET",
		"-dSAFER",
		"-dNOPAUSE",
		"-dBATCH",
		"-sDEVICE=png16m",
		fmt.Sprintf("-r%d", s.dpi),
		fmt.Sprintf("-sOutputFile=%s", outputPattern),
		path,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ghostscript render failed: %w, stderr: %s", err, stderr.String())
	}

	pages := make([]models.PageImage, 0, numPages)
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		pagePath := filepath.Join(outDir, PageFileName(filepath.Base(path), pageNum))
		if _, err := os.Stat(pagePath); err != nil {
			return nil, fmt.Errorf("rendered page %d missing: %w", pageNum, err)
		}
		pages = append(pages, models.PageImage{PageNumber: pageNum, Path: pagePath})
	}
	return pages, nil
}
