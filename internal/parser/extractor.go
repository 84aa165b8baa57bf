package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options tunes PDF extraction. Other formats ignore it.
type Options struct {
	// PageLimit: PDFs with more pages than this only have their first and
	// last three pages read. Zero reads every page.
	PageLimit int
	// MinText: direct PDF text of this many characters or fewer is treated
	// as a scan and triggers the fallbacks.
	MinText int
	// Pdftotext enables the poppler pdftotext fallback.
	Pdftotext bool
	// OCR enables the pdftoppm + tesseract fallback.
	OCR bool
	// OCRLanguage is passed to tesseract's -l flag.
	OCRLanguage string

	Log *slog.Logger
}

// DefaultOptions matches how the reference corpus was extracted.
func DefaultOptions() Options {
	return Options{
		PageLimit:   6,
		MinText:     100,
		Pdftotext:   true,
		OCR:         true,
		OCRLanguage: "pol",
	}
}

// Extractor turns a document on disk (or an upload) into plain text.
type Extractor struct {
	opts Options
	log  *slog.Logger
}

// NewExtractor creates an Extractor. A nil logger discards output.
func NewExtractor(opts Options, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.OCRLanguage == "" {
		opts.OCRLanguage = "pol"
	}
	opts.Log = log
	return &Extractor{opts: opts, log: log}
}

// ExtractText reads the document at path.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return e.ExtractReader(ctx, f, filepath.Base(path))
}

// ExtractReader reads a document from r, choosing the parser by filename.
func (e *Extractor) ExtractReader(ctx context.Context, r io.Reader, filename string) (string, error) {
	p, err := ForFile(filename, e.opts)
	if err != nil {
		return "", err
	}
	text, err := p.Parse(ctx, r, filename)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", filename, err)
	}
	return strings.TrimSpace(text), nil
}
