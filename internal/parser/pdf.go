package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// headTailPages is how many pages are read from each end of a long PDF.
const headTailPages = 3

// PDFParser handles PDF files. It reads the text layer with the Go library
// and falls back to pdftotext and then OCR when the text layer is missing
// or too thin, which is the usual case for scanned court documents.
type PDFParser struct {
	Options
}

func (p *PDFParser) Parse(ctx context.Context, r io.Reader, filename string) (string, error) {
	// ledongthuc/pdf and the poppler tools all want a real file.
	tmp, err := os.CreateTemp("", "lexclass-pdf-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	log := p.logger().With("file", filename)

	text, total, err := extractPDFText(tmpPath, p.PageLimit)
	if err == nil && trimmedLen(text) > p.MinText {
		return text, nil
	}
	if err != nil {
		log.Debug("pdf text layer unreadable", "error", err)
	}
	pages := selectPages(total, p.PageLimit)

	if p.Pdftotext {
		alt, perr := extractPdftotext(ctx, tmpPath, pages)
		if perr == nil && trimmedLen(alt) > p.MinText {
			return alt, nil
		}
		if perr != nil {
			log.Debug("pdftotext fallback failed", "error", perr)
		} else if len(alt) > len(text) {
			text = alt
		}
	}

	if p.OCR {
		log.Info("falling back to ocr")
		ocr, oerr := extractOCR(ctx, tmpPath, pages, p.OCRLanguage)
		if oerr == nil {
			return ocr, nil
		}
		log.Warn("ocr fallback failed", "error", oerr)
	}

	if err != nil && text == "" {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	return text, nil
}

func (p *PDFParser) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.New(slog.DiscardHandler)
}

// extractPDFText reads the text layer of the selected pages. It returns the
// total page count so fallbacks can reuse the same selection.
func extractPDFText(path string, pageLimit int) (string, int, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	total := reader.NumPage()
	var parts []string
	for _, i := range selectPages(total, pageLimit) {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		parts = append(parts, text)
	}
	return joinNonEmpty(parts, " "), total, nil
}

// extractPdftotext runs poppler's pdftotext once per contiguous page range.
func extractPdftotext(ctx context.Context, path string, pages []int) (string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", err
	}
	args := [][]string{{"-layout", path, "-"}}
	if len(pages) > 0 {
		args = args[:0]
		for _, rg := range pageRanges(pages) {
			args = append(args, []string{"-layout", "-f", strconv.Itoa(rg[0]), "-l", strconv.Itoa(rg[1]), path, "-"})
		}
	}

	var parts []string
	for _, a := range args {
		out, err := exec.CommandContext(ctx, "pdftotext", a...).Output()
		if err != nil {
			return "", fmt.Errorf("pdftotext: %w", err)
		}
		parts = append(parts, string(out))
	}
	return joinNonEmpty(parts, " "), nil
}

// extractOCR renders each selected page with pdftoppm and reads it back with
// tesseract.
func extractOCR(ctx context.Context, path string, pages []int, lang string) (string, error) {
	for _, bin := range []string{"pdftoppm", "tesseract"} {
		if _, err := exec.LookPath(bin); err != nil {
			return "", err
		}
	}
	if len(pages) == 0 {
		return "", errors.New("no pages to ocr")
	}

	dir, err := os.MkdirTemp("", "lexclass-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create ocr dir: %w", err)
	}
	defer os.RemoveAll(dir)

	var parts []string
	for _, pg := range pages {
		prefix := filepath.Join(dir, "page-"+strconv.Itoa(pg))
		n := strconv.Itoa(pg)
		render := exec.CommandContext(ctx, "pdftoppm", "-r", "200", "-png", "-singlefile", "-f", n, "-l", n, path, prefix)
		if err := render.Run(); err != nil {
			return "", fmt.Errorf("pdftoppm page %d: %w", pg, err)
		}
		out, err := exec.CommandContext(ctx, "tesseract", prefix+".png", "stdout", "-l", lang).Output()
		if err != nil {
			return "", fmt.Errorf("tesseract page %d: %w", pg, err)
		}
		parts = append(parts, string(out))
	}
	return joinNonEmpty(parts, " "), nil
}

// selectPages returns the 1-based pages to read. Documents longer than limit
// pages are reduced to their first and last three pages.
func selectPages(total, limit int) []int {
	if total <= 0 {
		return nil
	}
	if limit <= 0 || total <= limit || total <= 2*headTailPages {
		pages := make([]int, total)
		for i := range pages {
			pages[i] = i + 1
		}
		return pages
	}
	pages := make([]int, 0, 2*headTailPages)
	for i := 1; i <= headTailPages; i++ {
		pages = append(pages, i)
	}
	for i := total - headTailPages + 1; i <= total; i++ {
		pages = append(pages, i)
	}
	return pages
}

// pageRanges collapses sorted page numbers into inclusive [first,last] runs.
func pageRanges(pages []int) [][2]int {
	var out [][2]int
	for _, pg := range pages {
		if n := len(out); n > 0 && out[n-1][1]+1 == pg {
			out[n-1][1] = pg
			continue
		}
		out = append(out, [2]int{pg, pg})
	}
	return out
}

// trimmedLen is the character length of s without surrounding whitespace.
func trimmedLen(s string) int {
	return len([]rune(strings.TrimSpace(s)))
}
