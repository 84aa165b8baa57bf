package builder

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/lexclass/internal/parser"
)

// Document is one labelled file of the corpus.
type Document struct {
	Category string
	Path     string
	// Filename is the path relative to the category directory, with forward
	// slashes.
	Filename string
}

// Walk lists the corpus under root. Every directory directly below root is
// a category named after the directory; every supported file beneath it,
// at any depth, is a document of that category. Hidden entries are skipped.
// Categories and files come back in lexical order.
func Walk(root string) ([]Document, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read corpus root: %w", err)
	}

	var docs []Document
	for _, e := range entries {
		if !e.IsDir() || hidden(e.Name()) {
			continue
		}
		category := e.Name()
		dir := filepath.Join(root, category)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != dir && hidden(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() || !parser.IsSupportedExtension(d.Name()) {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			docs = append(docs, Document{Category: category, Path: path, Filename: filepath.ToSlash(rel)})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk category %s: %w", category, err)
		}
	}
	return docs, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
