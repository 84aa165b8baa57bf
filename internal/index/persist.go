package index

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
)

const fileVersion = 1

// Files names the two artifacts of a persisted flat index. They are written
// and loaded together.
type Files struct {
	IndexPath string
	MetaPath  string
}

type indexFile struct {
	Version   int
	BuildID   string
	Dimension int
	Count     int
	Data      []float32
}

type metaFile struct {
	Version int    `json:"version"`
	BuildID string `json:"build_id"`
	Count   int    `json:"count"`
	Entries []Meta `json:"entries"`
}

// Save writes the index and metadata files. Each is written to a temporary
// file in the target directory and renamed into place, so a reader sees
// either the old or the new file, never a partial one. The shared build ID
// lets Load detect a pair that straddles two builds.
func (f *Flat) Save(files Files) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx := indexFile{
		Version:   fileVersion,
		BuildID:   f.buildID,
		Dimension: f.dim,
		Count:     len(f.metas),
		Data:      f.data,
	}
	meta := metaFile{
		Version: fileVersion,
		BuildID: f.buildID,
		Count:   len(f.metas),
		Entries: f.metas,
	}

	if err := writeMetaFile(files.MetaPath, meta); err != nil {
		return err
	}
	return writeIndexFile(files.IndexPath, idx)
}

// Load reads a flat index and its metadata. It fails with ErrCorruptIndex
// when the two files disagree on entry count or build, or when the vector
// data does not match the recorded shape. A missing file is also fatal.
func Load(files Files) (*Flat, error) {
	for _, p := range []string{files.IndexPath, files.MetaPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("index files not found: %w", err)
		}
	}

	idx, err := readIndexFile(files.IndexPath)
	if err != nil {
		return nil, err
	}
	meta, err := readMetaFile(files.MetaPath)
	if err != nil {
		return nil, err
	}

	switch {
	case idx.Dimension <= 0:
		return nil, fmt.Errorf("%w: index dimension %d", ErrCorruptIndex, idx.Dimension)
	case len(idx.Data) != idx.Count*idx.Dimension:
		return nil, fmt.Errorf("%w: %d floats for %d vectors of dimension %d", ErrCorruptIndex, len(idx.Data), idx.Count, idx.Dimension)
	case len(meta.Entries) != idx.Count:
		return nil, fmt.Errorf("%w: index holds %d vectors but metadata has %d entries", ErrCorruptIndex, idx.Count, len(meta.Entries))
	case meta.Count != len(meta.Entries):
		return nil, fmt.Errorf("%w: metadata header says %d entries, found %d", ErrCorruptIndex, meta.Count, len(meta.Entries))
	case idx.BuildID != meta.BuildID:
		return nil, fmt.Errorf("%w: index build %q does not match metadata build %q", ErrCorruptIndex, idx.BuildID, meta.BuildID)
	}

	return &Flat{
		dim:     idx.Dimension,
		data:    idx.Data,
		metas:   meta.Entries,
		buildID: idx.BuildID,
	}, nil
}

func writeIndexFile(path string, idx indexFile) error {
	return writeAtomic(path, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(idx)
	})
}

func writeMetaFile(path string, meta metaFile) error {
	if meta.Entries == nil {
		meta.Entries = []Meta{}
	}
	return writeAtomic(path, func(w io.Writer) error {
		return sonic.ConfigDefault.NewEncoder(w).Encode(meta)
	})
}

func readIndexFile(path string) (indexFile, error) {
	var idx indexFile
	fh, err := os.Open(path)
	if err != nil {
		return idx, err
	}
	defer fh.Close()
	if err := gob.NewDecoder(bufio.NewReader(fh)).Decode(&idx); err != nil {
		return idx, fmt.Errorf("%w: decode %s: %v", ErrCorruptIndex, path, err)
	}
	return idx, nil
}

func readMetaFile(path string) (metaFile, error) {
	var meta metaFile
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := sonic.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("%w: decode %s: %v", ErrCorruptIndex, path, err)
	}
	return meta, nil
}

// writeAtomic streams write into a temp file beside path, syncs it and
// renames it over path.
func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Exists reports whether both files of a persisted index are present.
func (fs Files) Exists() bool {
	for _, p := range []string{fs.IndexPath, fs.MetaPath} {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return false
		}
	}
	return true
}
