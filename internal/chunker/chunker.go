package chunker

import (
	"errors"
	"fmt"
)

// DefaultMinLen is the length a window must exceed to be kept.
const DefaultMinLen = 50

// ErrInvalidConfiguration is returned for window settings that cannot
// produce a forward-moving window.
var ErrInvalidConfiguration = errors.New("invalid chunking configuration")

// Config controls chunking behavior. Lengths are counted in characters
// (runes), not bytes, so accented text splits on the same boundaries as it
// reads.
type Config struct {
	WindowSize int // Width of each window.
	Overlap    int // Characters shared by consecutive windows.
	MinLen     int // Windows of this length or shorter are dropped.
}

// DefaultConfig returns the settings the index is normally built with.
func DefaultConfig() Config {
	return Config{
		WindowSize: 1000,
		Overlap:    200,
		MinLen:     DefaultMinLen,
	}
}

// Validate rejects settings whose stride would be zero or negative.
func (c Config) Validate() error {
	switch {
	case c.WindowSize <= 0:
		return fmt.Errorf("%w: window size must be positive, got %d", ErrInvalidConfiguration, c.WindowSize)
	case c.Overlap < 0:
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfiguration, c.Overlap)
	case c.Overlap >= c.WindowSize:
		return fmt.Errorf("%w: overlap (%d) must be smaller than window size (%d)", ErrInvalidConfiguration, c.Overlap, c.WindowSize)
	case c.MinLen < 0:
		return fmt.Errorf("%w: min length must not be negative, got %d", ErrInvalidConfiguration, c.MinLen)
	}
	return nil
}

// Stride is the distance between the starts of consecutive windows.
func (c Config) Stride() int {
	return c.WindowSize - c.Overlap
}

// Chunk is a window of document text.
type Chunk struct {
	Text  string
	Start int // Rune offset of the window in the source text.
}

// Chunker splits text into overlapping fixed-size windows. The zero value is
// not usable; construct one with New.
type Chunker struct {
	cfg Config
}

// New validates cfg and returns a Chunker bound to it.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Config returns the settings the chunker was built with.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Split returns the windows of text in order.
//
// Text that fits in one window comes back whole as a single chunk, however
// short. Longer text is walked with stride WindowSize-Overlap and every
// window (including the trailing partial ones) longer than MinLen is kept.
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) <= c.cfg.WindowSize {
		return []Chunk{{Text: text, Start: 0}}
	}

	stride := c.cfg.Stride()
	chunks := make([]Chunk, 0, len(runes)/stride+1)
	for start := 0; start < len(runes); start += stride {
		end := min(start+c.cfg.WindowSize, len(runes))
		if end-start > c.cfg.MinLen {
			chunks = append(chunks, Chunk{Text: string(runes[start:end]), Start: start})
		}
	}
	return chunks
}

// Texts returns only the text of each chunk, in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}

// Split is a one-shot form of New(cfg) followed by Split(text).
func Split(text string, cfg Config) ([]Chunk, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}
