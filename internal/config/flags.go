package config

import (
	"github.com/spf13/pflag"
)

// AddFlags registers command-line overrides on fs. Only flags the user sets
// are applied, by ApplyFlags, so file and environment values survive
// otherwise.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("data-dir", d.Data.DataDir, "corpus root, one directory per category")
	fs.String("index-file", d.Index.IndexFile, "flat index file")
	fs.String("meta-file", d.Index.MetaFile, "flat index metadata file")
	fs.String("backend", d.Index.Backend, "index backend: flat or milvus")
	fs.Int("k", d.Search.KNeighbors, "neighbors retrieved per chunk")
	fs.Float64("threshold", d.Search.VoteThreshold, "similarity a neighbor must exceed to vote")
	fs.String("policy", d.Search.VotePolicy, "vote policy: hard or soft")
	fs.Int("window-size", d.Chunking.WindowSize, "chunk window in characters")
	fs.Int("overlap", d.Chunking.Overlap, "characters shared by consecutive chunks")
	fs.Int("min-len", d.Chunking.MinLen, "chunks of this length or shorter are dropped")
	fs.Int("workers", d.Data.BuildWorkers, "documents processed in parallel while building (0 = GOMAXPROCS)")
	fs.String("embedding-provider", d.Embedding.Provider, "embedder: openai or hash")
}

// ApplyFlags copies every flag set on fs into c.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	strs := map[string]*string{
		"data-dir":           &c.Data.DataDir,
		"index-file":         &c.Index.IndexFile,
		"meta-file":          &c.Index.MetaFile,
		"backend":            &c.Index.Backend,
		"policy":             &c.Search.VotePolicy,
		"embedding-provider": &c.Embedding.Provider,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	ints := map[string]*int{
		"k":           &c.Search.KNeighbors,
		"window-size": &c.Chunking.WindowSize,
		"overlap":     &c.Chunking.Overlap,
		"min-len":     &c.Chunking.MinLen,
		"workers":     &c.Data.BuildWorkers,
	}
	for name, dst := range ints {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	if fs.Changed("threshold") {
		v, err := fs.GetFloat64("threshold")
		if err != nil {
			return err
		}
		c.Search.VoteThreshold = v
	}
	return nil
}
