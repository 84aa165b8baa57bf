package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/lexclass/internal/config"
	"github.com/dgallion1/lexclass/internal/embedding"
	"github.com/dgallion1/lexclass/internal/index"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimension = 64
	cfg.Data.DataDir = filepath.Join(dir, "corpus")
	cfg.Index.IndexFile = filepath.Join(dir, "knn_index.bin")
	cfg.Index.MetaFile = filepath.Join(dir, "knn_metadata.json")
	return cfg
}

func writeCorpus(t *testing.T, root string) {
	t.Helper()
	docs := map[string]string{
		"wyroki/a.txt": strings.Repeat("sąd apelacyjny oddala apelację pozwanego wyrok ", 20),
		"umowy/b.txt":  strings.Repeat("umowa najmu lokalu czynsz kaucja najemca ", 20),
	}
	for rel, body := range docs {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func TestNew_HashEmbedder(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &embedding.Hashing{}, a.Embedder)
	assert.Equal(t, 64, a.Embedder.Dimension())
	assert.Nil(t, a.EmbeddingStats)
	assert.Nil(t, a.Classifier.Index())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chunking.Overlap = cfg.Chunking.WindowSize
	_, err := New(context.Background(), cfg, nil, nil)
	assert.Error(t, err)
}

func TestOpenIndex_NothingBuilt(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil, nil)
	require.NoError(t, err)
	_, err = a.OpenIndex(context.Background())
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestOpenIndex_HalfPresentIsFatal(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Index.IndexFile, []byte("x"), 0o644))

	a, err := New(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	_, err = a.OpenIndex(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoIndex)
}

func TestBuildThenClassify(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeCorpus(t, cfg.Data.DataDir)

	a, err := New(ctx, cfg, nil, nil)
	require.NoError(t, err)

	sum, _, err := a.Builder.Run(ctx, cfg.Data.DataDir, a.Publisher)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Indexed)

	idx, err := a.LoadIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, sum.Vectors, idx.Len())
	assert.Equal(t, sum.BuildID, idx.(index.Inspectable).BuildID())

	res, err := a.Classifier.ClassifyFile(ctx, filepath.Join(cfg.Data.DataDir, "umowy", "b.txt"))
	require.NoError(t, err)
	w, ok := res.Winner()
	require.True(t, ok)
	assert.Equal(t, "umowy", w.Category)
}

func TestCacheNamespace(t *testing.T) {
	assert.Equal(t, "text-embedding-3-small-1536", cacheNamespace(config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimension: 1536}))
	assert.Equal(t, "hash-384", cacheNamespace(config.EmbeddingConfig{Provider: "hash", Dimension: 384}))
}
