package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/lexclass/internal/classifier"
	"github.com/dgallion1/lexclass/internal/index"
)

func writeCorpus(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	docs := map[string]string{
		"umowy/najem.txt":   strings.Repeat("umowa najmu lokalu czynsz kaucja wynajmujący najemca wypowiedzenie ", 5),
		"wyroki/wyrok.txt":  strings.Repeat("wyrok sąd apelacyjny oddala apelację pozwanego koszty postępowania ", 5),
		"wyroki/krotki.txt": "za krótki",
	}
	for name, text := range docs {
		path := filepath.Join(root, "data", name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	}
	return root
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func commonFlags(root string) []string {
	return []string{
		"--data-dir", filepath.Join(root, "data"),
		"--index-file", filepath.Join(root, "knn_index.bin"),
		"--meta-file", filepath.Join(root, "knn_metadata.json"),
		"--embedding-provider", "hash",
		"--log-level", "error",
	}
}

func TestBuildThenClassify(t *testing.T) {
	root := writeCorpus(t)
	flags := commonFlags(root)

	out, err := run(t, "", append([]string{"build-index"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 2, skipped 1")
	assert.FileExists(t, filepath.Join(root, "knn_index.bin"))

	doc := filepath.Join(root, "nowy.txt")
	require.NoError(t, os.WriteFile(doc, []byte(strings.Repeat("umowa najmu lokalu czynsz kaucja najemca zapłaci ", 3)), 0o644))

	out, err = run(t, "", append([]string{"classify", doc}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Winner: UMOWY")

	out, err = run(t, "", append([]string{"inspect", "--seed", "7"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Dimension: 384")
	assert.Contains(t, out, "Random entry:")
}

func TestClassify_InteractiveLoop(t *testing.T) {
	root := writeCorpus(t)
	flags := commonFlags(root)
	_, err := run(t, "", append([]string{"build-index"}, flags...)...)
	require.NoError(t, err)

	doc := filepath.Join(root, "wyrok.txt")
	require.NoError(t, os.WriteFile(doc, []byte(strings.Repeat("sąd apelacyjny oddala apelację pozwanego wyrok ", 3)), 0o644))

	stdin := "missing.pdf\n'" + doc + "'\nq\nnever-read.txt\n"
	out, err := run(t, stdin, append([]string{"classify"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "File does not exist: missing.pdf")
	assert.Contains(t, out, "Winner: WYROKI")
	assert.Contains(t, out, "Bye!")
	assert.NotContains(t, out, "never-read.txt")
}

func TestBuildIndex_RepairsMismatchedPair(t *testing.T) {
	root := writeCorpus(t)
	flags := commonFlags(root)
	metaPath := filepath.Join(root, "knn_metadata.json")

	_, err := run(t, "", append([]string{"build-index"}, flags...)...)
	require.NoError(t, err)
	stale, err := os.ReadFile(metaPath)
	require.NoError(t, err)

	// A save interrupted between the two renames leaves files from
	// different builds.
	_, err = run(t, "", append([]string{"build-index"}, flags...)...)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(metaPath, stale, 0o644))

	_, err = run(t, "", append([]string{"inspect"}, flags...)...)
	require.ErrorIs(t, err, index.ErrCorruptIndex)

	_, err = run(t, "", append([]string{"build-index"}, flags...)...)
	require.NoError(t, err)
	out, err := run(t, "", append([]string{"inspect"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Vectors:")
}

func TestClassify_WithoutIndex(t *testing.T) {
	root := writeCorpus(t)
	_, err := run(t, "", append([]string{"classify", "x.txt"}, commonFlags(root)...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build-index")
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, classifier.Result{{Category: "umowy", Score: 1.456}, {Category: "wyroki", Score: 0.41}})
	out := buf.String()
	assert.Contains(t, out, "Winner: UMOWY")
	assert.Contains(t, out, "Score: 1.46")
	assert.Contains(t, out, "- wyroki: 0.41")

	buf.Reset()
	printResult(&buf, nil)
	assert.Equal(t, "Category not found\n", buf.String())
}

func TestCleanPath(t *testing.T) {
	assert.Equal(t, "/tmp/a b.pdf", cleanPath(`  "/tmp/a b.pdf" `))
	assert.Equal(t, "/tmp/a.pdf", cleanPath(`'/tmp/a.pdf'`))
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, index.Report{
		Vectors:    3,
		Dimension:  4,
		Metadata:   3,
		Categories: []index.CategoryCount{{Category: "umowy", Vectors: 3, Files: 1}},
		Sample:     &index.Sample{Position: 1, Meta: index.Meta{Category: "umowy", Filename: "a.pdf"}, Head: []float32{1, 0}},
	})
	out := buf.String()
	assert.Contains(t, out, "Vectors:   3")
	assert.Contains(t, out, "Category: [UMOWY]")
	assert.Contains(t, out, "File:     a.pdf")
}
