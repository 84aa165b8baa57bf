package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	milvusindex "github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
)

const (
	fieldVector   = "embedding"
	fieldPosition = "position"
	fieldCategory = "category"
	fieldFilename = "filename"

	insertBatch = 1000

	// milvusTieSlack is how many candidates beyond k a search fetches.
	milvusTieSlack = 16
	// milvusMaxTopK is the server's limit on results per query.
	milvusMaxTopK = 16384
)

// MilvusConfig holds connection settings for a Milvus server.
type MilvusConfig struct {
	Address  string
	Username string
	Password string
	Database string
	Timeout  time.Duration
}

// DialMilvus connects to Milvus.
func DialMilvus(ctx context.Context, cfg MilvusConfig) (*milvusclient.Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to milvus at %s: %w", cfg.Address, err)
	}
	return c, nil
}

// Milvus is an Index backed by one Milvus collection using the inner-product
// metric over a FLAT (exhaustive) index, so results match the in-memory Flat
// index. Each build writes a fresh collection.
type Milvus struct {
	client     *milvusclient.Client
	collection string
	dim        int

	mu    sync.Mutex
	count int
}

// CreateMilvus creates an empty collection for dim-length vectors, dropping
// any collection already using the name, and loads it for search.
func CreateMilvus(ctx context.Context, client *milvusclient.Client, collection string, dim int) (*Milvus, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}

	exists, err := client.HasCollection(ctx, milvusclient.NewHasCollectionOption(collection))
	if err != nil {
		return nil, fmt.Errorf("check collection %s: %w", collection, err)
	}
	if exists {
		if err := client.DropCollection(ctx, milvusclient.NewDropCollectionOption(collection)); err != nil {
			return nil, fmt.Errorf("drop collection %s: %w", collection, err)
		}
	}

	schema := entity.NewSchema().
		WithName(collection).
		WithDescription("lexclass chunk vectors").
		WithAutoID(true).
		WithField(entity.NewField().
			WithName("id").
			WithDataType(entity.FieldTypeInt64).
			WithIsPrimaryKey(true).
			WithIsAutoID(true)).
		WithField(entity.NewField().
			WithName(fieldVector).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim))).
		WithField(entity.NewField().
			WithName(fieldPosition).
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().
			WithName(fieldCategory).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(256)).
		WithField(entity.NewField().
			WithName(fieldFilename).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(1024))

	if err := client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(collection, schema)); err != nil {
		return nil, fmt.Errorf("create collection %s: %w", collection, err)
	}

	idxTask, err := client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(collection, fieldVector, milvusindex.NewFlatIndex(entity.IP)))
	if err != nil {
		return nil, fmt.Errorf("create index on %s: %w", collection, err)
	}
	if err := idxTask.Await(ctx); err != nil {
		return nil, fmt.Errorf("wait for index on %s: %w", collection, err)
	}

	m := &Milvus{client: client, collection: collection, dim: dim}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenMilvus attaches to a collection recorded in a pointer file and checks
// that its row count matches what the build recorded.
func OpenMilvus(ctx context.Context, client *milvusclient.Client, ptr MilvusPointer) (*Milvus, error) {
	m := &Milvus{client: client, collection: ptr.Collection, dim: ptr.Dimension}
	if ptr.Dimension <= 0 {
		return nil, fmt.Errorf("%w: pointer records dimension %d", ErrCorruptIndex, ptr.Dimension)
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	rows, err := m.rowCount(ctx)
	if err != nil {
		return nil, err
	}
	if rows != ptr.Count {
		return nil, fmt.Errorf("%w: collection %s holds %d rows, build recorded %d", ErrCorruptIndex, ptr.Collection, rows, ptr.Count)
	}
	m.count = rows
	return m, nil
}

func (m *Milvus) load(ctx context.Context) error {
	task, err := m.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(m.collection))
	if err != nil {
		return fmt.Errorf("load collection %s: %w", m.collection, err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("wait for collection %s: %w", m.collection, err)
	}
	return nil
}

func (m *Milvus) rowCount(ctx context.Context) (int, error) {
	stats, err := m.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(m.collection))
	if err != nil {
		return 0, fmt.Errorf("collection stats %s: %w", m.collection, err)
	}
	n, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0, fmt.Errorf("parse row count of %s: %w", m.collection, err)
	}
	return n, nil
}

// Collection returns the backing collection name.
func (m *Milvus) Collection() string { return m.collection }

// Dimension returns the collection's vector length.
func (m *Milvus) Dimension() int { return m.dim }

func (m *Milvus) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *Milvus) Add(ctx context.Context, vectors [][]float32, metas []Meta) error {
	if len(vectors) != len(metas) {
		return fmt.Errorf("%w: %d vectors, %d metadata entries", ErrLengthMismatch, len(vectors), len(metas))
	}
	for i, v := range vectors {
		if len(v) != m.dim {
			return fmt.Errorf("%w: vector %d has length %d, index dimension is %d", ErrDimensionMismatch, i, len(v), m.dim)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for start := 0; start < len(vectors); start += insertBatch {
		end := min(start+insertBatch, len(vectors))
		positions := make([]int64, 0, end-start)
		categories := make([]string, 0, end-start)
		filenames := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			positions = append(positions, int64(m.count+i))
			categories = append(categories, metas[i].Category)
			filenames = append(filenames, metas[i].Filename)
		}

		_, err := m.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(m.collection,
			column.NewColumnFloatVector(fieldVector, m.dim, vectors[start:end]),
			column.NewColumnInt64(fieldPosition, positions),
			column.NewColumnVarChar(fieldCategory, categories),
			column.NewColumnVarChar(fieldFilename, filenames),
		))
		if err != nil {
			return fmt.Errorf("insert into %s: %w", m.collection, err)
		}
	}

	task, err := m.client.Flush(ctx, milvusclient.NewFlushOption(m.collection))
	if err != nil {
		return fmt.Errorf("flush %s: %w", m.collection, err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("wait for flush of %s: %w", m.collection, err)
	}
	m.count += len(vectors)
	return nil
}

// Search queries the collection and orders hits like Flat.Search.
func (m *Milvus) Search(ctx context.Context, queries [][]float32, k int) ([][]Neighbor, error) {
	out := make([][]Neighbor, len(queries))
	if len(queries) == 0 {
		return out, nil
	}
	vecs := make([]entity.Vector, len(queries))
	for i, q := range queries {
		if len(q) != m.dim {
			return nil, fmt.Errorf("%w: query %d has length %d, index dimension is %d", ErrDimensionMismatch, i, len(q), m.dim)
		}
		vecs[i] = entity.FloatVector(q)
	}
	if k <= 0 || m.Len() == 0 {
		for i := range out {
			out[i] = []Neighbor{}
		}
		return out, nil
	}

	// Extra candidates let entries tying at the k-th score compete by
	// position before the list is cut back to k.
	fetch := min(k+milvusTieSlack, milvusMaxTopK)
	results, err := m.client.Search(ctx, milvusclient.NewSearchOption(m.collection, fetch, vecs).
		WithANNSField(fieldVector).
		WithOutputFields(fieldPosition, fieldCategory, fieldFilename))
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", m.collection, err)
	}
	if len(results) != len(queries) {
		return nil, fmt.Errorf("search %s: %d result sets for %d queries", m.collection, len(results), len(queries))
	}

	for qi, rs := range results {
		hits := make([]Neighbor, rs.ResultCount)
		for i := 0; i < rs.ResultCount; i++ {
			hits[i].Score = rs.Scores[i]
		}
		for _, field := range rs.Fields {
			switch col := field.(type) {
			case *column.ColumnInt64:
				if col.Name() == fieldPosition {
					for i := range hits {
						hits[i].Position = int(col.Data()[i])
					}
				}
			case *column.ColumnVarChar:
				for i := range hits {
					switch col.Name() {
					case fieldCategory:
						hits[i].Meta.Category = col.Data()[i]
					case fieldFilename:
						hits[i].Meta.Filename = col.Data()[i]
					}
				}
			}
		}
		out[qi] = rankHits(hits, k)
	}
	return out, nil
}

// rankHits orders hits by score descending then position ascending and keeps
// the first k. Milvus does not promise an order among equal scores.
func rankHits(hits []Neighbor, k int) []Neighbor {
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Position < hits[b].Position
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Drop removes the backing collection.
func (m *Milvus) Drop(ctx context.Context) error {
	return DropCollection(ctx, m.client, m.collection)
}

// DropCollection removes a collection if it exists.
func DropCollection(ctx context.Context, client *milvusclient.Client, collection string) error {
	exists, err := client.HasCollection(ctx, milvusclient.NewHasCollectionOption(collection))
	if err != nil {
		return fmt.Errorf("check collection %s: %w", collection, err)
	}
	if !exists {
		return nil
	}
	if err := client.DropCollection(ctx, milvusclient.NewDropCollectionOption(collection)); err != nil {
		return fmt.Errorf("drop collection %s: %w", collection, err)
	}
	return nil
}

// MilvusPointer records which collection holds the active build. It plays
// the role of the metadata file for the Milvus backend: the classifier opens
// whatever collection the pointer names, and a rebuild swaps the pointer
// only after the new collection is complete.
type MilvusPointer struct {
	Collection string    `json:"collection"`
	BuildID    string    `json:"build_id"`
	Dimension  int       `json:"dimension"`
	Count      int       `json:"count"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReadPointer loads a pointer file.
func ReadPointer(path string) (MilvusPointer, error) {
	var p MilvusPointer
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read milvus pointer: %w", err)
	}
	if err := sonic.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: decode milvus pointer %s: %v", ErrCorruptIndex, path, err)
	}
	if p.Collection == "" {
		return p, fmt.Errorf("%w: milvus pointer %s names no collection", ErrCorruptIndex, path)
	}
	return p, nil
}

// WritePointer atomically replaces the pointer file.
func WritePointer(path string, p MilvusPointer) error {
	if p.Collection == "" {
		return errors.New("milvus pointer needs a collection")
	}
	data, err := sonic.ConfigDefault.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
