package builder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/dgallion1/lexclass/internal/index"
)

// FlatPublisher writes an in-memory flat index to its two files.
type FlatPublisher struct {
	Files index.Files
}

func (p FlatPublisher) Publish(ctx context.Context, buildID string, dim int, vectors [][]float32, metas []index.Meta) (index.Index, error) {
	idx, err := index.NewFlat(dim)
	if err != nil {
		return nil, err
	}
	idx.SetBuildID(buildID)
	if err := idx.Add(ctx, vectors, metas); err != nil {
		return nil, err
	}
	if err := idx.Save(p.Files); err != nil {
		return nil, fmt.Errorf("save index: %w", err)
	}
	return idx, nil
}

// MilvusPublisher loads each build into a new collection, then swaps the
// pointer file to it and drops the collection the pointer named before.
// Readers of the pointer never see a half-filled collection.
type MilvusPublisher struct {
	Client      *milvusclient.Client
	Prefix      string
	PointerPath string
	Log         *slog.Logger
}

func (p MilvusPublisher) Publish(ctx context.Context, buildID string, dim int, vectors [][]float32, metas []index.Meta) (index.Index, error) {
	log := p.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	collection := CollectionName(p.Prefix, buildID)

	m, err := index.CreateMilvus(ctx, p.Client, collection, dim)
	if err != nil {
		return nil, err
	}
	if err := m.Add(ctx, vectors, metas); err != nil {
		if derr := m.Drop(context.WithoutCancel(ctx)); derr != nil {
			log.Warn("drop incomplete collection", "collection", collection, "error", derr)
		}
		return nil, err
	}

	old, oldErr := index.ReadPointer(p.PointerPath)
	err = index.WritePointer(p.PointerPath, index.MilvusPointer{
		Collection: collection,
		BuildID:    buildID,
		Dimension:  dim,
		Count:      len(vectors),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("write milvus pointer: %w", err)
	}

	if oldErr == nil && old.Collection != collection {
		if err := index.DropCollection(ctx, p.Client, old.Collection); err != nil {
			log.Warn("drop previous collection", "collection", old.Collection, "error", err)
		} else {
			log.Info("dropped previous collection", "collection", old.Collection)
		}
	}
	return m, nil
}

// CollectionName derives the collection for a build. Milvus names allow
// letters, digits and underscores.
func CollectionName(prefix, buildID string) string {
	if prefix == "" {
		prefix = "lexclass"
	}
	return prefix + "_" + strings.ToLower(buildID)
}
