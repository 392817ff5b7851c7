package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragapi/internal/config"
	"ragapi/internal/vectorstore/memory"
	"ragapi/internal/vectorstore/qdrant"
	"ragapi/internal/vectorstore/sqlite"
)

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "knowledge_base", CollectionName("", "hashing-1024", false))
	assert.Equal(t, "kb", CollectionName("kb", "hashing-1024", false))
	assert.Equal(t, "kb_hashing_1024", CollectionName("kb", "hashing-1024", true))
	assert.Equal(t, "kb_openai_text_embedding_3_small", CollectionName("kb", "openai-text-embedding-3-small", true))
	assert.Equal(t, "kb", CollectionName("kb", "", true))
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.VectorStoreConfig{Type: "memory"}, "")
	require.NoError(t, err)
	assert.IsType(t, &memory.Storage{}, s)

	path := filepath.Join(t.TempDir(), "units.db")
	s, err = New(ctx, config.VectorStoreConfig{Type: "sqlite", SQLite: &config.SQLiteConfig{Path: path}}, "")
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &sqlite.Store{}, s)

	s, err = New(ctx, config.VectorStoreConfig{Type: "qdrant", Qdrant: &config.QdrantConfig{URL: "http://localhost:6333"}}, "")
	require.NoError(t, err)
	assert.IsType(t, &qdrant.Storage{}, s)

	_, err = New(ctx, config.VectorStoreConfig{Type: "chroma"}, "")
	assert.Error(t, err)

	_, err = New(ctx, config.VectorStoreConfig{Type: "faiss"}, "")
	assert.Error(t, err)
}
