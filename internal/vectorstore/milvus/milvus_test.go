package milvus

import (
	"testing"

	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddress(t *testing.T) {
	assert.Equal(t, "localhost:19530", address("localhost", 19530))
	assert.Equal(t, "milvus:1234", address("milvus:1234", 19530))
	assert.Equal(t, "milvus", address("milvus", 0))
}

func TestIDFilter(t *testing.T) {
	assert.Equal(t, `id in ["a", "b"]`, idFilter([]string{"a", "b"}))
	assert.Equal(t, `id in ["say \"hi\""]`, idFilter([]string{`say "hi"`}))
}

func TestSchemaDimensionRoundTrip(t *testing.T) {
	s := schema("kb", 384)
	assert.Equal(t, "kb", s.CollectionName)

	dim, err := vectorDimension(s)
	require.NoError(t, err)
	assert.Equal(t, 384, dim)

	var pk *entity.Field
	for _, f := range s.Fields {
		if f.PrimaryKey {
			pk = f
		}
	}
	require.NotNil(t, pk)
	assert.Equal(t, FieldID, pk.Name)
	assert.False(t, pk.AutoID)
}

func TestVectorDimension_Errors(t *testing.T) {
	_, err := vectorDimension(nil)
	assert.Error(t, err)

	_, err = vectorDimension(&entity.Schema{Fields: []*entity.Field{{Name: FieldText}}})
	assert.Error(t, err)

	_, err = vectorDimension(&entity.Schema{Fields: []*entity.Field{{Name: FieldVector, TypeParams: map[string]string{"dim": "x"}}}})
	assert.Error(t, err)
}
