// Package milvus stores units in a Milvus collection with an HNSW cosine
// index.
package milvus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"ragapi/internal/domain"
	"ragapi/internal/logger"
)

// Field names
const (
	FieldID       = "id"
	FieldSourceID = "source_id"
	FieldIndex    = "idx"
	FieldText     = "text"
	FieldVector   = "vector"
)

const (
	idMaxLength   = "255"
	textMaxLength = "65535"
)

type Config struct {
	Host       string
	Port       int
	Collection string
}

// Storage is a domain.VectorStore backed by Milvus.
type Storage struct {
	client     *milvusclient.Client
	collection string

	mu     sync.Mutex
	loaded bool
}

var _ domain.VectorStore = (*Storage)(nil)

// NewStorage connects to the Milvus server.
func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: address(cfg.Host, cfg.Port)})
	if err != nil {
		return nil, fmt.Errorf("connecting to milvus: %w", err)
	}
	return &Storage{client: client, collection: cfg.Collection}, nil
}

func address(host string, port int) string {
	if port == 0 || strings.Contains(host, ":") {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func schema(collection string, dimension int) *entity.Schema {
	return &entity.Schema{
		CollectionName: collection,
		Description:    "Document units for retrieval",
		Fields: []*entity.Field{
			{
				Name:       FieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": idMaxLength},
			},
			{
				Name:       FieldSourceID,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": idMaxLength},
			},
			{
				Name:     FieldIndex,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       FieldText,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": textMaxLength},
			},
			{
				Name:       FieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dimension)},
			},
		},
	}
}

// vectorDimension reads the dim type param of the vector field.
func vectorDimension(s *entity.Schema) (int, error) {
	if s == nil {
		return 0, errors.New("missing schema")
	}
	for _, f := range s.Fields {
		if f.Name != FieldVector {
			continue
		}
		dim, err := strconv.Atoi(f.TypeParams["dim"])
		if err != nil {
			return 0, fmt.Errorf("parsing vector dim %q: %w", f.TypeParams["dim"], err)
		}
		return dim, nil
	}
	return 0, fmt.Errorf("no %s field in schema", FieldVector)
}

// idFilter builds a primary key membership expression.
func idFilter(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("%s in [%s]", FieldID, strings.Join(quoted, ", "))
}

// Init creates, indexes and loads the collection, or checks the dimension of
// an existing one.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}
	if exists {
		coll, err := s.client.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(s.collection))
		if err != nil {
			return fmt.Errorf("failed to describe collection %s: %w", s.collection, err)
		}
		existing, err := vectorDimension(coll.Schema)
		if err != nil {
			return err
		}
		if existing != dimension {
			return fmt.Errorf("%w: collection %s holds %d, got %d", domain.ErrDimensionMismatch, s.collection, existing, dimension)
		}
	} else {
		if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(s.collection, schema(s.collection, dimension))); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", s.collection, err)
		}
		task, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.collection, FieldVector, index.NewHNSWIndex(entity.COSINE, 16, 200)))
		if err != nil {
			return fmt.Errorf("failed to create index on %s: %w", FieldVector, err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("waiting for index on %s: %w", FieldVector, err)
		}
		logger.Info("Created milvus collection %s (dim %d)", s.collection, dimension)
	}
	return s.load(ctx)
}

func (s *Storage) load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	task, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("failed to load collection %s into memory: %w", s.collection, err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("waiting for collection %s to load: %w", s.collection, err)
	}
	s.loaded = true
	return nil
}

func (s *Storage) Upsert(ctx context.Context, units []domain.Unit) (int, error) {
	if len(units) == 0 {
		return 0, nil
	}
	ids := make([]string, len(units))
	sources := make([]string, len(units))
	indexes := make([]int64, len(units))
	texts := make([]string, len(units))
	vectors := make([][]float32, len(units))
	for i, u := range units {
		ids[i] = u.ID
		sources[i] = u.SourceID
		indexes[i] = int64(u.Index)
		texts[i] = u.Text
		vectors[i] = u.Embedding
	}

	existing, err := s.client.Query(ctx, milvusclient.NewQueryOption(s.collection).
		WithFilter(idFilter(ids)).
		WithOutputFields(FieldID).
		WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return 0, s.writeError(ctx, "looking up existing ids", err)
	}

	opt := milvusclient.NewColumnBasedInsertOption(s.collection).
		WithVarcharColumn(FieldID, ids).
		WithVarcharColumn(FieldSourceID, sources).
		WithInt64Column(FieldIndex, indexes).
		WithVarcharColumn(FieldText, texts).
		WithFloatVectorColumn(FieldVector, len(vectors[0]), vectors)
	if _, err := s.client.Upsert(ctx, opt); err != nil {
		return 0, s.writeError(ctx, "upserting", err)
	}
	return len(units) - existing.ResultCount, nil
}

// writeError reports ErrCollectionMissing when the collection was dropped
// since Init, and forgets that it was loaded.
func (s *Storage) writeError(ctx context.Context, op string, err error) error {
	if exists, hasErr := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection)); hasErr == nil && !exists {
		s.mu.Lock()
		s.loaded = false
		s.mu.Unlock()
		return fmt.Errorf("%s: %w: %s", op, domain.ErrCollectionMissing, s.collection)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.Match, error) {
	opt := milvusclient.NewSearchOption(s.collection, topK, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(FieldVector).
		WithOutputFields(FieldSourceID, FieldIndex, FieldText).
		WithConsistencyLevel(entity.ClStrong)
	results, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0].ResultCount == 0 {
		return nil, nil
	}
	rs := results[0]
	matches := make([]domain.Match, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		id, err := rs.IDs.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("reading id %d: %w", i, err)
		}
		m := domain.Match{ID: id}
		if i < len(rs.Scores) {
			m.Score = float64(rs.Scores[i])
		}
		if col := rs.GetColumn(FieldSourceID); col != nil {
			m.SourceID, _ = col.GetAsString(i)
		}
		if col := rs.GetColumn(FieldText); col != nil {
			m.Text, _ = col.GetAsString(i)
		}
		if col := rs.GetColumn(FieldIndex); col != nil {
			idx, _ := col.GetAsInt64(i)
			m.Index = int(idx)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	if err := s.load(ctx); err != nil {
		return 0, err
	}
	rs, err := s.client.Query(ctx, milvusclient.NewQueryOption(s.collection).
		WithOutputFields("count(*)").
		WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return 0, err
	}
	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	n, err := col.GetAsInt64(0)
	return int(n), err
}

// Reset drops the collection; the next Init recreates it.
func (s *Storage) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil || !exists {
		return err
	}
	return s.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(s.collection))
}

func (s *Storage) Close() error {
	return s.client.Close(context.Background())
}
