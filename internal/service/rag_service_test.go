package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragapi/internal/chunker"
	"ragapi/internal/config"
	"ragapi/internal/domain"
	"ragapi/internal/embedding/hashing"
	"ragapi/internal/synthesizer"
	"ragapi/internal/vectorstore/memory"
	"ragapi/internal/vectorstore/sqlite"
)

const skyDoc = "The sky is blue. Paris is the capital of France."

func newService(t *testing.T, store domain.VectorStore, opts Options) *RAGService {
	t.Helper()
	if opts.TempDir == "" {
		opts.TempDir = t.TempDir()
	}
	return NewRAGService(
		chunker.NewSentenceChunker(1, 0),
		hashing.NewEmbedder(1024),
		store,
		synthesizer.NewFrequencySynthesizer(1),
		opts,
	)
}

func TestQuery_SkyScenario(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memory.NewStorage(), DefaultOptions())

	res, err := svc.Ingest(ctx, domain.Document{Filename: "facts.txt", Content: skyDoc})
	require.NoError(t, err)
	assert.Equal(t, 2, res.UnitsCreated)
	assert.Equal(t, 2, res.UnitsWritten)
	assert.Len(t, res.SourceID, 16)

	ans, err := svc.Query(ctx, domain.Query{Text: "What color is the sky?"}, 1)
	require.NoError(t, err)
	require.Len(t, ans.Matches, 1)
	assert.Equal(t, "The sky is blue.", ans.Matches[0].Text)
	assert.Equal(t, res.SourceID, ans.Matches[0].SourceID)
	assert.Equal(t, "The sky is blue.", ans.Response)
}

func TestQuery_ExactUnitRanksFirst(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memory.NewStorage(), DefaultOptions())
	_, err := svc.Ingest(ctx, domain.Document{Filename: "a.txt", Content: "Cats purr softly. Dogs bark loudly. Birds sing at dawn."})
	require.NoError(t, err)

	ans, err := svc.Query(ctx, domain.Query{Text: "Dogs bark loudly."}, 3)
	require.NoError(t, err)
	require.Len(t, ans.Matches, 3)
	assert.Equal(t, "Dogs bark loudly.", ans.Matches[0].Text)
	assert.InDelta(t, 1.0, ans.Matches[0].Score, 1e-6)
	for i := 1; i < len(ans.Matches); i++ {
		assert.GreaterOrEqual(t, ans.Matches[i-1].Score, ans.Matches[i].Score)
	}
}

func TestQuery_NoIndex(t *testing.T) {
	svc := newService(t, memory.NewStorage(), DefaultOptions())
	_, err := svc.Query(context.Background(), domain.Query{Text: "anything"}, 0)
	assert.ErrorIs(t, err, domain.ErrNoIndex)
}

func TestQuery_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memory.NewStorage(), DefaultOptions())

	_, err := svc.Query(ctx, domain.Query{Text: "  "}, 1)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Query(ctx, domain.Query{Text: "sky"}, -1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestQuery_TopKBounds(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.MaxTopK = 3
	svc := newService(t, memory.NewStorage(), opts)
	_, err := svc.Ingest(ctx, domain.Document{Filename: "a.txt", Content: "One. Two. Three. Four. Five."})
	require.NoError(t, err)

	tests := []struct {
		name string
		topK int
		want int
	}{
		{"default", 0, 2},
		{"explicit", 1, 1},
		{"clamped", 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans, err := svc.Query(ctx, domain.Query{Text: "three"}, tt.topK)
			require.NoError(t, err)
			assert.Len(t, ans.Matches, tt.want)
		})
	}
}

func TestQuery_FewerUnitsThanTopK(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memory.NewStorage(), DefaultOptions())
	_, err := svc.Ingest(ctx, domain.Document{Filename: "a.txt", Content: "Only one sentence here."})
	require.NoError(t, err)

	ans, err := svc.Query(ctx, domain.Query{Text: "sentence"}, 5)
	require.NoError(t, err)
	assert.Len(t, ans.Matches, 1)
}

func TestIngest_UnitsCoverContent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	svc := newService(t, store, DefaultOptions())
	content := "First point. Second point! Third point? A trailing note"
	_, err := svc.Ingest(ctx, domain.Document{Filename: "a.txt", Content: content})
	require.NoError(t, err)

	ans, err := svc.Query(ctx, domain.Query{Text: "point"}, 10)
	require.NoError(t, err)
	var joined []string
	for _, m := range ans.Matches {
		joined = append(joined, m.Text)
	}
	for _, word := range strings.Fields(content) {
		assert.Contains(t, strings.Join(joined, " "), word)
	}
}

func TestIngest_DedupReportsNoNewUnits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	svc := newService(t, store, DefaultOptions())
	doc := domain.Document{Filename: "facts.txt", Content: skyDoc}

	first, err := svc.Ingest(ctx, doc)
	require.NoError(t, err)
	second, err := svc.Ingest(ctx, doc)
	require.NoError(t, err)

	assert.Equal(t, first.SourceID, second.SourceID)
	assert.Zero(t, second.UnitsCreated)
	assert.Equal(t, 2, second.UnitsWritten)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIngest_WithoutDedupDuplicatesAccumulate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	opts := DefaultOptions()
	opts.Dedup = false
	svc := newService(t, store, opts)
	doc := domain.Document{SourceID: "fixed", Content: skyDoc}

	_, err := svc.Ingest(ctx, doc)
	require.NoError(t, err)
	res, err := svc.Ingest(ctx, doc)
	require.NoError(t, err)

	assert.Equal(t, "fixed", res.SourceID)
	assert.Equal(t, 2, res.UnitsCreated)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestIngest_EmptyContent(t *testing.T) {
	svc := newService(t, memory.NewStorage(), DefaultOptions())
	_, err := svc.Ingest(context.Background(), domain.Document{Filename: "a.txt", Content: " \n "})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIngest_BatchesAcrossConcurrentEmbedding(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	opts := DefaultOptions()
	opts.EmbedBatchSize = 2
	opts.EmbedConcurrency = 3
	opts.StoreBatchSize = 3
	svc := newService(t, store, opts)

	var b strings.Builder
	for i := 0; i < 11; i++ {
		b.WriteString("Sentence number ")
		b.WriteString(strings.Repeat("x", i+1))
		b.WriteString(". ")
	}
	res, err := svc.Ingest(ctx, domain.Document{Filename: "a.txt", Content: b.String()})
	require.NoError(t, err)
	assert.Equal(t, 11, res.UnitsWritten)

	ans, err := svc.Query(ctx, domain.Query{Text: "sentence"}, 20)
	require.NoError(t, err)
	require.Len(t, ans.Matches, 11)
	seen := map[int]bool{}
	for _, m := range ans.Matches {
		assert.Equal(t, "Sentence number "+strings.Repeat("x", m.Index+1)+".", m.Text, "embedding landed on the wrong unit")
		seen[m.Index] = true
	}
	assert.Len(t, seen, 11)
}

// failingEmbedder always errors.
type failingEmbedder struct{}

func (failingEmbedder) Name() string   { return "failing" }
func (failingEmbedder) Dimension() int { return 4 }
func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

func TestIngest_EmbeddingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	svc := NewRAGService(chunker.NewSentenceChunker(1, 0), failingEmbedder{}, store, synthesizer.ConcatSynthesizer{}, DefaultOptions())

	_, err := svc.Ingest(ctx, domain.Document{Filename: "a.txt", Content: skyDoc})
	require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.True(t, domain.IsTransient(err))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// flakyStore fails every Upsert after the first failAfter calls.
type flakyStore struct {
	*memory.Storage
	failAfter int32
	calls     atomic.Int32
}

func (f *flakyStore) Upsert(ctx context.Context, units []domain.Unit) (int, error) {
	if f.calls.Add(1) > f.failAfter {
		return 0, errors.New("disk full")
	}
	return f.Storage.Upsert(ctx, units)
}

func TestIngest_PartialWrite(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.StoreBatchSize = 2
	svc := newService(t, &flakyStore{Storage: memory.NewStorage(), failAfter: 1}, opts)

	_, err := svc.Ingest(ctx, domain.Document{Filename: "a.txt", Content: "A one. B two. C three. D four."})
	require.Error(t, err)

	var pw *domain.PartialWriteError
	require.ErrorAs(t, err, &pw)
	assert.Equal(t, 2, pw.Written)
	assert.Equal(t, 2, pw.Created)
	assert.Equal(t, 4, pw.Total)
	assert.ErrorIs(t, err, domain.ErrVectorStoreWrite)
}

func TestIngest_FirstBatchFailureIsWriteError(t *testing.T) {
	opts := DefaultOptions()
	svc := newService(t, &flakyStore{Storage: memory.NewStorage()}, opts)

	_, err := svc.Ingest(context.Background(), domain.Document{Filename: "a.txt", Content: skyDoc})
	require.ErrorIs(t, err, domain.ErrVectorStoreWrite)
	var pw *domain.PartialWriteError
	assert.False(t, errors.As(err, &pw))
}

func TestIngestFile_RemovesTempFile(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	opts := DefaultOptions()
	opts.TempDir = tmp
	opts.MaxUploadBytes = 64
	svc := newService(t, memory.NewStorage(), opts)

	res, err := svc.IngestFile(ctx, domain.FileInput{Filename: "facts.md", Body: strings.NewReader("# Facts\n\n" + skyDoc)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.UnitsCreated)

	_, err = svc.IngestFile(ctx, domain.FileInput{Filename: "big.txt", Body: bytes.NewReader(bytes.Repeat([]byte("a"), 65))})
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)

	_, err = svc.IngestFile(ctx, domain.FileInput{Filename: "blob.bin", Body: bytes.NewReader([]byte{0x89, 'P', 'N', 'G', 0, 0, 0, 0})})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files remain")
}

func TestIngestFile_EmbeddingFailureRemovesTempFile(t *testing.T) {
	tmp := t.TempDir()
	opts := DefaultOptions()
	opts.TempDir = tmp
	svc := NewRAGService(chunker.NewSentenceChunker(1, 0), failingEmbedder{}, memory.NewStorage(), synthesizer.ConcatSynthesizer{}, opts)

	_, err := svc.IngestFile(context.Background(), domain.FileInput{Filename: "facts.txt", Body: strings.NewReader(skyDoc)})
	require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files remain")
}

func TestIngestFile_SourceIDOverride(t *testing.T) {
	svc := newService(t, memory.NewStorage(), DefaultOptions())
	res, err := svc.IngestFile(context.Background(), domain.FileInput{Filename: "a.txt", SourceID: "handbook", Body: strings.NewReader(skyDoc)})
	require.NoError(t, err)
	assert.Equal(t, "handbook", res.SourceID)
}

func TestIngestFile_RequiresName(t *testing.T) {
	svc := newService(t, memory.NewStorage(), DefaultOptions())
	_, err := svc.IngestFile(context.Background(), domain.FileInput{Body: strings.NewReader(skyDoc)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// countingStore records Count calls.
type countingStore struct {
	*memory.Storage
	counts atomic.Int32
}

func (c *countingStore) Count(ctx context.Context) (int, error) {
	c.counts.Add(1)
	return c.Storage.Count(ctx)
}

func TestIndexPolicy(t *testing.T) {
	ctx := context.Background()
	for _, policy := range []string{config.IndexPolicyReload, config.IndexPolicyCached} {
		t.Run(policy, func(t *testing.T) {
			store := &countingStore{Storage: memory.NewStorage()}
			opts := DefaultOptions()
			opts.IndexPolicy = policy
			svc := newService(t, store, opts)

			_, err := svc.Ingest(ctx, domain.Document{Filename: "a.txt", Content: skyDoc})
			require.NoError(t, err)
			for i := 0; i < 3; i++ {
				_, err = svc.Query(ctx, domain.Query{Text: "sky"}, 1)
				require.NoError(t, err)
			}
			if policy == config.IndexPolicyCached {
				assert.Zero(t, store.counts.Load())
			} else {
				assert.Equal(t, int32(3), store.counts.Load())
			}

			require.NoError(t, svc.Reset(ctx))
			_, err = svc.Query(ctx, domain.Query{Text: "sky"}, 1)
			assert.ErrorIs(t, err, domain.ErrNoIndex)
		})
	}
}

func TestReset_AllowsReingest(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memory.NewStorage(), DefaultOptions())
	doc := domain.Document{Filename: "facts.txt", Content: skyDoc}
	_, err := svc.Ingest(ctx, doc)
	require.NoError(t, err)

	require.NoError(t, svc.Reset(ctx))

	res, err := svc.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, res.UnitsCreated)
}

// failingSynth always errors.
type failingSynth struct{}

func (failingSynth) Synthesize(context.Context, string, []domain.Match) (string, error) {
	return "", errors.New("model overloaded")
}

func TestQuery_SynthesisFailure(t *testing.T) {
	ctx := context.Background()
	svc := NewRAGService(chunker.NewSentenceChunker(1, 0), hashing.NewEmbedder(64), memory.NewStorage(), failingSynth{}, DefaultOptions())
	_, err := svc.Ingest(ctx, domain.Document{Filename: "a.txt", Content: skyDoc})
	require.NoError(t, err)

	_, err = svc.Query(ctx, domain.Query{Text: "sky"}, 1)
	assert.ErrorIs(t, err, domain.ErrSynthesisUnavailable)
}

func openSharedStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(path, "kb")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIngest_RecoversAfterResetByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rag.db")
	writer := newService(t, openSharedStore(t, path), DefaultOptions())
	admin := newService(t, openSharedStore(t, path), DefaultOptions())

	_, err := writer.Ingest(ctx, domain.Document{Filename: "a.txt", Content: skyDoc})
	require.NoError(t, err)

	require.NoError(t, admin.Reset(ctx))

	res, err := writer.Ingest(ctx, domain.Document{Filename: "b.txt", Content: skyDoc})
	require.NoError(t, err)
	assert.Equal(t, 2, res.UnitsWritten)
	_, err = writer.Ingest(ctx, domain.Document{Filename: "c.txt", Content: "Rivers flow to the sea."})
	require.NoError(t, err)

	ans, err := admin.Query(ctx, domain.Query{Text: "What color is the sky?"}, 1)
	require.NoError(t, err)
	require.Len(t, ans.Matches, 1)
	assert.Equal(t, "The sky is blue.", ans.Matches[0].Text)
}

func TestQuery_CachedPolicyNoticesExternalReset(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rag.db")
	opts := DefaultOptions()
	opts.IndexPolicy = config.IndexPolicyCached
	reader := newService(t, openSharedStore(t, path), opts)
	admin := newService(t, openSharedStore(t, path), DefaultOptions())

	_, err := reader.Ingest(ctx, domain.Document{Filename: "a.txt", Content: skyDoc})
	require.NoError(t, err)
	_, err = reader.Query(ctx, domain.Query{Text: "sky"}, 1)
	require.NoError(t, err)

	require.NoError(t, admin.Reset(ctx))

	_, err = reader.Query(ctx, domain.Query{Text: "sky"}, 1)
	assert.ErrorIs(t, err, domain.ErrNoIndex)

	// The flag was cleared, so ingesting again restores normal queries.
	_, err = reader.Ingest(ctx, domain.Document{Filename: "a.txt", Content: skyDoc})
	require.NoError(t, err)
	_, err = reader.Query(ctx, domain.Query{Text: "sky"}, 1)
	assert.NoError(t, err)
}

// stallingStore blocks Init until release is closed.
type stallingStore struct {
	*memory.Storage
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStore) Init(ctx context.Context, dim int) error {
	close(s.entered)
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Storage.Init(ctx, dim)
}

func TestReset_DoesNotWaitForSlowInit(t *testing.T) {
	ctx := context.Background()
	store := &stallingStore{Storage: memory.NewStorage(), entered: make(chan struct{}), release: make(chan struct{})}
	svc := newService(t, store, DefaultOptions())

	ingested := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(ctx, domain.Document{Filename: "a.txt", Content: skyDoc})
		ingested <- err
	}()
	<-store.entered

	reset := make(chan error, 1)
	go func() { reset <- svc.Reset(ctx) }()
	select {
	case err := <-reset:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reset blocked behind a pending store init")
	}

	close(store.release)
	require.NoError(t, <-ingested)
}
