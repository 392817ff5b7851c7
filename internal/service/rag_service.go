package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ragapi/internal/config"
	"ragapi/internal/domain"
	"ragapi/internal/extract"
	"ragapi/internal/logger"
)

// unitNamespace scopes deterministic unit IDs.
var unitNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ragapi/unit"))

// Options tunes batching, retrieval defaults and upload handling.
type Options struct {
	EmbedBatchSize   int
	EmbedConcurrency int
	StoreBatchSize   int
	Dedup            bool
	DefaultTopK      int
	MaxTopK          int
	IndexPolicy      string
	TempDir          string
	MaxUploadBytes   int64
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		EmbedBatchSize:   32,
		EmbedConcurrency: 4,
		StoreBatchSize:   64,
		Dedup:            true,
		DefaultTopK:      2,
		MaxTopK:          50,
		IndexPolicy:      config.IndexPolicyReload,
		MaxUploadBytes:   32 << 20,
	}
}

// OptionsFromConfig collects the service options spread across cfg.
func OptionsFromConfig(cfg *config.AppConfig) Options {
	return Options{
		EmbedBatchSize:   cfg.Embedder.BatchSize,
		EmbedConcurrency: cfg.Embedder.Concurrency,
		StoreBatchSize:   cfg.VectorStore.BatchSize,
		Dedup:            cfg.VectorStore.Dedup,
		DefaultTopK:      cfg.Query.DefaultTopK,
		MaxTopK:          cfg.Query.MaxTopK,
		IndexPolicy:      cfg.Query.IndexPolicy,
		TempDir:          cfg.Server.TempDir,
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
	}
}

// RAGService implements domain.Pipeline over pluggable providers.
type RAGService struct {
	chunker     domain.Chunker
	embedder    domain.Embedder
	store       domain.VectorStore
	synthesizer domain.Synthesizer
	opts        Options

	// initDim is the dimension the store was last initialised with in this
	// process; initGen advances on every invalidation so an Init that raced
	// a Reset is not recorded. Store calls never run under initMu.
	initMu    sync.Mutex
	initDim   int
	initGen   uint64
	initGroup singleflight.Group

	// indexed caches a positive count under the cached index policy.
	indexed atomic.Bool
}

var _ domain.Pipeline = (*RAGService)(nil)

func NewRAGService(chunker domain.Chunker, embedder domain.Embedder, store domain.VectorStore, synthesizer domain.Synthesizer, opts Options) *RAGService {
	def := DefaultOptions()
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = def.EmbedBatchSize
	}
	if opts.EmbedConcurrency <= 0 {
		opts.EmbedConcurrency = def.EmbedConcurrency
	}
	if opts.StoreBatchSize <= 0 {
		opts.StoreBatchSize = def.StoreBatchSize
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = def.DefaultTopK
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = def.MaxTopK
	}
	if opts.MaxTopK < opts.DefaultTopK {
		opts.MaxTopK = opts.DefaultTopK
	}
	if opts.IndexPolicy == "" {
		opts.IndexPolicy = def.IndexPolicy
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = def.MaxUploadBytes
	}
	return &RAGService{chunker: chunker, embedder: embedder, store: store, synthesizer: synthesizer, opts: opts}
}

// Ingest chunks, embeds and stores one document.
func (s *RAGService) Ingest(ctx context.Context, doc domain.Document) (domain.IngestResult, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return domain.IngestResult{}, fmt.Errorf("%w: document %q has no text", domain.ErrValidation, doc.Filename)
	}
	if doc.SourceID == "" {
		doc.SourceID = hashString(doc.Filename + ":" + doc.Content)
	}
	result := domain.IngestResult{SourceID: doc.SourceID}
	start := time.Now()

	units, err := s.chunker.Chunk(doc)
	if err != nil {
		return result, fmt.Errorf("chunking %s: %w", doc.SourceID, err)
	}
	if len(units) == 0 {
		return result, fmt.Errorf("%w: document %q produced no units", domain.ErrValidation, doc.Filename)
	}
	for i := range units {
		units[i].SourceID = doc.SourceID
		units[i].ID = s.unitID(doc.SourceID, units[i].Index)
	}

	if err := s.embedUnits(ctx, units); err != nil {
		return result, err
	}
	dim := len(units[0].Embedding)
	if err := s.ensureInit(ctx, dim); err != nil {
		return result, err
	}

	for from := 0; from < len(units); from += s.opts.StoreBatchSize {
		to := min(from+s.opts.StoreBatchSize, len(units))
		created, err := s.upsert(ctx, units[from:to], dim)
		if err != nil {
			if result.UnitsWritten == 0 {
				return result, writeError(err)
			}
			if s.opts.IndexPolicy == config.IndexPolicyCached {
				s.indexed.Store(true)
			}
			return result, &domain.PartialWriteError{
				Written: result.UnitsWritten,
				Created: result.UnitsCreated,
				Total:   len(units),
				Err:     err,
			}
		}
		result.UnitsWritten += to - from
		result.UnitsCreated += created
	}
	if s.opts.IndexPolicy == config.IndexPolicyCached {
		s.indexed.Store(true)
	}
	logger.Info("Indexed %s: %d units written, %d new (%s)", doc.SourceID, result.UnitsWritten, result.UnitsCreated, time.Since(start).Round(time.Millisecond))
	return result, nil
}

// IngestFile spools the upload to a temp file, extracts its text and ingests
// it. The temp file is removed on every path.
func (s *RAGService) IngestFile(ctx context.Context, in domain.FileInput) (domain.IngestResult, error) {
	name := filepath.Base(in.Filename)
	if in.Body == nil || name == "" || name == "." || name == string(filepath.Separator) {
		return domain.IngestResult{}, fmt.Errorf("%w: a file with a name is required", domain.ErrValidation)
	}
	path, err := s.spool(name, in.Body)
	if path != "" {
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logger.Warn("Failed to remove temp file %s: %v", path, rmErr)
			}
		}()
	}
	if err != nil {
		return domain.IngestResult{}, err
	}
	text, err := extract.File(path, name, s.opts.MaxUploadBytes)
	if err != nil {
		return domain.IngestResult{}, err
	}
	return s.Ingest(ctx, domain.Document{SourceID: in.SourceID, Filename: name, Content: text})
}

// spool copies body into a temp file, enforcing the upload limit. It returns
// the path whenever a file was created, even on error.
func (s *RAGService) spool(name string, body io.Reader) (string, error) {
	f, err := os.CreateTemp(s.opts.TempDir, "upload-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	path := f.Name()
	n, copyErr := io.Copy(f, io.LimitReader(body, s.opts.MaxUploadBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		return path, fmt.Errorf("reading upload: %w", copyErr)
	case closeErr != nil:
		return path, fmt.Errorf("writing temp file: %w", closeErr)
	case n > s.opts.MaxUploadBytes:
		return path, fmt.Errorf("%w: limit is %d bytes", domain.ErrPayloadTooLarge, s.opts.MaxUploadBytes)
	}
	return path, nil
}

// Query retrieves the topK most similar units and synthesizes an answer.
// topK 0 means the configured default; larger values are clamped.
func (s *RAGService) Query(ctx context.Context, q domain.Query, topK int) (domain.Answer, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return domain.Answer{}, fmt.Errorf("%w: query text is empty", domain.ErrValidation)
	}
	if topK < 0 {
		return domain.Answer{}, fmt.Errorf("%w: top_k must not be negative", domain.ErrValidation)
	}
	if topK == 0 {
		topK = s.opts.DefaultTopK
	}
	if topK > s.opts.MaxTopK {
		topK = s.opts.MaxTopK
	}

	if err := s.checkIndex(ctx); err != nil {
		return domain.Answer{}, err
	}

	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return domain.Answer{}, embeddingError(err)
	}
	if len(vecs) != 1 {
		return domain.Answer{}, fmt.Errorf("%w: got %d vectors for one query", domain.ErrEmbeddingUnavailable, len(vecs))
	}

	matches, err := s.store.Search(ctx, vecs[0], topK)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("%w: %w", domain.ErrVectorStoreQuery, err)
	}
	if len(matches) == 0 {
		// A store holding any unit always yields a match, so the index
		// was emptied after checkIndex passed.
		s.indexed.Store(false)
		return domain.Answer{}, domain.ErrNoIndex
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}

	response, err := s.synthesizer.Synthesize(ctx, text, matches)
	if err != nil {
		if !errors.Is(err, domain.ErrSynthesisUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrSynthesisUnavailable, err)
		}
		return domain.Answer{}, err
	}
	logger.Debug("Query %q: %d matches", text, len(matches))
	return domain.Answer{Response: response, Matches: matches}, nil
}

// Reset drops every stored unit. The next ingestion re-initialises the store.
func (s *RAGService) Reset(ctx context.Context) error {
	s.invalidateInit()
	s.indexed.Store(false)
	err := s.store.Reset(ctx)
	// An ingestion racing the reset may have re-initialised or flagged the
	// store in between.
	s.invalidateInit()
	s.indexed.Store(false)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrVectorStoreWrite, err)
	}
	logger.Info("Index reset")
	return nil
}

// checkIndex fails with ErrNoIndex when the store holds no units.
func (s *RAGService) checkIndex(ctx context.Context) error {
	cached := s.opts.IndexPolicy == config.IndexPolicyCached
	if cached && s.indexed.Load() {
		return nil
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrVectorStoreQuery, err)
	}
	if n == 0 {
		return domain.ErrNoIndex
	}
	if cached {
		s.indexed.Store(true)
	}
	return nil
}

// embedUnits fills in every unit's embedding, one batch per goroutine with
// at most EmbedConcurrency batches in flight.
func (s *RAGService) embedUnits(ctx context.Context, units []domain.Unit) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.EmbedConcurrency)
	for from := 0; from < len(units); from += s.opts.EmbedBatchSize {
		batch := units[from:min(from+s.opts.EmbedBatchSize, len(units))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, u := range batch {
				texts[i] = u.Text
			}
			vecs, err := s.embedder.Embed(gctx, texts)
			if err != nil {
				return embeddingError(err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingUnavailable, len(vecs), len(batch))
			}
			for i := range batch {
				batch[i].Embedding = vecs[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	dim := len(units[0].Embedding)
	for _, u := range units {
		if len(u.Embedding) != dim || dim == 0 {
			return fmt.Errorf("%w: embedder returned vectors of differing length", domain.ErrEmbeddingUnavailable)
		}
	}
	return nil
}

// ensureInit initialises the store for dim unless this process already has.
// Concurrent callers share one Init call.
func (s *RAGService) ensureInit(ctx context.Context, dim int) error {
	s.initMu.Lock()
	if s.initDim == dim {
		s.initMu.Unlock()
		return nil
	}
	gen := s.initGen
	s.initMu.Unlock()

	_, err, _ := s.initGroup.Do(strconv.Itoa(dim), func() (any, error) {
		return nil, s.store.Init(ctx, dim)
	})
	if err != nil {
		return writeError(err)
	}

	s.initMu.Lock()
	if s.initGen == gen {
		s.initDim = dim
	}
	s.initMu.Unlock()
	return nil
}

func (s *RAGService) invalidateInit() {
	s.initMu.Lock()
	s.initDim = 0
	s.initGen++
	s.initMu.Unlock()
}

// upsert writes one batch. When the collection vanished underneath this
// process, for example after a reset by another process, the store is
// initialised again and the batch retried once.
func (s *RAGService) upsert(ctx context.Context, batch []domain.Unit, dim int) (int, error) {
	created, err := s.store.Upsert(ctx, batch)
	if !errors.Is(err, domain.ErrCollectionMissing) {
		return created, err
	}
	logger.Warn("Vector store collection missing, initialising again: %v", err)
	s.invalidateInit()
	if err := s.ensureInit(ctx, dim); err != nil {
		return 0, err
	}
	return s.store.Upsert(ctx, batch)
}

// writeError tags err as a store write failure unless it already carries a
// more specific classification.
func writeError(err error) error {
	if errors.Is(err, domain.ErrDimensionMismatch) || errors.Is(err, domain.ErrVectorStoreWrite) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrVectorStoreWrite, err)
}

func (s *RAGService) unitID(sourceID string, index int) string {
	if !s.opts.Dedup {
		return uuid.NewString()
	}
	return uuid.NewSHA1(unitNamespace, []byte(fmt.Sprintf("%s:%d", sourceID, index))).String()
}

func embeddingError(err error) error {
	if errors.Is(err, domain.ErrEmbeddingUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
