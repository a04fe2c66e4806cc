// Package ingest drives a single uploaded file through the appliance's full
// document pipeline: validation, hashing and dedup, text extraction,
// AI-or-heuristic analysis, chunking and dual-index writing, and finally
// similarity computation against the rest of the corpus. It is a direct
// port of the original indexer's process_new_document control flow, with
// the same two escape hatches preserved: a document already found indexed
// by content or path hash is a no-op, one found pending resumes instead of
// creating a duplicate row, and any stage that fails marks the document
// failed with its error message rather than losing the upload.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/aegis/pkg/analysis"
	"github.com/cuemby/aegis/pkg/chunker"
	"github.com/cuemby/aegis/pkg/dedupcache"
	"github.com/cuemby/aegis/pkg/docparse"
	"github.com/cuemby/aegis/pkg/embedclient"
	"github.com/cuemby/aegis/pkg/indexwriter"
	"github.com/cuemby/aegis/pkg/llmclient"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/metrics"
	"github.com/cuemby/aegis/pkg/objectstore"
	"github.com/cuemby/aegis/pkg/store"
	"github.com/cuemby/aegis/pkg/vectorstore"
)

// analysisExcerptLimit bounds how much text is sent to the LLM/heuristic
// analysis stage; the full document is always what gets chunked and
// indexed, but a multi-megabyte excerpt would only waste model context.
const analysisExcerptLimit = 8000

// defaultCategory is used whenever analysis does not produce (or is not
// asked to produce) a more specific classification.
const defaultCategory = "Allgemein"

// Config holds the tunables process_new_document reads from environment
// variables in the original.
type Config struct {
	MaxFileSize         int64
	ParentChunkSize     int
	ChildChunkSize      int
	ChildChunkOverlap   int
	EnableAIAnalysis    bool
	EnableSimilarity    bool
	SimilarityThreshold float64
	SimilarityTopK      int
	MaxKeywords         int
	LocalModel          string
}

// Pipeline wires together every dependency a document ingest needs. Only
// st and writer are required: a nil llm/anthropic pair just means AI
// analysis always falls through to the TF heuristics, a nil dedup cache
// means every lookup falls straight through to Postgres, and a nil
// objects client stores the file path as the bare filename instead of an
// object-store key (used in tests and for text already resident on disk).
type Pipeline struct {
	st         *store.Store
	objects    *objectstore.Client
	dedup      *dedupcache.Cache
	writer     *indexwriter.Writer
	vectors    *vectorstore.Client
	embed      *embedclient.Client
	local      *llmclient.LocalClient
	anthropic  *llmclient.AnthropicClient
	collection string
	cfg        Config
}

func New(st *store.Store, objects *objectstore.Client, dedup *dedupcache.Cache, writer *indexwriter.Writer, vectors *vectorstore.Client, embed *embedclient.Client, local *llmclient.LocalClient, anthropic *llmclient.AnthropicClient, collection string, cfg Config) *Pipeline {
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = 10
	}
	if cfg.SimilarityTopK <= 0 {
		cfg.SimilarityTopK = 5
	}
	return &Pipeline{
		st: st, objects: objects, dedup: dedup, writer: writer, vectors: vectors,
		embed: embed, local: local, anthropic: anthropic, collection: collection, cfg: cfg,
	}
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

func fileHash(path string, size int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", path, size)))
	return fmt.Sprintf("%x", sum)
}

var mimeTypes = map[string]string{
	".pdf":      "application/pdf",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
}

func mimeType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if m, ok := mimeTypes[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

// Ingest runs the full pipeline for one uploaded file and returns the
// document id. An oversized or failed document still gets a row (its status
// is queryable) and Ingest returns both that id and a non-nil error; a file
// whose extension is not supported is rejected before any row is written.
func (p *Pipeline) Ingest(ctx context.Context, originalFilename string, data []byte, uploadedBy, spaceID string) (string, error) {
	filename := filepath.Base(originalFilename)
	ext := strings.ToLower(filepath.Ext(filename))

	if !docparse.SupportedExtensions[ext] {
		return "", fmt.Errorf("unsupported file type: %s", ext)
	}

	if int64(len(data)) > p.cfg.MaxFileSize {
		id, err := p.rejectOversized(ctx, filename, ext, len(data))
		if err != nil {
			return "", err
		}
		return id, fmt.Errorf("file %s exceeds max size limit", filename)
	}

	cHash := contentHash(data)
	fHash := fileHash(filename, len(data))

	if id, indexed := p.checkIndexedCache(ctx, cHash); indexed {
		return id, nil
	}

	if existing, err := p.st.GetDocumentByHash(ctx, cHash); err == nil {
		if existing.Status == store.DocumentIndexed {
			p.rememberDedup(ctx, cHash, existing.ID)
			return existing.ID, nil
		}
		if existing.Status == store.DocumentPending {
			return existing.ID, p.run(ctx, existing, data)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("lookup by content hash: %w", err)
	}

	if existing, err := p.st.GetDocumentByFileHash(ctx, fHash); err == nil {
		if existing.Status == store.DocumentIndexed {
			return existing.ID, nil
		}
		if existing.Status == store.DocumentPending {
			return existing.ID, p.run(ctx, existing, data)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("lookup by file hash: %w", err)
	}

	doc := &store.Document{
		ID:               uuid.New().String(),
		Filename:         filename,
		OriginalFilename: filename,
		FileSize:         int64(len(data)),
		MimeType:         mimeType(filename),
		FileExtension:    ext,
		ContentHash:      cHash,
		FileHash:         fHash,
		Status:           store.DocumentPending,
		UploadedBy:       uploadedBy,
		SpaceID:          spaceID,
		UploadedAt:       time.Now(),
	}

	if p.objects != nil {
		path, err := p.objects.Put(ctx, "documents/"+doc.ID+ext, bytes.NewReader(data), mimeType(filename))
		if err != nil {
			return "", fmt.Errorf("store original: %w", err)
		}
		doc.FilePath = path
	} else {
		doc.FilePath = filename
	}

	if err := p.st.CreateDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}

	p.rememberDedup(ctx, cHash, doc.ID)
	return doc.ID, p.run(ctx, doc, data)
}

// checkIndexedCache consults the Redis dedup cache; a hit only short-
// circuits the pipeline when the cached document is confirmed indexed, so
// a stale or pending cache entry always falls through to the database.
func (p *Pipeline) checkIndexedCache(ctx context.Context, contentHash string) (string, bool) {
	if p.dedup == nil {
		return "", false
	}
	id, ok := p.dedup.Lookup(ctx, contentHash)
	if !ok {
		return "", false
	}
	doc, err := p.st.GetDocument(ctx, id)
	if err != nil || doc.Status != store.DocumentIndexed {
		return "", false
	}
	return id, true
}

func (p *Pipeline) rememberDedup(ctx context.Context, contentHash, documentID string) {
	if p.dedup != nil {
		p.dedup.Remember(ctx, contentHash, documentID)
	}
}

func (p *Pipeline) rejectOversized(ctx context.Context, filename, ext string, size int) (string, error) {
	doc := &store.Document{
		ID:               uuid.New().String(),
		Filename:         filename,
		OriginalFilename: filename,
		FilePath:         filename,
		FileSize:         int64(size),
		MimeType:         mimeType(filename),
		FileExtension:    ext,
		Status:           store.DocumentFailed,
		UploadedAt:       time.Now(),
	}
	if err := p.st.CreateDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("create rejection record: %w", err)
	}
	reason := fmt.Sprintf("file size (%d bytes) exceeds configured limit (%d bytes)", size, p.cfg.MaxFileSize)
	if err := p.st.UpdateDocumentStatus(ctx, doc.ID, store.DocumentFailed, reason); err != nil {
		return doc.ID, fmt.Errorf("mark rejection record failed: %w", err)
	}
	return doc.ID, nil
}

// run is the shared body of the pipeline once a document row exists:
// parse, analyze, chunk, write, mark indexed, optionally compute
// similarity. Any failure marks the document failed with the triggering
// error and bumps its retry counter rather than losing the attempt
// silently.
func (p *Pipeline) run(ctx context.Context, doc *store.Document, data []byte) error {
	logger := log.WithDocumentID(doc.ID)
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.IngestDuration)

	text, err := docparse.Parse(doc.Filename, data)
	if err != nil || strings.TrimSpace(text) == "" {
		msg := "failed to parse document"
		if err != nil {
			msg = err.Error()
		}
		return p.fail(ctx, doc.ID, msg)
	}

	language := analysis.DetectLanguage(text)
	meta := map[string]any{
		"word_count": len(strings.Fields(text)),
		"char_count": len(text),
		"language":   language,
	}
	if err := p.st.UpdateDocument(ctx, doc.ID, meta); err != nil {
		logger.Warn().Err(err).Msg("failed to persist extracted metadata")
	}

	excerpt := text
	if len(excerpt) > analysisExcerptLimit {
		excerpt = excerpt[:analysisExcerptLimit]
	}

	summary, keywords, category := p.analyze(ctx, excerpt)

	updates := map[string]any{}
	if summary != "" {
		updates["summary"] = summary
	}
	if len(keywords) > 0 {
		updates["keywords"] = strings.Join(keywords, ", ")
	}
	if len(updates) > 0 {
		if err := p.st.UpdateDocument(ctx, doc.ID, updates); err != nil {
			logger.Warn().Err(err).Msg("failed to persist analysis results")
		}
	}

	if cat, err := p.st.GetOrCreateCategory(ctx, category); err != nil {
		logger.Warn().Err(err).Msg("failed to resolve category")
	} else if err := p.st.UpdateDocumentCategory(ctx, doc.ID, cat.ID, categoryConfidence(category)); err != nil {
		logger.Warn().Err(err).Msg("failed to persist category")
	}

	parents, children := chunker.Chunk(text, p.cfg.ParentChunkSize, p.cfg.ChildChunkSize, p.cfg.ChildChunkOverlap)
	if len(children) == 0 {
		return p.fail(ctx, doc.ID, "chunking produced no indexable content")
	}

	indexMeta := map[string]any{
		"document_name": doc.Filename,
		"document_hash": doc.ContentHash,
		"title":         doc.Filename,
		"category":      category,
		"language":      language,
	}
	if doc.SpaceID != "" {
		indexMeta["space_id"] = doc.SpaceID
	}

	chunkCount, err := p.writer.Write(ctx, doc.ID, parents, children, indexMeta)
	if err != nil {
		return p.fail(ctx, doc.ID, fmt.Sprintf("indexing failed: %v", err))
	}

	now := time.Now()
	if err := p.st.UpdateDocument(ctx, doc.ID, map[string]any{
		"status":                  store.DocumentIndexed,
		"chunk_count":             chunkCount,
		"processing_completed_at": now,
		"indexed_at":              now,
		"processing_error":        nil,
	}); err != nil {
		return fmt.Errorf("mark document indexed: %w", err)
	}

	logger.Info().Int("chunks", chunkCount).Str("category", category).Msg("document indexed")
	metrics.DocumentsIndexedTotal.Inc()

	if p.cfg.EnableSimilarity {
		p.computeSimilarity(ctx, doc.ID, children, logger)
	}

	return nil
}

// analyze runs AI analysis if enabled (local model first, escalating to
// Anthropic if configured and the local result fails to parse), falling
// back to TF-based heuristics whenever AI analysis is disabled or every
// backend fails.
func (p *Pipeline) analyze(ctx context.Context, excerpt string) (summary string, keywords []string, category string) {
	if p.cfg.EnableAIAnalysis && p.local != nil {
		if a, err := p.local.Analyze(ctx, p.cfg.LocalModel, excerpt); err == nil {
			return a.Summary, a.Keywords, nonEmptyOr(a.Category, defaultCategory)
		}
		if p.anthropic != nil {
			if a, err := p.anthropic.Analyze(ctx, excerpt); err == nil {
				return a.Summary, a.Keywords, nonEmptyOr(a.Category, defaultCategory)
			}
		}
	}

	topics := analysis.ExtractKeyTopics(excerpt, p.cfg.MaxKeywords)
	return "", topics, defaultCategory
}

func nonEmptyOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// categoryConfidence reports a lower confidence for the generic bucket,
// since landing there usually means analysis had nothing specific to say
// rather than having positively identified a general document.
func categoryConfidence(category string) float64 {
	if category == defaultCategory {
		return 0.3
	}
	return 0.7
}

// computeSimilarity embeds one representative chunk per document (the
// first child), searches the vector store for near neighbors belonging to
// other documents, and persists any match above the configured threshold.
// Best-effort: a failure here never fails the overall ingest, matching the
// original's separately-caught similarity step.
func (p *Pipeline) computeSimilarity(ctx context.Context, documentID string, children []chunker.ChildChunk, logger zerolog.Logger) {
	if len(children) == 0 || p.vectors == nil || p.embed == nil {
		return
	}

	vectors, err := p.embed.EmbedBatch(ctx, []string{children[0].Text})
	if err != nil || len(vectors) == 0 {
		logger.Warn().Err(err).Msg("similarity embedding failed, skipping")
		return
	}

	hits, err := p.vectors.Search(ctx, p.collection, vectors[0], p.cfg.SimilarityTopK, documentID)
	if err != nil {
		logger.Warn().Err(err).Msg("similarity search failed, skipping")
		return
	}

	seen := map[string]bool{}
	for _, h := range hits {
		if h.Score < p.cfg.SimilarityThreshold {
			continue
		}
		otherID, _ := h.Payload["document_id"].(string)
		if otherID == "" || otherID == documentID || seen[otherID] {
			continue
		}
		seen[otherID] = true
		if err := p.st.SaveSimilarity(ctx, documentID, otherID, h.Score); err != nil {
			logger.Warn().Err(err).Str("other_document_id", otherID).Msg("failed to persist similarity")
		}
	}
}

// fail marks a document failed with the given message and bumps its retry
// counter; once retry_count reaches store.MaxRetryCount the document stops
// being picked up automatically and needs an operator-triggered reindex.
func (p *Pipeline) fail(ctx context.Context, documentID, reason string) error {
	metrics.DocumentsFailedTotal.Inc()
	if err := p.st.UpdateDocumentStatus(ctx, documentID, store.DocumentFailed, reason); err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	if err := p.st.IncrementRetryCount(ctx, documentID); err != nil {
		return fmt.Errorf("increment retry count: %w", err)
	}
	return errors.New(reason)
}
