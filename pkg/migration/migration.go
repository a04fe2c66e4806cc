// Package migration re-embeds every indexed chunk into a new vector
// collection when the appliance's embedding model changes, a checkpointed,
// resumable process ported from the original's migrate_embeddings script:
// create the new collection, page through every chunk re-embedding and
// upserting it, then swap it in by deleting the old collection and creating
// an alias under the old name that points at the new one; between those two
// steps no collection answers under that name.
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/aegis/pkg/embedclient"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/store"
	"github.com/cuemby/aegis/pkg/vectorstore"
)

// Options controls which phases a single Run executes, mirroring the
// original script's mutually-exclusive CLI flags.
type Options struct {
	DryRun         bool
	Resume         bool
	SkipSwap       bool
	SwapOnly       bool
	SpacesOnly     bool
	CheckpointPath string
}

// Migrator holds every dependency a migration run needs. OldCollection is
// the live collection readers currently query; NewCollection is created
// fresh, populated, then aliased over OldCollection's name once verified.
type Migrator struct {
	st            *store.Store
	vectors       *vectorstore.Client
	embed         *embedclient.Client
	oldCollection string
	newCollection string
	vectorSize    int
	batchSize     int
	maxErrors     int
}

func New(st *store.Store, vectors *vectorstore.Client, embed *embedclient.Client, collection string, vectorSize, batchSize int) *Migrator {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Migrator{
		st:            st,
		vectors:       vectors,
		embed:         embed,
		oldCollection: collection,
		newCollection: collection + "_v2",
		vectorSize:    vectorSize,
		batchSize:     batchSize,
		maxErrors:     10,
	}
}

// Run executes the phases selected by opts, in the same order the original
// script's main() does: swap-only and spaces-only are both short-circuits
// that skip the chunk re-embedding entirely.
func (m *Migrator) Run(ctx context.Context, opts Options) error {
	logger := log.WithComponent("migration")
	if opts.CheckpointPath == "" {
		opts.CheckpointPath = defaultCheckpointPath()
	}

	if opts.SwapOnly {
		ok, err := m.SwapCollections(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("collection swap did not complete")
		}
		return nil
	}

	if opts.SpacesOnly {
		logger.Info().Msg("no knowledge_spaces/company_context tables in this schema, nothing to re-embed")
		return nil
	}

	cp := Checkpoint{Phase: PhaseChunks}
	if opts.Resume {
		loaded, err := loadCheckpoint(opts.CheckpointPath)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		cp = loaded
		logger.Info().Int("last_offset", cp.LastOffset).Str("phase", string(cp.Phase)).Msg("resuming migration")
	}

	if cp.Phase == PhaseChunks || cp.Phase == "" {
		if !opts.DryRun {
			if err := m.createNewCollection(ctx); err != nil {
				return fmt.Errorf("create new collection: %w", err)
			}
		}

		var err error
		cp, err = m.migrateChunks(ctx, cp, opts.DryRun, opts.CheckpointPath)
		if err != nil {
			return err
		}
	}

	if cp.Phase == PhaseSwap && !opts.SkipSwap && !opts.DryRun {
		ok, err := m.SwapCollections(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("collection swap failed; new collection remains available as %s", m.newCollection)
		}
		cp.Phase = PhaseExtras
		if err := saveCheckpoint(opts.CheckpointPath, cp); err != nil {
			logger.Warn().Err(err).Msg("failed to persist checkpoint after swap")
		}
	}

	if !opts.DryRun {
		if err := removeCheckpoint(opts.CheckpointPath); err != nil {
			logger.Warn().Err(err).Msg("failed to remove checkpoint file")
		}
	}

	logger.Info().Bool("dry_run", opts.DryRun).Msg("migration complete")
	return nil
}

func (m *Migrator) createNewCollection(ctx context.Context) error {
	if _, err := m.vectors.CollectionInfo(ctx, m.newCollection); err == nil {
		return nil
	}
	if err := m.vectors.CreateCollection(ctx, m.newCollection, m.vectorSize); err != nil {
		return err
	}
	for _, field := range []string{"space_id", "document_id", "category"} {
		if err := m.vectors.CreatePayloadIndex(ctx, m.newCollection, field); err != nil {
			return fmt.Errorf("create payload index %s: %w", field, err)
		}
	}
	return nil
}

// migrateChunks pages through every chunk, re-embedding and upserting each
// batch, saving a checkpoint after every page so a crash mid-run resumes
// at the next unmigrated offset rather than from the beginning.
func (m *Migrator) migrateChunks(ctx context.Context, cp Checkpoint, dryRun bool, checkpointPath string) (Checkpoint, error) {
	logger := log.WithComponent("migration")

	total, err := m.st.CountChunks(ctx)
	if err != nil {
		return cp, fmt.Errorf("count chunks: %w", err)
	}

	startOffset := cp.LastOffset
	offset := cp.LastOffset
	errors := 0
	start := time.Now()

	for int64(offset) < total {
		batch, err := m.st.FetchChunkBatch(ctx, offset, m.batchSize)
		if err != nil {
			return cp, fmt.Errorf("fetch chunk batch at offset %d: %w", offset, err)
		}
		if len(batch) == 0 {
			break
		}

		if dryRun {
			offset += len(batch)
			continue
		}

		if err := m.migrateBatch(ctx, batch); err != nil {
			errors++
			logger.Error().Err(err).Int("offset", offset).Msg("batch migration failed")
			if errors > m.maxErrors {
				cp.LastOffset = offset
				_ = saveCheckpoint(checkpointPath, cp)
				return cp, fmt.Errorf("too many batch failures, stopping at offset %d: %w", offset, err)
			}
		}

		offset += len(batch)
		cp.LastOffset = offset
		if err := saveCheckpoint(checkpointPath, cp); err != nil {
			logger.Warn().Err(err).Msg("failed to persist checkpoint")
		}

		elapsed := time.Since(start)
		rate := float64(offset-startOffset) / elapsed.Seconds()
		logger.Info().Int("offset", offset).Int64("total", total).Float64("chunks_per_sec", rate).Msg("migration progress")
	}

	cp.Phase = PhaseSwap
	if err := saveCheckpoint(checkpointPath, cp); err != nil {
		logger.Warn().Err(err).Msg("failed to persist checkpoint before swap phase")
	}
	return cp, nil
}

func (m *Migrator) migrateBatch(ctx context.Context, batch []store.MigrationChunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.ChunkText
	}

	vectors, err := m.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedding server returned %d vectors for %d chunks", len(vectors), len(batch))
	}

	points := make([]vectorstore.Point, len(batch))
	for i, c := range batch {
		text := c.ChunkText
		if len(text) > 500 {
			text = text[:500]
		}
		payload := map[string]any{
			"document_id":   c.DocumentID,
			"document_name": c.DocumentName,
			"chunk_index":   c.ChunkIndex,
			"text":          text,
			"category":      c.CategoryName,
		}
		if c.SpaceID != "" {
			payload["space_id"] = c.SpaceID
		}
		if c.ParentChunkID != nil {
			payload["parent_chunk_id"] = *c.ParentChunkID
		}
		if c.ChildIndex != nil {
			payload["child_index"] = *c.ChildIndex
		}
		points[i] = vectorstore.Point{ID: c.ID, Vector: vectors[i], Payload: payload}
	}

	return m.vectors.Upsert(ctx, m.newCollection, points)
}

// SwapCollections verifies the new collection has data, then deletes the
// old physical collection and creates an alias from its name to the new
// collection, the same delete-then-alias sequence the original uses since
// Qdrant has no native rename.
func (m *Migrator) SwapCollections(ctx context.Context) (bool, error) {
	logger := log.WithComponent("migration")

	newInfo, err := m.vectors.CollectionInfo(ctx, m.newCollection)
	if err != nil {
		return false, fmt.Errorf("new collection %s not found: %w", m.newCollection, err)
	}
	if newInfo.Result.PointsCount == 0 {
		return false, fmt.Errorf("new collection %s is empty, aborting swap", m.newCollection)
	}

	if oldInfo, err := m.vectors.CollectionInfo(ctx, m.oldCollection); err == nil {
		if newInfo.Result.PointsCount < oldInfo.Result.PointsCount*8/10 {
			logger.Warn().Int64("new_points", newInfo.Result.PointsCount).Int64("old_points", oldInfo.Result.PointsCount).
				Msg("new collection has significantly fewer points than old, continuing anyway")
		}
	}

	if err := m.vectors.DeleteCollection(ctx, m.oldCollection); err != nil {
		return false, fmt.Errorf("delete old collection %s: %w", m.oldCollection, err)
	}

	if err := m.vectors.CreateAlias(ctx, m.oldCollection, m.newCollection); err != nil {
		return false, fmt.Errorf("create alias %s -> %s: %w", m.oldCollection, m.newCollection, err)
	}

	logger.Info().Str("alias", m.oldCollection).Str("collection", m.newCollection).Msg("collection swap complete")
	return true, nil
}
