package ingest

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cuemby/aegis/pkg/docparse"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/objectstore"
)

// ScanPrefix is the object-store key prefix the scanner watches; uploads
// land here regardless of which document they will become.
const ScanPrefix = "documents/"

// Scanner periodically lists the object store and feeds every object with
// a supported extension through the Pipeline, matching the original
// indexer's "watch a directory" loop adapted to an S3-compatible bucket.
// Scans are strictly sequential: a scan never overlaps the next tick, and
// an operator-triggered one-shot scan only starts if none is already
// running.
type Scanner struct {
	pipeline *Pipeline
	objects  *objectstore.Client
	running  atomic.Bool
}

func NewScanner(pipeline *Pipeline, objects *objectstore.Client) *Scanner {
	return &Scanner{pipeline: pipeline, objects: objects}
}

// Run drives the periodic scan at the given interval until ctx is
// cancelled.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("ingest")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.running.CompareAndSwap(false, true) {
				logger.Debug().Msg("scan already running, skipping tick")
				continue
			}
			if err := s.ScanOnce(ctx); err != nil {
				logger.Error().Err(err).Msg("document scan failed")
			}
			s.running.Store(false)
		}
	}
}

// TriggerScan starts a one-shot scan if none is currently running, the
// handle the HTTP façade's POST /scan exposes. It returns false without
// starting anything if a scan is already in flight.
func (s *Scanner) TriggerScan(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer s.running.Store(false)
		logger := log.WithComponent("ingest")
		if err := s.ScanOnce(ctx); err != nil {
			logger.Error().Err(err).Msg("triggered document scan failed")
		}
	}()
	return true
}

// Running reports whether a scan (periodic or triggered) is currently in
// flight.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// ScanOnce lists every object under ScanPrefix and ingests each one whose
// extension is in the parser allowlist, sequentially. Objects already
// indexed are cheap no-ops inside Pipeline.Ingest's content-hash dedup, so
// a rescan of an unchanged bucket costs one list call and N small reads,
// never a re-index.
func (s *Scanner) ScanOnce(ctx context.Context) error {
	logger := log.WithComponent("ingest")

	objects, err := s.objects.List(ctx, ScanPrefix)
	if err != nil {
		return err
	}

	for _, obj := range objects {
		ext := strings.ToLower(filepath.Ext(obj.Key))
		if !docparse.SupportedExtensions[ext] {
			continue
		}

		body, err := s.objects.Get(ctx, obj.Key)
		if err != nil {
			logger.Warn().Err(err).Str("key", obj.Key).Msg("failed to fetch object for scan")
			continue
		}
		data, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			logger.Warn().Err(err).Str("key", obj.Key).Msg("failed to read object for scan")
			continue
		}

		filename := filepath.Base(obj.Key)
		if _, err := s.pipeline.Ingest(ctx, filename, data, "", ""); err != nil {
			logger.Warn().Err(err).Str("key", obj.Key).Msg("scan ingest failed")
		}
	}
	return nil
}
