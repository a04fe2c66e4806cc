// Package httpapi is the chi-routed HTTP façade spec.md §6 names: the
// telemetry read surfaces backed by the live sampler and GPU monitor, and
// the document indexer's management endpoints (status, statistics,
// listing, deletion, reindex, similarity, scan-trigger, search). It is the
// one external contract the rest of the appliance's collaborators
// (dashboard backend, update installer, operator tooling) are written
// against, so every response shape here is load-bearing.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cuemby/aegis/pkg/bm25"
	"github.com/cuemby/aegis/pkg/gpuhealth"
	"github.com/cuemby/aegis/pkg/indexwriter"
	"github.com/cuemby/aegis/pkg/ingest"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/metrics"
	"github.com/cuemby/aegis/pkg/objectstore"
	"github.com/cuemby/aegis/pkg/store"
	"github.com/cuemby/aegis/pkg/telemetry"
)

// Server wires every read/write dependency the façade's handlers need.
// Every field is a pointer to a component owned and started elsewhere;
// the façade itself owns no lifecycle beyond its own HTTP listener.
type Server struct {
	st      *store.Store
	sampler *telemetry.Sampler
	bm25    *bm25.Index
	writer  *indexwriter.Writer
	objects *objectstore.Client
	scanner *ingest.Scanner
	router  chi.Router
}

func New(st *store.Store, sampler *telemetry.Sampler, bm25Index *bm25.Index, writer *indexwriter.Writer, objects *objectstore.Client, scanner *ingest.Scanner) *Server {
	s := &Server{st: st, sampler: sampler, bm25: bm25Index, writer: writer, objects: objects, scanner: scanner}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/metrics", s.handleMetrics)
	r.Get("/api/gpu", s.handleGPU)
	r.Get("/api/metrics/ping", s.handlePing)

	r.Get("/healthz/dependencies", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())

	r.Get("/status", s.handleStatus)
	r.Get("/statistics", s.handleStatistics)
	r.Get("/documents", s.handleListDocuments)
	r.Get("/documents/{id}", s.handleGetDocument)
	r.Delete("/documents/{id}", s.handleDeleteDocument)
	r.Post("/documents/{id}/reindex", s.handleReindexDocument)
	r.Get("/documents/{id}/similar", s.handleSimilarDocuments)
	r.Post("/scan", s.handleTriggerScan)
	r.Post("/search", s.handleSearch)

	return r
}

func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

func requestLogger(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// gpuSnapshot is the exact wire shape spec.md §6 fixes for /api/gpu.
type gpuSnapshot struct {
	Index       int     `json:"index"`
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
	Utilization float64 `json:"utilization"`
	Memory      struct {
		UsedMB  float64 `json:"used_mb"`
		TotalMB float64 `json:"total_mb"`
		Percent float64 `json:"percent"`
	} `json:"memory"`
	Power struct {
		DrawW  float64 `json:"draw_w"`
		LimitW float64 `json:"limit_w"`
	} `json:"power"`
	Clocks struct {
		Graphics float64 `json:"graphics"`
		Memory   float64 `json:"memory"`
	} `json:"clocks"`
	FanSpeed     *float64          `json:"fan_speed"`
	Health       gpuhealth.Health  `json:"health"`
	Error        gpuhealth.ErrorType `json:"error"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

func toGPUSnapshot(stat gpuhealth.Stats, ts time.Time) gpuSnapshot {
	snap := gpuSnapshot{
		Index: stat.Index, Name: stat.Name, Temperature: stat.Temperature, Utilization: stat.Utilization,
		FanSpeed: stat.FanSpeed, Health: stat.Health, Error: stat.Error, ErrorMessage: stat.ErrorMessage, Timestamp: ts,
	}
	snap.Memory.UsedMB = stat.MemoryUsedMB
	snap.Memory.TotalMB = stat.MemoryTotalMB
	snap.Memory.Percent = stat.MemoryPercent
	snap.Power.DrawW = stat.PowerDrawWatts
	snap.Power.LimitW = stat.PowerLimit
	snap.Clocks.Graphics = stat.ClockGraphics
	snap.Clocks.Memory = stat.ClockMemory
	return snap
}

// handleMetrics serves the current live sample, not the Prometheus
// registry the supervisor's own /metrics exposes on a different port.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	sample := s.sampler.Latest()
	writeJSON(w, http.StatusOK, map[string]any{
		"cpu_percent":  sample.CPUPercent,
		"ram_percent":  sample.RAMPercent,
		"gpu_percent":  firstGPUUtilization(sample.GPU),
		"temp_celsius": sample.TempCelsius,
		"disk_percent": sample.DiskPercent,
		"timestamp":    sample.Timestamp,
	})
}

func firstGPUUtilization(stats []gpuhealth.Stats) float64 {
	if len(stats) == 0 {
		return 0
	}
	return stats[0].Utilization
}

func (s *Server) handleGPU(w http.ResponseWriter, r *http.Request) {
	sample := s.sampler.Latest()
	snapshots := make([]gpuSnapshot, 0, len(sample.GPU))
	for _, stat := range sample.GPU {
		snapshots = append(snapshots, toGPUSnapshot(stat, sample.Timestamp))
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"scanning":     s.scanner.Running(),
		"bm25_ready":   s.bm25.IsReady(),
		"bm25_size":    s.bm25.Size(),
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.st.GetStatistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{
		Status:  store.DocumentStatus(q.Get("status")),
		SpaceID: q.Get("space_id"),
		OrderBy: q.Get("order_by"),
		Desc:    q.Get("desc") == "true",
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}
	docs, err := s.st.ListDocuments(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.st.GetDocument(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument soft-deletes the row and fans the deletion out to
// the vector store and object store, matching the ownership model in
// spec.md §3 where a document's references in other stores are weak and
// must be cleaned up explicitly rather than via a foreign key cascade.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()
	logger := log.WithComponent("api")

	doc, err := s.st.GetDocument(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.st.DeleteDocument(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.writer.Delete(ctx, id); err != nil {
		logger.Warn().Err(err).Str("document_id", id).Msg("vector store deletion failed")
	}
	if s.objects != nil && doc.FilePath != "" {
		if err := s.objects.Delete(ctx, doc.FilePath); err != nil {
			logger.Warn().Err(err).Str("document_id", id).Msg("object store deletion failed")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReindexDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.st.GetDocument(r.Context(), id); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.st.ResetForReindex(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

func (s *Server) handleSimilarDocuments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	topK := queryInt(r, "top_k", 10)
	docs, err := s.st.GetSimilarDocuments(r.Context(), id, topK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	started := s.scanner.TriggerScan(r.Context())
	if !started {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already scanning"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan started"})
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResult struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Preview    string  `json:"preview"`
	Score      float64 `json:"score"`
}

// handleSearch scores the BM25 index's last rebuilt snapshot (per spec.md
// §9's explicit decision that incremental appends never make chunks
// searchable before a rebuild) and returns the top unique documents,
// keeping each document's single best-scoring chunk as its preview.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	hits := s.bm25.Search(req.Query, req.TopK*5)

	ctx := r.Context()
	seen := make(map[string]bool, req.TopK)
	results := make([]searchResult, 0, req.TopK)

	for _, hit := range hits {
		if len(results) >= req.TopK {
			break
		}
		chunkRow, err := s.st.GetChunkByID(ctx, hit.ChunkID)
		if err != nil || seen[chunkRow.DocumentID] {
			continue
		}
		seen[chunkRow.DocumentID] = true

		doc, err := s.st.GetDocument(ctx, chunkRow.DocumentID)
		if err != nil {
			continue
		}

		preview := chunkRow.ChunkText
		if len(preview) > 500 {
			preview = preview[:500]
		}
		results = append(results, searchResult{
			DocumentID: doc.ID, Filename: doc.Filename, Preview: preview, Score: hit.Score,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"query": req.Query, "results": results})
}
