package supervisor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/aegis/pkg/metrics"
)

// Server exposes the heartbeat as HTTP liveness and metrics endpoints,
// mirroring the standalone heartbeat server's three routes on its own
// dedicated port.
type Server struct {
	heartbeatPath string
	mux           *http.ServeMux
}

func NewServer(heartbeatPath string) *Server {
	mux := http.NewServeMux()
	s := &Server{heartbeatPath: heartbeatPath, mux: mux}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.Handle("/metrics", s.metricsHandler())

	return s
}

func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := CheckHealth(s.heartbeatPath)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// metricsHandler refreshes the self-healing gauges from the current
// heartbeat state before delegating to the shared Prometheus handler, so a
// scrape always reflects this instant rather than the last control-loop
// cycle's values.
func (s *Server) metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := CheckHealth(s.heartbeatPath)

		if status.Healthy {
			metrics.SelfHealingHealthy.Set(1)
		} else {
			metrics.SelfHealingHealthy.Set(0)
		}
		if status.SecondsSinceHeartbeat != nil {
			metrics.SelfHealingSecondsSinceHeartbeat.Set(*status.SecondsSinceHeartbeat)
		}
		if status.CheckCount != nil {
			metrics.SelfHealingCheckCount.Set(float64(*status.CheckCount))
		}

		metrics.Handler().ServeHTTP(w, r)
	})
}
