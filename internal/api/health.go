package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// lbHeartbeat answers load-balancer liveness probes; no dependency checks.
func (s *Server) lbHeartbeat(w http.ResponseWriter, _ *http.Request) {
	s.metrics.IncrHealth("lbheartbeat")
	w.WriteHeader(http.StatusOK)
}

// heartbeat verifies the storage and publish adapters and reports per-check
// detail.
func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	s.metrics.IncrHealth("heartbeat")

	checks := map[string]string{
		"crashstorage": "ok",
		"crashpublish": "ok",
	}
	healthy := true

	if err := s.storage.Verify(r.Context()); err != nil {
		checks["crashstorage"] = err.Error()
		healthy = false
	}
	if err := s.publisher.Verify(r.Context()); err != nil {
		checks["crashpublish"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{"checks": checks})
}

// version serves the deploy's version.json contents.
func (s *Server) version(w http.ResponseWriter, _ *http.Request) {
	s.metrics.IncrHealth("version")
	writeJSON(w, http.StatusOK, s.verinfo)
}

// broken raises an unhandled error to prove the error-reporting wiring; the
// recover middleware answers 500.
func (s *Server) broken(w http.ResponseWriter, _ *http.Request) {
	s.metrics.IncrHealth("broken")
	panic("intentional exception")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("write json response", zap.Error(err))
	}
}
