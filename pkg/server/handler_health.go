package server

import (
	"net/http"
	"runtime"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, map[string]any{
		"status":     "healthy",
		"go_version": runtime.Version(),
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"tsgs":       len(s.manager.Snapshot()),
	})
}
