package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - live job output streaming
	mux.HandleFunc("/ws", s.app.WSHandler.WatchJobHandler)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/stats", s.app.JobHandler.StatsHandler)
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // Handles /api/jobs/{id} and subpaths

	// API routes - Restricted chain-query proxy
	mux.HandleFunc("/api/rpc/", s.app.RPCHandler.ProxyHandler) // POST /api/rpc/{chainId}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute dispatches the collection endpoint by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "POST":
		s.app.JobHandler.SubmitJobHandler(w, r)
	case "GET":
		s.app.JobHandler.ListJobsHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes /api/jobs/{id} and subpaths to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// GET /api/jobs/stats (trailing-slash variant resolves here)
	if path == "/api/jobs/stats" {
		s.app.JobHandler.StatsHandler(w, r)
		return
	}

	// GET /api/jobs/{id}/log
	if r.Method == "GET" && strings.HasSuffix(path, "/log") {
		s.app.JobHandler.GetJobLogHandler(w, r)
		return
	}

	switch r.Method {
	case "GET":
		s.app.JobHandler.GetJobHandler(w, r)
	case "DELETE":
		s.app.JobHandler.DeleteJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
