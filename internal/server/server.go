// Package server exposes the HTTP surface: the /nlp query endpoint plus
// health, status, history, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tivvis/nlagent/internal/auth"
	"github.com/tivvis/nlagent/internal/catalog"
	"github.com/tivvis/nlagent/internal/dispatch"
	"github.com/tivvis/nlagent/internal/executor"
	"github.com/tivvis/nlagent/internal/history"
	"github.com/tivvis/nlagent/internal/metrics"
	"github.com/tivvis/nlagent/internal/resolver"
)

// QueryRequest is the body of POST /nlp.
type QueryRequest struct {
	Query          string                 `json:"query"`
	Context        map[string]interface{} `json:"context,omitempty"`
	IncludeRawData bool                   `json:"include_raw_data,omitempty"`
	MaxResults     int                    `json:"max_results,omitempty"`
	TimeoutSecs    int                    `json:"timeout,omitempty"`
}

// Server holds the wired collaborators behind the HTTP handlers.
type Server struct {
	catalog  *catalog.Registry
	resolver resolver.Interface
	disp     *dispatch.Dispatcher
	tokens   auth.Provider
	exec     *executor.Executor
	hist     *history.Store
	metrics  *metrics.Metrics
	logger   *log.Logger
}

// New builds a server over its collaborators. hist may be nil when query
// logging is disabled.
func New(reg *catalog.Registry, res resolver.Interface, disp *dispatch.Dispatcher, tokens auth.Provider, exec *executor.Executor, hist *history.Store, m *metrics.Metrics) *Server {
	return &Server{
		catalog:  reg,
		resolver: res,
		disp:     disp,
		tokens:   tokens,
		exec:     exec,
		hist:     hist,
		metrics:  m,
		logger:   log.New(log.Writer(), "[SERVER] ", log.LstdFlags),
	}
}

// Router builds the mux router with all routes and middleware attached.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/status", s.handleStatus).Methods("GET")
	// OPTIONS matches so the CORS middleware can answer preflights.
	router.HandleFunc("/nlp", s.handleQuery).Methods("POST", "OPTIONS")
	router.HandleFunc("/queries", s.handleQueries).Methods("GET")
	router.HandleFunc("/operations", s.handleOperations).Methods("GET")
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	router.Use(corsMiddleware)
	router.Use(loggingMiddleware)

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "nlagent",
	})
}

// handleStatus reports auth and CLI availability. Token values never leave
// this process, only source and expiry metadata.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"service":    "nlagent",
		"operations": s.catalog.Count(),
	}

	tok, err := s.tokens.ActiveToken()
	switch {
	case err == nil:
		authInfo := map[string]interface{}{
			"authenticated": true,
			"source":        string(tok.Source),
		}
		if tok.Owner != "" {
			authInfo["owner"] = tok.Owner
		}
		if !tok.ExpiresAt.IsZero() {
			authInfo["expires_at"] = tok.ExpiresAt.UTC().Format(time.RFC3339)
		}
		status["auth"] = authInfo
	case errors.Is(err, auth.ErrExpired):
		status["auth"] = map[string]interface{}{"authenticated": false, "reason": "expired"}
	default:
		status["auth"] = map[string]interface{}{"authenticated": false, "reason": "missing"}
	}

	clis := map[string]bool{}
	for _, svc := range []catalog.Service{catalog.ServicePrimary, catalog.ServiceSecondary} {
		clis[string(svc)] = s.exec != nil && s.exec.Available(svc)
	}
	status["cli_tools"] = clis

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSecs)*time.Second)
		defer cancel()
	}

	res := s.resolver.Resolve(req.Query, req.Context)
	resp := s.disp.Dispatch(ctx, res, dispatch.Options{
		IncludeRaw: req.IncludeRawData,
		MaxResults: req.MaxResults,
	})

	if s.metrics != nil {
		errKind := ""
		if !resp.Success {
			if m, ok := resp.Data.(map[string]interface{}); ok {
				errKind, _ = m["error_kind"].(string)
			}
		}
		s.metrics.ObserveQuery(resp.OperationType, resp.Success, errKind, resp.ExecutionTime)
	}

	if s.hist != nil {
		_, err := s.hist.Add(r.Context(), history.Record{
			Query:         req.Query,
			Operation:     resp.OperationType,
			Success:       resp.Success,
			Confidence:    resp.ConfidenceScore,
			ExecutionTime: resp.ExecutionTime,
		})
		if err != nil {
			s.logger.Printf("⚠️ failed to record query history: %v", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		http.Error(w, `{"error":"query history is disabled"}`, http.StatusNotFound)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := s.hist.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Printf("⚠️ listing query history: %v", err)
		http.Error(w, `{"error":"failed to list query history"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queries": records,
		"count":   len(records),
	})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	ops := s.catalog.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Middleware

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		log.Printf(`{"method":"%s","path":"%s","duration_ms":%d}`,
			r.Method,
			r.URL.Path,
			time.Since(start).Milliseconds(),
		)
	})
}
