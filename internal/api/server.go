// Package api exposes the decision pipeline over REST/JSON plus a
// websocket stream of published decisions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradegate/backend/internal/breaker"
	"github.com/tradegate/backend/internal/cycle"
	"github.com/tradegate/backend/internal/learner"
	"github.com/tradegate/backend/internal/registry"
	"github.com/tradegate/backend/internal/reviewlog"
)

// Server wires the engine and its supporting stores into HTTP handlers.
type Server struct {
	engine   *cycle.Engine
	breaker  *breaker.Breaker
	registry *registry.Registry
	learner  *learner.Learner
	review   reviewlog.Recorder
	gatherer prometheus.Gatherer
	stream   *DecisionStream
	logger   *log.Logger
}

// NewServer builds the API surface. The decision stream subscribes itself
// to the engine so every published event reaches connected clients.
func NewServer(engine *cycle.Engine, brk *breaker.Breaker, reg *registry.Registry,
	l *learner.Learner, review reviewlog.Recorder, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		engine:   engine,
		breaker:  brk,
		registry: reg,
		learner:  l,
		review:   review,
		gatherer: gatherer,
		stream:   NewDecisionStream(),
		logger:   log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
	engine.Subscribe(s.stream.Broadcast)
	return s
}

// Router assembles all routes. Exposed separately so tests can drive the
// handlers through httptest without binding a port.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if req.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/api/cycle", s.handleRunCycle).Methods("POST")
	r.HandleFunc("/api/outcome", s.handleRecordOutcome).Methods("POST")
	r.HandleFunc("/api/ledger/{id}", s.handleLedger).Methods("GET")
	r.HandleFunc("/api/review", s.handleReview).Methods("GET")
	r.HandleFunc("/api/params", s.handleParams).Methods("GET")
	r.HandleFunc("/api/params/{name}/unfreeze", s.handleUnfreeze).Methods("POST")
	r.HandleFunc("/api/sources", s.handleSources).Methods("GET")
	r.HandleFunc("/api/breaker", s.handleBreakerState).Methods("GET")
	r.HandleFunc("/api/breaker/reset", s.handleBreakerReset).Methods("POST")
	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ws/decisions", s.stream.HandleWebSocket)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return r
}

// Start serves the API on the given port, blocking until the listener
// fails.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.logger.Printf("🚀 gate API listening on %s", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return srv.ListenAndServe()
}

// --- Handlers ---

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, `body must be {"symbol": "..."}`)
		return
	}

	event, err := s.engine.Run(r.Context(), req.Symbol)
	if err != nil {
		var halted *breaker.HaltedError
		if errors.As(err, &halted) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var rec learner.OutcomeRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "malformed outcome record: "+err.Error())
		return
	}
	if rec.LedgerID == "" {
		writeError(w, http.StatusBadRequest, "outcome record needs a ledger_id")
		return
	}

	verdict, err := s.engine.RecordOutcome(r.Context(), rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"verdict":       verdict.String(),
		"capital_ratio": s.engine.Tracker().Ratio(),
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	book, ok := s.engine.Ledger(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no ledger "+id)
		return
	}
	writeJSON(w, http.StatusOK, book.Export())
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.review.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []reviewlog.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.learner.Parameters().Snapshot())
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.learner.Parameters().Unfreeze(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Printf("parameter %s unfrozen by operator", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unfrozen", "param": name})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{}
	for _, capability := range s.registry.Capabilities() {
		out[string(capability)] = s.registry.Describe(capability)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBreakerState(w http.ResponseWriter, r *http.Request) {
	state, err := s.breaker.State(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if err := s.breaker.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Printf("✅ breaker reset by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	state, err := s.breaker.State(ctx)
	status := "ok"
	code := http.StatusOK
	if err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	} else if state.Halted {
		status = "halted"
	}

	writeJSON(w, code, map[string]interface{}{
		"status":        status,
		"halted":        state.Halted,
		"capital_ratio": s.engine.Tracker().Ratio(),
		"time":          time.Now().UTC(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
