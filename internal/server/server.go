// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voiceguard/platform/internal/analysis"
	"github.com/voiceguard/platform/internal/backend"
	"github.com/voiceguard/platform/internal/session"
	"github.com/voiceguard/platform/internal/simulation"
	"github.com/voiceguard/platform/internal/trace"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type StateMessage struct {
	Type       string              `json:"type"`
	State      session.State       `json:"state"`
	Level      int                 `json:"level"`
	Elapsed    int                 `json:"elapsed"`
	Risk       riskView            `json:"risk"`
	Simulation simulation.Snapshot `json:"simulation"`
}

type riskView struct {
	Score    int            `json:"score"`
	Level    analysis.Level `json:"level"`
	Keywords []string       `json:"keywords,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

type LogMessage struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Line string    `json:"line"`
}

type RateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server feeds the UI: a websocket event stream plus the REST lifecycle
// endpoints for the live session and the simulation game.
type Server struct {
	ctx     context.Context // outlives any single request
	ctrl    *session.Controller
	runner  *simulation.Runner
	catalog *backend.Client

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a server. ctx bounds the lifetime of sessions started
// over REST, not of any single request.
func New(ctx context.Context, ctrl *session.Controller, runner *simulation.Runner, catalog *backend.Client) *Server {
	s := &Server{
		ctx:        ctx,
		ctrl:       ctrl,
		runner:     runner,
		catalog:    catalog,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	// Start broadcasters
	go s.broadcastState(ctx)
	go s.broadcastLog(ctx)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", s.handleSessionStop)
	mux.HandleFunc("GET /api/session/state", s.handleSessionState)
	mux.HandleFunc("POST /api/simulation/start", s.handleSimulationStart)
	mux.HandleFunc("POST /api/simulation/stop", s.handleSimulationStop)
	mux.HandleFunc("GET /api/simulation/state", s.handleSimulationState)
	mux.HandleFunc("GET /api/scenarios", s.handleScenarios)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// Immediate snapshot so a fresh client never waits a push interval.
	_ = wsjson.Write(baseCtx, conn, s.stateMessage())

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, RateLimitedMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "state":
			_ = wsjson.Write(baseCtx, conn, s.stateMessage())
		}
	}
}

func (s *Server) stateMessage() StateMessage {
	res := s.ctrl.Result()
	return StateMessage{
		Type:    "state",
		State:   s.ctrl.State(),
		Level:   s.ctrl.Level(),
		Elapsed: s.ctrl.Elapsed(),
		Risk: riskView{
			Score:    res.RiskScore,
			Level:    res.RiskLevel,
			Keywords: res.Keywords,
			Reason:   res.Reason,
		},
		Simulation: s.runner.Snapshot(),
	}
}

func (s *Server) broadcastState(ctx context.Context) {
	ticker := time.NewTicker(StatePushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(s.stateMessage())
		}
	}
}

func (s *Server) broadcastLog(ctx context.Context) {
	events := s.ctrl.LogEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-events:
			s.broadcast(LogMessage{Type: "log", At: entry.At, Line: entry.Text})
		}
	}
}

func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	for conn := range s.conns {
		go func(c *websocket.Conn) {
			_ = wsjson.Write(context.Background(), c, msg)
		}(conn)
	}
	s.mu.RUnlock()
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context())
	if err := s.ctrl.Start(s.ctx); err != nil {
		log.Error("session start failed", "error", err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "started",
		"session": s.ctrl.SessionID(),
	})
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop()
	res := s.ctrl.Result()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "stopped",
		"score":    res.RiskScore,
		"retained": s.ctrl.Retained() != nil,
	})
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	res := s.ctrl.Result()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   s.ctrl.State(),
		"session": s.ctrl.SessionID(),
		"level":   s.ctrl.Level(),
		"elapsed": s.ctrl.Elapsed(),
		"risk": riskView{
			Score:    res.RiskScore,
			Level:    res.RiskLevel,
			Keywords: res.Keywords,
			Reason:   res.Reason,
		},
		"log": s.ctrl.LogLines(),
	})
}

func (s *Server) handleSimulationStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID int `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScenarioID <= 0 {
		// Accept ?scenario_id= as a fallback for form-less clients.
		id, convErr := strconv.Atoi(r.URL.Query().Get("scenario_id"))
		if convErr != nil || id <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scenario_id required"})
			return
		}
		req.ScenarioID = id
	}

	if err := s.runner.Start(s.ctx, req.ScenarioID); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "started",
		"scenario": req.ScenarioID,
	})
}

func (s *Server) handleSimulationStop(w http.ResponseWriter, r *http.Request) {
	s.runner.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSimulationState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	list, err := s.catalog.Scenarios(r.Context())
	if err != nil {
		trace.Logger(r.Context()).Error("scenario catalog fetch failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "scenario catalog unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": list, "total": len(list)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
