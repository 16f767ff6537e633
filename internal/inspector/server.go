package inspector

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusbrowse/netwatch/internal/config"
	"github.com/nimbusbrowse/netwatch/internal/controller"
	"github.com/nimbusbrowse/netwatch/internal/logging"
)

// Server exposes the Session Controller to inspector UIs over
// start/stop/state HTTP endpoints and a single WebSocket push channel
// carrying capture events, diagnostic events, and state broadcasts.
type Server struct {
	cfg  *config.Config
	log  *logging.Logger
	ctrl *controller.Controller
	hub  *Hub

	httpServer *http.Server

	unsubState func()
}

// New wires a Server around ctrl. The hub's onMessage handler decodes
// every client-sent frame as an Envelope and forwards it to
// ctrl.HandleFromWebview.
func New(cfg *config.Config, ctrl *controller.Controller, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}

	s := &Server{cfg: cfg, log: log, ctrl: ctrl}
	s.hub = NewHub(log, s.handleInboundFrame)
	return s
}

func (s *Server) handleInboundFrame(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn("discarding malformed inspector frame", zap.Error(err))
		return
	}
	s.ctrl.HandleFromWebview(controller.Envelope{Channel: env.Channel, Payload: env.Payload})
}

// Start runs the hub loop, subscribes to the controller's state
// broadcasts, and serves the HTTP+WS surface on cfg.InspectorListenAddr
// until Stop is called. Blocks until the server exits.
func (s *Server) Start() error {
	go s.hub.Run()

	stateCh, unsub := s.ctrl.Subscribe()
	s.unsubState = unsub
	go func() {
		for state := range stateCh {
			s.hub.Broadcast("state", state)
		}
	}()

	s.httpServer = &http.Server{
		Addr:         s.cfg.InspectorListenAddr,
		Handler:      corsAllowAll(s.routes()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// routes builds the inspector's HTTP+WS route table.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/state", s.handleGetState)
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Stop gracefully shuts the HTTP server down and releases the state
// subscription.
func (s *Server) Stop() error {
	if s.unsubState != nil {
		s.unsubState()
	}
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, state := s.ctrl.Start(s.hub.Broadcast)
	writeJSON(w, map[string]any{"result": result, "state": state})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, state := s.ctrl.Stop()
	writeJSON(w, map[string]any{"result": result, "state": state})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.ctrl.GetState())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// corsAllowAll mirrors the teacher's middlewares.CORS: an inspector UI
// usually runs on a different origin (a dev server, an embedded webview)
// than this API, so every response carries a permissive CORS header.
func corsAllowAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
