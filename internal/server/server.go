// Package server exposes the scanner over HTTP: a JSON API for scans and
// a WebSocket stream of live monitor samples.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/obdscan/internal/config"
	"github.com/shaunagostinho/obdscan/internal/logger"
	"github.com/shaunagostinho/obdscan/internal/scanner"
)

// Server coordinates the scanner and broadcasts samples to WebSocket
// clients. Live monitoring runs only while at least one client is
// connected, so the bus is free for scan requests otherwise.
type Server struct {
	cfg    *config.Config
	sc     *scanner.Scanner
	logger *logger.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	State  string          `json:"state,omitempty"`
	Sample *scanner.Sample `json:"sample,omitempty"`
	Stamp  int64           `json:"stamp"` // Unix ms
}

// New creates a new Server.
func New(cfg *config.Config, sc *scanner.Scanner) *Server {
	return &Server{
		cfg: cfg,
		sc:  sc,
		logger: logger.New(logger.Config{
			Enabled: cfg.Logging.Enabled,
			Path:    cfg.Logging.Path,
		}),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the HTTP server.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/scan", s.handleScan)
	mux.HandleFunc("/api/dtcs", s.handleDTCs)
	mux.HandleFunc("/api/clear", s.handleClear)
	mux.HandleFunc("/api/discover", s.handleDiscover)
	mux.HandleFunc("/api/config", s.handleConfig)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		s.stopMonitor()
		s.logger.Close()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	return srv.ListenAndServe()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)
	if n == 1 {
		s.startMonitor()
	}

	// Initial state frame
	hello := Frame{State: s.sc.State().String(), Stamp: time.Now().UnixMilli()}
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects disconnect)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", n)
			if n == 0 {
				s.stopMonitor()
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// startMonitor launches the polling loop feeding connected clients.
func (s *Server) startMonitor() {
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	if s.monitorCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.monitorCancel = cancel

	interval := time.Duration(s.cfg.Monitor.IntervalMs) * time.Millisecond
	pids := s.cfg.MonitorPIDs()

	go func() {
		err := s.sc.Monitor(ctx, pids, interval, func(sample scanner.Sample) {
			s.logger.Record(sample)
			s.broadcast(Frame{
				State:  scanner.Busy.String(),
				Sample: &sample,
				Stamp:  time.Now().UnixMilli(),
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[server] monitor stopped: %v", err)
			s.broadcast(Frame{State: s.sc.State().String(), Stamp: time.Now().UnixMilli()})
		}
		s.monitorMu.Lock()
		s.monitorCancel = nil
		s.monitorMu.Unlock()
	}()
}

func (s *Server) stopMonitor() {
	s.monitorMu.Lock()
	cancel := s.monitorCancel
	s.monitorMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"state": s.sc.State().String()})
}

// handleScan pauses the monitor, runs a full scan, and resumes. A scan can
// take tens of seconds on a slow bus.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.withBus(w, func() (any, error) { return s.sc.Scan() })
}

func (s *Server) handleDTCs(w http.ResponseWriter, r *http.Request) {
	s.withBus(w, func() (any, error) { return s.sc.ReadDTCs() })
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.withBus(w, func() (any, error) {
		if err := s.sc.ClearCodes(); err != nil {
			return nil, err
		}
		return map[string]string{"status": "cleared"}, nil
	})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.withBus(w, func() (any, error) { return s.sc.DiscoverModules() })
}

// withBus stops the monitor for the duration of one exclusive operation,
// then restarts it if clients are still connected.
func (s *Server) withBus(w http.ResponseWriter, op func() (any, error)) {
	s.stopMonitor()
	defer func() {
		s.clientsMu.RLock()
		n := len(s.clients)
		s.clientsMu.RUnlock()
		if n > 0 && s.sc.State() == scanner.Ready {
			s.startMonitor()
		}
	}()

	// The monitor releases the bus within one iteration; give it a moment.
	var result any
	var err error
	for i := 0; i < 50; i++ {
		result, err = op()
		if !errors.Is(err, scanner.ErrBusy) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		status := 500
		switch {
		case errors.Is(err, scanner.ErrNotReady):
			status = 409
		case errors.Is(err, scanner.ErrBusy):
			status = 409
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
