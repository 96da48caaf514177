// Package dashboard serves a real-time WebSocket feed of sync and
// network state for operators and diagnostic tooling.
//
// The server subscribes to the sync manager and the network monitor and
// pushes a message to every connected client whenever either changes.
// New clients receive the current state immediately on connect.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/outposthq/outpost/internal/netmon"
	"github.com/outposthq/outpost/internal/syncer"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeSyncStatus carries a syncer.Snapshot.
	MessageTypeSyncStatus MessageType = "sync_status"

	// MessageTypeNetworkStatus carries a netmon.State.
	MessageTypeNetworkStatus MessageType = "network_status"
)

// Message is one dashboard broadcast.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Config holds server configuration.
type Config struct {
	// Port to listen on. Port 0 picks a free port, which tests rely on;
	// the config layer supplies the production default.
	Port int

	// Logger for server activity.
	Logger *log.Logger
}

// Server broadcasts sync and network state changes over WebSocket.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// lastMu guards the latest snapshots replayed to new clients.
	lastMu      sync.Mutex
	lastSync    *syncer.Snapshot
	lastNetwork *netmon.State

	broadcast chan Message
	unsubs    []func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a dashboard server. Call Start to begin listening.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", cfg.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Attach subscribes the server to the sync manager and the network
// monitor so every state change reaches connected clients. Either may be
// nil. Must be called before Stop.
func (s *Server) Attach(mgr *syncer.Manager, mon *netmon.Monitor) {
	if mgr != nil {
		unsub := mgr.Subscribe(func(snap syncer.Snapshot) {
			s.lastMu.Lock()
			s.lastSync = &snap
			s.lastMu.Unlock()
			s.publish(MessageTypeSyncStatus, snap)
		})
		s.unsubs = append(s.unsubs, unsub)
	}
	if mon != nil {
		unsub := mon.Subscribe(func(st netmon.State) {
			s.lastMu.Lock()
			s.lastNetwork = &st
			s.lastMu.Unlock()
			s.publish(MessageTypeNetworkStatus, st)
		})
		s.unsubs = append(s.unsubs, unsub)
	}
}

// publish marshals a payload into a Message and queues it for broadcast.
func (s *Server) publish(t MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("Failed to marshal %s payload: %v", t, err)
		return
	}
	msg := Message{Type: t, Timestamp: time.Now(), Data: data}

	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// Start begins listening and serving the WebSocket endpoint.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop detaches subscriptions, closes client connections and shuts the
// HTTP server down.
func (s *Server) Stop() error {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	// Stop is safe even when Start never ran or failed to listen.
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	return nil
}

// broadcastLoop fans queued messages out to every connected client.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection and replays the latest known
// state so the client does not wait for the next change.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Client connected (total: %d)", count)

	s.lastMu.Lock()
	lastSync := s.lastSync
	lastNetwork := s.lastNetwork
	s.lastMu.Unlock()

	if lastSync != nil {
		s.sendTo(conn, MessageTypeSyncStatus, *lastSync)
	}
	if lastNetwork != nil {
		s.sendTo(conn, MessageTypeNetworkStatus, *lastNetwork)
	}

	go s.readLoop(conn)
}

// sendTo writes one message to a single client.
func (s *Server) sendTo(conn *websocket.Conn, t MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	raw, err := json.Marshal(Message{Type: t, Timestamp: time.Now(), Data: data})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, raw)
}

// readLoop drains client frames until disconnect. Client messages are
// not processed; the feed is one-way.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", count)
		return
	}
	s.clientsMu.Unlock()
}

// handleHealth reports liveness and the connected client count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	count := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": count,
	})
}

// Addr returns the bound listen address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
