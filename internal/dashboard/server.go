// Package dashboard provides a real-time WebSocket server for watching sync.
//
// The dashboard broadcasts sync pass progress, per-record sync states and
// store statistics to connected WebSocket clients.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType names what a Message carries.
type MessageType string

const (
	// MessageTypePassStarted indicates a sync pass began
	MessageTypePassStarted MessageType = "pass_started"

	// MessageTypePassFinished indicates a sync pass ended; Data is its report
	MessageTypePassFinished MessageType = "pass_finished"

	// MessageTypeRecordState indicates a record changed sync state within a pass
	MessageTypeRecordState MessageType = "record_state"

	// MessageTypeLocalChange indicates a local mutation was written
	MessageTypeLocalChange MessageType = "local_change"

	// MessageTypeStats indicates updated store statistics
	MessageTypeStats MessageType = "stats"
)

// Message is one JSON frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server streams dashboard messages to WebSocket clients. Every client has
// its own send queue, so a stalled browser tab only loses its own messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	mu      sync.RWMutex
	clients map[*client]struct{}
	welcome func() Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// client is one connected browser.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// clientQueue is how many encoded messages may wait for a slow client.
const clientQueue = 64

// writeTimeout bounds a single frame write.
const writeTimeout = 5 * time.Second

// Config configures a Server.
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on; 0 picks a free port (default: 8080)
	Port int

	// Logger for connects and failures (default: stderr)
	Logger *log.Logger
}

// DefaultConfig returns the loopback defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   8080,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a dashboard server. Nothing listens until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		clients: make(map[*client]struct{}),
		welcome: func() Message { return Message{Type: MessageTypeStats} },
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}
}

// SetWelcome sets the function that builds the message sent to each new
// client on connect.
func (s *Server) SetWelcome(fn func() Message) {
	s.mu.Lock()
	s.welcome = fn
	s.mu.Unlock()
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard on http://%s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Serve: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	gone := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
		gone = append(gone, c)
	}
	s.mu.Unlock()
	for _, c := range gone {
		_ = c.conn.Close(websocket.StatusGoingAway, "dashboard stopping")
	}

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("dashboard shutdown: %w", serr)
		}
	}
	s.wg.Wait()
	return err
}

// Broadcast queues msg for every connected client and never blocks. A
// client whose queue is full is disconnected.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	data, err := encode(msg)
	if err != nil {
		s.logger.Printf("Dropping %s message: %v", msg.Type, err)
		return
	}

	var slow []*client
	s.mu.RLock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		s.logger.Printf("Client not keeping up, disconnecting")
		s.drop(c, websocket.StatusPolicyViolation, "too slow")
	}
}

// encode stamps msg with the current time if unset and marshals it.
func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("Upgrade: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue)}

	// Queue the welcome and register under one lock so no broadcast can
	// reach the client ahead of it.
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "dashboard stopping")
		return
	}
	if data, err := encode(s.welcome()); err == nil {
		c.send <- data
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.wg.Add(1)
	s.mu.Unlock()
	s.logger.Printf("Client connected (%d open)", n)

	go s.writeLoop(c)

	// Clients never send anything meaningful; reading only notices closes.
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			s.drop(c, websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	for data := range c.send {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.drop(c, websocket.StatusInternalError, "")
			return
		}
	}
}

// drop unregisters c and closes its connection. Safe to call more than once.
func (s *Server) drop(c *client, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		delete(s.clients, c)
		close(c.send)
	}
	n := len(s.clients)
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = c.conn.Close(code, reason)
	s.logger.Printf("Client disconnected (%d open)", n)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}{"ok", s.ClientCount()})
}

// handleRoot serves a bare page that prints the event stream, newest first.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, rootPage)
}

const rootPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>tasksync</title></head>
<body>
<h1>tasksync sync activity</h1>
<p><a href="/health">health</a></p>
<pre id="events"></pre>
<script>
const events = document.getElementById("events");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (e) => { events.textContent = e.data + "\n" + events.textContent; };
ws.onclose = () => { events.textContent = "(disconnected)\n" + events.textContent; };
</script>
</body>
</html>
`

// GetAddr returns the bound address once started, else the configured one.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
