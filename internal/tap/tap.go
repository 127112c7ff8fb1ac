// Package tap mirrors received serial chunks to WebSocket clients and
// serves the port status as JSON.
package tap

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	serial "github.com/Station-Manager/serialreader"
)

const (
	sendBuffer = 64
	writeWait  = 5 * time.Second
)

// Source is the session state exposed on /info.
type Source interface {
	PortInfo() (serial.PortInfo, bool)
	Metrics() serial.MetricsSnapshot
}

// Info is the /info response body.
type Info struct {
	Port    *serial.PortInfo       `json:"port"`
	Metrics serial.MetricsSnapshot `json:"metrics"`
	Clients int                    `json:"clients"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Server fans chunks out to every connected WebSocket client as binary
// frames. A client that cannot keep up is disconnected.
type Server struct {
	src      Source
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func New(src Source, logger zerolog.Logger) *Server {
	return &Server{
		src:     src,
		logger:  logger.With().Str("sink", "tap").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Handler serves /ws and /info.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/info", s.serveInfo)
	return mux
}

// Listener returns a serial.Listener that broadcasts every chunk.
func (s *Server) Listener() serial.Listener {
	return s.Broadcast
}

// Broadcast queues chunk for every client without blocking.
func (s *Server) Broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- chunk:
		default:
			s.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("tap client too slow, dropping")
			delete(s.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		c.close()
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("upgrade error")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("tap client connected")

	go s.writePump(c)

	// read until the peer goes away; incoming messages are ignored
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		c.close()
	}
	s.mu.Unlock()
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("tap client disconnected")
}

func (s *Server) writePump(c *client) {
	defer c.conn.Close()
	for chunk := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.logger.Debug().Err(err).Msg("tap write error")
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (s *Server) serveInfo(w http.ResponseWriter, r *http.Request) {
	info := Info{Metrics: s.src.Metrics(), Clients: s.Clients()}
	if pi, ok := s.src.PortInfo(); ok {
		info.Port = &pi
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.logger.Error().Err(err).Msg("encoding /info")
	}
}
