// Package statusd serves live session status to UI clients: a JSON
// snapshot endpoint plus a WebSocket push channel broadcasting the
// same snapshot at a fixed rate.
package statusd

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"printstream/pkg/log"
	"printstream/pkg/metrics"
)

// Source supplies the status snapshots the server publishes. The
// printer connection is the production source.
type Source interface {
	GetStatus() map[string]any
}

// Config holds the status server settings.
type Config struct {
	// Addr is the listen address, e.g. ":7125".
	Addr string

	// Interval between WebSocket pushes (default 250ms).
	Interval time.Duration
}

// Server is the status endpoint.
type Server struct {
	cfg      Config
	source   Source
	logger   *log.Logger
	upgrader websocket.Upgrader

	httpSrv *http.Server
	running atomic.Bool
	nextID  atomic.Int64

	mu      sync.Mutex
	clients map[int64]*client
}

// New creates a status server over the given source.
func New(cfg Config, source Source) *Server {
	if cfg.Interval == 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	return &Server{
		cfg:    cfg,
		source: source,
		logger: log.GetLogger("statusd"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local UI clients only; the listener binding is the
			// access control.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[int64]*client{},
	}
}

// Handler returns the HTTP routes, exposed separately so tests can
// mount them on a test listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start begins listening and broadcasting. Non-blocking.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.httpSrv = &http.Server{Handler: s.Handler()}
	s.running.Store(true)

	go s.broadcastLoop()
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("status server stopped")
		}
	}()
	s.logger.WithField("addr", ln.Addr().String()).Info("status server listening")
	return nil
}

// Stop shuts the server down and disconnects every client.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.mu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = map[int64]*client{}
	s.mu.Unlock()

	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.GetStatus()); err != nil {
		s.logger.WithError(err).Warn("status encode failed")
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(metrics.Default().Expose()))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		id:     s.nextID.Add(1),
		conn:   conn,
		sendCh: make(chan map[string]any, 16),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Debug("client %d connected from %s", c.id, r.RemoteAddr)

	// First snapshot immediately, before the ticker catches up.
	c.send(s.source.GetStatus())

	go c.writePump(s.logger)
	c.readPump()

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.close()
	s.logger.Debug("client %d disconnected", c.id)
}

// broadcastLoop pushes the current snapshot to every client at the
// configured rate.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C
		status := s.source.GetStatus()

		s.mu.Lock()
		for _, c := range s.clients {
			c.send(status)
		}
		s.mu.Unlock()
	}
}

type client struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan map[string]any
	done   chan struct{}
	once   sync.Once
}

// send queues a snapshot, dropping it when the client cannot keep up.
// A stale snapshot is worthless; the next tick carries a fresh one.
func (c *client) send(status map[string]any) {
	select {
	case c.sendCh <- status:
	case <-c.done:
	default:
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards client messages; the protocol is push-only. It
// returns when the connection drops.
func (c *client) readPump() {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump(logger *log.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case status := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(status); err != nil {
				logger.WithError(err).Debug("client %d write failed", c.id)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
