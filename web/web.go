// Package web serves the latest observations over HTTP and pushes new ones to
// websocket clients.
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jd3nn1s/lorasense"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// HistoryLen is the number of observations kept for /api/history.
	HistoryLen = 1024

	writeTimeout = 5 * time.Second
	// observations queued per websocket client before it is dropped
	clientQueueLen = 16
)

type wsConn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// client owns the writes to one websocket, so a slow reader never holds up
// Forward.
type client struct {
	conn wsConn
	send chan lorasense.Observation
}

type Server struct {
	router   *gin.Engine
	upgrader websocket.Upgrader

	mu      sync.Mutex
	latest  map[string]lorasense.Observation
	history []lorasense.Observation
	next    int
	clients map[*client]struct{}
}

func New() *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router: gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		latest:  map[string]lorasense.Observation{},
		history: make([]lorasense.Observation, 0, HistoryLen),
		clients: map[*client]struct{}{},
	}
	s.router.Use(gin.Recovery(), requestLogger)
	s.router.GET("/api/latest", s.handleLatest)
	s.router.GET("/api/history", s.handleHistory)
	s.router.GET("/ws", s.handleWebSocket)
	return s
}

func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	log.WithFields(log.Fields{
		"method":   c.Request.Method,
		"path":     c.Request.URL.Path,
		"status":   c.Writer.Status(),
		"duration": time.Since(start),
	}).Debug("http request")
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	errChan := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http server listening")
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("err", err).Warn("http server shutdown")
	}
	s.closeClients()
	return ctx.Err()
}

// Forward records the observation and pushes it to every websocket client.
func (s *Server) Forward(obs *lorasense.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[obs.Entity] = *obs
	if len(s.history) < HistoryLen {
		s.history = append(s.history, *obs)
	} else {
		s.history[s.next] = *obs
	}
	s.next = (s.next + 1) % HistoryLen

	for c := range s.clients {
		select {
		case c.send <- *obs:
		default:
			log.Info("websocket client not keeping up, dropping it")
			s.removeLocked(c)
		}
	}
	return nil
}

// History returns the stored observations oldest first, only those of entity
// unless it is empty.
func (s *Server) History(entity string) []lorasense.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]lorasense.Observation, 0, len(s.history))
	start := 0
	if len(s.history) == HistoryLen {
		start = s.next
	}
	for i := 0; i < len(s.history); i++ {
		obs := s.history[(start+i)%len(s.history)]
		if entity == "" || obs.Entity == entity {
			out = append(out, obs)
		}
	}
	return out
}

func (s *Server) handleLatest(c *gin.Context) {
	s.mu.Lock()
	latest := make(map[string]lorasense.Observation, len(s.latest))
	for k, v := range s.latest {
		latest[k] = v
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, latest)
}

func (s *Server) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, s.History(c.Query("entity")))
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithField("err", err).Warn("websocket upgrade failed")
		return
	}

	cl := s.addClient(conn)

	// nothing is expected from clients, reading only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	s.removeLocked(cl)
	s.mu.Unlock()
	log.Info("websocket client disconnected")
}

func (s *Server) addClient(conn wsConn) *client {
	c := &client{
		conn: conn,
		send: make(chan lorasense.Observation, clientQueueLen),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	log.WithField("clients", count).Info("websocket client connected")

	go c.writeLoop()
	return c
}

// removeLocked must be called with s.mu held.
func (s *Server) removeLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

func (c *client) writeLoop() {
	for obs := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(obs); err != nil {
			log.WithField("err", err).Info("websocket write failed")
			// closing makes the read loop remove the client
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		s.removeLocked(c)
	}
}
