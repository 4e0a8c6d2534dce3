// Package ws serves the room protocol over websockets: one goroutine pair
// per connection (read pump and write pump), ping/pong liveness, and
// delivery of inbound frames to the room coordinator.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parlorgames/parlor/internal/config"
	"github.com/parlorgames/parlor/internal/room"
)

// Server owns the HTTP listener for the /roomSocket endpoint and the active
// websocket connections behind it.
type Server struct {
	cfg    config.SocketConfig
	coord  *room.Coordinator
	logger *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu     sync.Mutex
	active map[*websocket.Conn]struct{}
	wg     sync.WaitGroup
}

// NewServer creates a websocket server delivering frames to coord.
//
// Precondition: coord and logger must be non-nil; cfg must be validated.
func NewServer(cfg config.SocketConfig, coord *room.Coordinator, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		coord:  coord,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The room protocol carries no credentials and the endpoint is
			// origin-agnostic.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		active: make(map[*websocket.Conn]struct{}),
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.Addr(),
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the HTTP handler serving the room socket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/roomSocket", s.handleRoomSocket)
	return mux
}

// Start runs the HTTP listener. Blocks until Stop or a listener error.
func (s *Server) Start() error {
	s.logger.Info("room socket listening", zap.String("addr", s.cfg.Addr()))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the listener down, closes every active connection, and waits
// for their pumps to drain.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}

	s.mu.Lock()
	for conn := range s.active {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	connID := uuid.NewString()
	sess, err := s.coord.Connect(r.Context(), connID)
	if err != nil {
		s.logger.Error("session registration failed",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		_ = conn.Close()
		return
	}

	s.logger.Info("connection opened",
		zap.String("conn_id", connID),
		zap.String("remote", r.RemoteAddr),
	)

	s.track(conn)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writePump(conn, sess)
	}()
	s.readPump(conn, sess)
}

func (s *Server) track(conn *websocket.Conn) {
	s.mu.Lock()
	s.active[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
}

// readPump reads frames until the connection fails, feeding each one to the
// coordinator. The read deadline is extended on every pong; a client that
// stops answering probes times out here, which tears the session down.
func (s *Server) readPump(conn *websocket.Conn, sess *room.Session) {
	defer func() {
		s.coord.Disconnect(sess.ConnID)
		s.untrack(conn)
		_ = conn.Close()
	}()

	conn.SetReadLimit(s.cfg.MaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait()))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info("connection read failed",
					zap.String("conn_id", sess.ConnID),
					zap.Error(err),
				)
			}
			return
		}
		s.coord.Dispatch(context.Background(), sess.ConnID, data)
	}
}

// writePump drains the session outbox to the wire and probes liveness on
// the ping interval. It is the connection's only writer. Exits when the
// outbox closes (disconnect cleanup) or a write fails.
func (s *Server) writePump(conn *websocket.Conn, sess *room.Session) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-sess.Outbox.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("connection write failed",
					zap.String("conn_id", sess.ConnID),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
