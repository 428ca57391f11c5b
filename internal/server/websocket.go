package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hipsterbrown/servobus/controltable"
	"github.com/hipsterbrown/servobus/session"
)

const (
	writeWait    = 10 * time.Second
	firstMsgWait = 30 * time.Second
)

// resultFrame closes every stream: ok, or the operation-level error that
// stopped it.
type resultFrame struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

type readMessage struct {
	ServoID uint8                   `json:"servo_id"`
	Fields  []session.RegisterField `json:"fields"`
}

type cancelMessage struct {
	Action string `json:"action"`
}

// wsSink writes event envelopes to a WebSocket. Writes are serialized
// because gorilla connections allow one concurrent writer.
type wsSink[E session.Event] struct {
	mu   *sync.Mutex
	conn *websocket.Conn
}

func (s wsSink[E]) Send(e E) error {
	return writeJSON(s.mu, s.conn, session.Wrap(e))
}

func writeJSON(mu *sync.Mutex, conn *websocket.Conn, v any) error {
	mu.Lock()
	defer mu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(allowed, origin) || slices.Contains(allowed, u.Host)
	}
}

func (s *Server) upgrade(c *gin.Context) (*websocket.Conn, bool) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return nil, false
	}
	return conn, true
}

func (s *Server) finish(mu *sync.Mutex, conn *websocket.Conn, err error) {
	frame := resultFrame{OK: err == nil}
	if err != nil {
		frame.Code = errorCode(statusFor(err))
		frame.Error = err.Error()
	}
	if werr := writeJSON(mu, conn, session.Envelope{Event: "result", Data: frame}); werr != nil {
		s.logger.Debug("Failed to send result frame", zap.Error(werr))
	}

	mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	mu.Unlock()
}

// scanSocket runs one scan per connection. The first client message is the
// scan request; a later {"action":"cancel"} message or a closed socket
// cancels the scan.
func (s *Server) scanSocket(c *gin.Context) {
	conn, ok := s.upgrade(c)
	if !ok {
		return
	}
	defer conn.Close()

	var mu sync.Mutex
	var req session.ScanRequest
	_ = conn.SetReadDeadline(time.Now().Add(firstMsgWait))
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Warn("Invalid scan request", zap.Error(err))
		s.finish(&mu, conn, err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	if req.Protocol == "" {
		req.Protocol = session.Protocol(s.config.Serial.DefaultProtocol)
	}
	if req.Baudrate == 0 {
		req.Baudrate = s.config.Serial.DefaultBaudrate
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			var msg cancelMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Action == "cancel" {
				s.session.CancelScan()
			}
		}
	}()

	err := s.session.ScanServos(ctx, req, wsSink[session.ScanEvent]{mu: &mu, conn: conn})
	if err != nil {
		s.logger.Warn("Scan failed", zap.String("port", req.Port), zap.Error(err))
	}
	s.finish(&mu, conn, err)
}

// readSocket reads a batch of fields from one servo. With no fields listed
// it identifies the servo and reads its whole control table.
func (s *Server) readSocket(c *gin.Context) {
	conn, ok := s.upgrade(c)
	if !ok {
		return
	}
	defer conn.Close()

	var mu sync.Mutex
	var req readMessage
	_ = conn.SetReadDeadline(time.Now().Add(firstMsgWait))
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Warn("Invalid read request", zap.Error(err))
		s.finish(&mu, conn, err)
		return
	}

	ctx := c.Request.Context()
	fields := req.Fields
	if len(fields) == 0 {
		m, err := controltable.Identify(ctx, s.session, req.ServoID)
		if err != nil {
			s.finish(&mu, conn, err)
			return
		}
		fields = m.Registers()
	}

	err := s.session.ReadControlTable(ctx, req.ServoID, fields, wsSink[session.ReadEvent]{mu: &mu, conn: conn})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Read failed", zap.Uint8("servo_id", req.ServoID), zap.Error(err))
	}
	s.finish(&mu, conn, err)
}
