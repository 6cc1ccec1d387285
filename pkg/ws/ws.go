// Package ws turns a WebSocket session function into a route endpoint.
// The endpoint answers with an upgrade Response; the server then hands the raw
// connection to gorilla/websocket and runs the session.
package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session runs for the lifetime of one WebSocket connection. The connection is closed
// when it returns. req is the request that was upgraded; its body is empty.
type Session func(ctx context.Context, conn *websocket.Conn, req *common.Request)

// Config configures the upgrade handshake.
type Config struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	Subprotocols     []string

	// CheckOrigin validates the Origin header. Nil accepts same-origin requests only.
	CheckOrigin func(r *http.Request) bool

	Logger *zap.Logger
}

type endpoint struct {
	upgrader websocket.Upgrader
	session  Session
	logger   *zap.Logger
}

// Upgrade returns an endpoint that upgrades GET requests to WebSocket and runs session.
// Requests that are not upgrade requests get 400.
func Upgrade(session Session, config Config) common.Endpoint {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &endpoint{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			HandshakeTimeout: config.HandshakeTimeout,
			Subprotocols:     config.Subprotocols,
			CheckOrigin:      config.CheckOrigin,
		},
		session: session,
		logger:  logger,
	}
}

// Handle implements common.Endpoint.
func (e *endpoint) Handle(r *common.Request) *common.Response {
	if r.Method != http.MethodGet ||
		!headerHasToken(r.Header, "Connection", "upgrade") ||
		!headerHasToken(r.Header, "Upgrade", "websocket") {
		return common.ErrorResponse(r, common.BadRequest("Expected WebSocket upgrade"))
	}

	resp := common.NewResponse(http.StatusSwitchingProtocols)
	resp.Upgrade = func(w http.ResponseWriter, hr *http.Request) {
		// The handshake is written straight to the hijacked connection.
		conn, err := e.upgrader.Upgrade(w, hr, nil)
		if err != nil {
			// The upgrader has already written an error response.
			e.logger.Warn("WebSocket upgrade failed",
				zap.String("path", r.Path()),
				zap.String("request_id", r.RequestID()),
				zap.Error(err),
			)
			return
		}
		defer conn.Close()

		e.logger.Debug("WebSocket connected",
			zap.String("path", r.Path()),
			zap.String("request_id", r.RequestID()),
			zap.String("subprotocol", conn.Subprotocol()),
		)
		e.session(hr.Context(), conn, r)
	}
	return resp
}

// headerHasToken reports whether a comma-separated header contains token, case-insensitively.
func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// Echo is a Session that writes every message back to the sender until the peer closes.
func Echo(ctx context.Context, conn *websocket.Conn, req *common.Request) {
	for {
		if ctx.Err() != nil {
			return
		}
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}
