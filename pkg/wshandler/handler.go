// Package wshandler implements the per-connection WebSocket message pump
// (§4.5): it decodes inbound wsproto frames, routes data to a session,
// and forwards reassembled notifications back out.
//
// Structurally this is the teacher's pkg/api/ws.Client readPump/writePump
// pair (a send channel, a ping ticker, one goroutine reading and one
// writing) generalized from the teacher's ad-hoc WSMessage dispatch
// (subscribe/unsubscribe/send/status) to the wsproto.Frame union and to
// routing every frame through a session instead of a gateway.
package wshandler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ble-mcp-test/bridge/pkg/bridgeerr"
	"github.com/ble-mcp-test/bridge/pkg/logger"
	"github.com/ble-mcp-test/bridge/pkg/session"
	"github.com/ble-mcp-test/bridge/pkg/sessionmgr"
	"github.com/ble-mcp-test/bridge/pkg/wsproto"
)

// Config configures a Handler.
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	AdminToken   string
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Handler is one attached WebSocket's message pump. It implements
// session.Attachment so the owning session can broadcast frames to it and
// force-close it during cleanup.
type Handler struct {
	id   string
	conn *websocket.Conn
	sess *session.Session
	mgr  *sessionmgr.Manager
	cfg  Config
	log  *logger.Logger

	send     chan []byte
	closed   bool
	closeSig chan struct{}
}

// New creates a Handler for an already-upgraded connection, attached to
// sess. The caller must call Run to start its pumps.
func New(conn *websocket.Conn, sess *session.Session, mgr *sessionmgr.Manager, cfg Config, log *logger.Logger) *Handler {
	id := uuid.New().String()
	return &Handler{
		id:       id,
		conn:     conn,
		sess:     sess,
		mgr:      mgr,
		cfg:      cfg.withDefaults(),
		log:      log.WithConn(id),
		send:     make(chan []byte, 64),
		closeSig: make(chan struct{}),
	}
}

// ID implements session.Attachment.
func (h *Handler) ID() string { return h.id }

// SendData implements session.Attachment: encode a notification frame and
// queue it for delivery.
func (h *Handler) SendData(frame []byte) error {
	f := wsproto.NewDataFrame(frame)
	raw, err := f.Encode()
	if err != nil {
		return err
	}
	select {
	case h.send <- raw:
		return nil
	case <-h.closeSig:
		return bridgeerr.ErrNotConnected
	default:
		return bridgeerr.ErrWriteQueueFull
	}
}

// Close implements session.Attachment: idempotently stop the write pump
// and close the underlying connection.
func (h *Handler) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	close(h.closeSig)
	return h.conn.Close()
}

// sendFrame is a convenience for control-plane responses the handler
// originates itself (acks, errors, warnings) rather than data relayed
// from the session.
func (h *Handler) sendFrame(f wsproto.Frame) {
	raw, err := f.Encode()
	if err != nil {
		return
	}
	select {
	case h.send <- raw:
	case <-h.closeSig:
	default:
	}
}

// Run attaches the handler to its session and blocks until the connection
// closes, running the read and write pumps concurrently.
func (h *Handler) Run(ctx context.Context) {
	if err := h.sess.Attach(h); err != nil {
		h.log.Warn("attach rejected", "error", err)
		h.sendFrame(wsproto.NewError(err.Error()))
		h.conn.Close()
		return
	}
	defer h.sess.Detach(h.id)

	done := make(chan struct{})
	go func() {
		h.writePump()
		close(done)
	}()
	h.readPump(ctx)
	h.Close()
	<-done
}

func (h *Handler) readPump(ctx context.Context) {
	for {
		_, raw, err := h.conn.ReadMessage()
		if err != nil {
			return
		}

		f, err := wsproto.Decode(raw)
		if err != nil {
			h.sendFrame(wsproto.NewError(bridgeerr.ErrProtocolError.Error()))
			continue
		}
		h.handleFrame(ctx, f)
	}
}

func (h *Handler) writePump() {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-h.send:
			h.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				h.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := h.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			h.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.closeSig:
			return
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, f *wsproto.Frame) {
	switch f.Type {
	case wsproto.TypeData:
		if err := h.sess.Write(ctx, f.Data); err != nil {
			h.sendFrame(wsproto.NewError(err.Error()))
		}

	case wsproto.TypeForceCleanup:
		// Deprecated: never drive cleanup from here. Treat as an
		// ordinary disconnect and tell the client why.
		h.sendFrame(wsproto.NewForceCleanupComplete("disconnecting", "force cleanup is unreliable"))
		h.conn.Close()

	case wsproto.TypeAdminCleanup:
		h.handleAdminCleanup(f)

	case wsproto.TypeRPCRequest:
		h.sendFrame(wsproto.NewRPCResponseError(f.RPCID, "rpc_request is only valid as the first frame of an RPC-mode upgrade"))

	default:
		h.sendFrame(wsproto.NewError("unsupported frame type"))
	}
}

func (h *Handler) handleAdminCleanup(f *wsproto.Frame) {
	if h.cfg.AdminToken == "" || f.Auth != h.cfg.AdminToken {
		h.sendFrame(wsproto.NewError(bridgeerr.ErrUnauthorized.Error()))
		return
	}
	switch f.Action {
	case wsproto.AdminActionCleanupAll:
		h.mgr.ForceCleanupAll(session.ReasonAdmin)
		h.sendFrame(wsproto.NewAdminCleanupComplete("cleanup_all executed"))
	default:
		h.sendFrame(wsproto.NewError("unknown admin action"))
	}
}
