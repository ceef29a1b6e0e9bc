// Package bridgefront accepts WebSocket upgrades and selects between the
// legacy URL-parameter handshake and the RPC handshake (§4.6), then hands
// the connection off to wshandler once a session has admitted it.
//
// Grounded on the teacher's pkg/api/ws.Server: an http.Server wrapping one
// websocket.Upgrader and a single upgrade handler, generalized from the
// teacher's single subscribe/send protocol to two distinct handshake modes
// that both resolve to the same downstream handler loop.
package bridgefront

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ble-mcp-test/bridge/pkg/logger"
	"github.com/ble-mcp-test/bridge/pkg/session"
	"github.com/ble-mcp-test/bridge/pkg/sessionmgr"
	"github.com/ble-mcp-test/bridge/pkg/uuidnorm"
	"github.com/ble-mcp-test/bridge/pkg/wsproto"
)

// Vendor characteristics used for every RPC-mode session: requestDevice
// params carry only filters (name prefix and services), so write/notify
// UUIDs cannot be supplied over RPC.
const (
	defaultWriteUUID  = "9900"
	defaultNotifyUUID = "9901"
)

// Config configures the front end.
type Config struct {
	Host             string
	Port             int
	Path             string
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	AllowedOrigins   []string
	UUIDStyle        uuidnorm.Style
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = 1024
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = 1024
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	return c
}

// Frontend owns the upgrade endpoint and hands admitted connections to
// wshandler.
type Frontend struct {
	cfg           Config
	mgr           *sessionmgr.Manager
	log           *logger.Logger
	upgrader      websocket.Upgrader
	server        *http.Server
	handlerRunner func(conn *websocket.Conn, sess *session.Session)
}

// New creates a Frontend serving upgrades against mgr.
func New(cfg Config, mgr *sessionmgr.Manager, log *logger.Logger, runHandler func(conn *websocket.Conn, sess *session.Session)) *Frontend {
	cfg = cfg.withDefaults()
	f := &Frontend{
		cfg:           cfg,
		mgr:           mgr,
		log:           log,
		handlerRunner: runHandler,
	}
	f.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			for _, o := range cfg.AllowedOrigins {
				if o == "*" || o == r.Header.Get("Origin") {
					return true
				}
			}
			return false
		},
	}
	return f
}

// Start begins listening for upgrades.
func (f *Frontend) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(f.cfg.Path, f.handleUpgrade)
	f.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", f.cfg.Host, f.cfg.Port),
		Handler: mux,
	}
	go func() {
		if err := f.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			f.log.Error("bridge front end listener stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the listener.
func (f *Frontend) Stop(ctx context.Context) error {
	if f.server == nil {
		return nil
	}
	return f.server.Shutdown(ctx)
}

func (f *Frontend) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("_mv") == "" {
		f.log.Warn("upgrade missing mock library version marker", "remote", r.RemoteAddr)
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.HandshakeTimeout)
	defer cancel()

	force := q.Get("force") == "true"
	sessionID := q.Get("session")
	if sessionID == "" {
		sessionID = randomSessionID()
	}

	if q.Get("rpc") == "true" {
		f.handleRPCHandshake(ctx, conn, sessionID, force)
		return
	}
	f.handleLegacyHandshake(ctx, conn, sessionID, force, q)
}

func (f *Frontend) handleLegacyHandshake(ctx context.Context, conn *websocket.Conn, sessionID string, force bool, q url.Values) {
	service, write, notify := q.Get("service"), q.Get("write"), q.Get("notify")
	if service == "" || write == "" || notify == "" {
		f.rejectUpgrade(conn, "legacy upgrade requires service, write, and notify")
		return
	}

	cfg := session.Config{
		DevicePrefix: q.Get("device"),
		ServiceUUID:  uuidnorm.Normalize(service, f.cfg.UUIDStyle),
		WriteUUID:    uuidnorm.Normalize(write, f.cfg.UUIDStyle),
		NotifyUUID:   uuidnorm.Normalize(notify, f.cfg.UUIDStyle),
		UUIDStyle:    f.cfg.UUIDStyle,
	}

	sess, ok := f.admit(conn, sessionID, cfg, force)
	if !ok {
		return
	}

	deviceName, err := sess.EnsureConnected(ctx)
	if err != nil {
		f.rejectUpgrade(conn, err.Error())
		return
	}

	f.sendFrame(conn, wsproto.NewConnected(deviceName))
	f.handlerRunner(conn, sess)
}

func (f *Frontend) handleRPCHandshake(ctx context.Context, conn *websocket.Conn, sessionID string, force bool) {
	conn.SetReadDeadline(time.Now().Add(f.cfg.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	frame, err := wsproto.Decode(raw)
	if err != nil || frame.Type != wsproto.TypeRPCRequest {
		f.rejectUpgrade(conn, "expected rpc_request as the first frame")
		return
	}

	var devicePrefix, serviceUUID string
	if len(frame.Params.Filters) > 0 {
		devicePrefix = frame.Params.Filters[0].NamePrefix
		if len(frame.Params.Filters[0].Services) > 0 {
			serviceUUID = frame.Params.Filters[0].Services[0]
		}
	}

	cfg := session.Config{
		DevicePrefix: devicePrefix,
		ServiceUUID:  uuidnorm.Normalize(serviceUUID, f.cfg.UUIDStyle),
		WriteUUID:    uuidnorm.Normalize(defaultWriteUUID, f.cfg.UUIDStyle),
		NotifyUUID:   uuidnorm.Normalize(defaultNotifyUUID, f.cfg.UUIDStyle),
		UUIDStyle:    f.cfg.UUIDStyle,
	}

	sess, ok := f.admitRPC(conn, frame.RPCID, sessionID, cfg, force)
	if !ok {
		return
	}

	deviceName, err := sess.EnsureConnected(ctx)
	if err != nil {
		f.sendFrame(conn, wsproto.NewRPCResponseError(frame.RPCID, err.Error()))
		conn.Close()
		return
	}

	f.sendFrame(conn, wsproto.NewRPCResponseOK(frame.RPCID, deviceName, sessionID))
	f.handlerRunner(conn, sess)
}

// admit runs §4.4 get_or_create, retrying once after a forced takeover of
// the blocking session when the caller asked for force=true.
func (f *Frontend) admit(conn *websocket.Conn, sessionID string, cfg session.Config, force bool) (*session.Session, bool) {
	sess, blocker, ok := f.mgr.GetOrCreate(sessionID, cfg)
	if ok {
		return sess, true
	}
	if force && blocker != "" {
		f.mgr.ForceCleanupSession(blocker, session.ReasonForced)
		sess, _, ok = f.mgr.GetOrCreate(sessionID, cfg)
		if ok {
			return sess, true
		}
	}
	f.sendFrame(conn, wsproto.NewAdmissionDenied("Device is busy with another session", blocker))
	conn.Close()
	return nil, false
}

func (f *Frontend) admitRPC(conn *websocket.Conn, rpcID, sessionID string, cfg session.Config, force bool) (*session.Session, bool) {
	sess, blocker, ok := f.mgr.GetOrCreate(sessionID, cfg)
	if ok {
		return sess, true
	}
	if force && blocker != "" {
		f.mgr.ForceCleanupSession(blocker, session.ReasonForced)
		sess, _, ok = f.mgr.GetOrCreate(sessionID, cfg)
		if ok {
			return sess, true
		}
	}
	f.sendFrame(conn, wsproto.NewRPCResponseError(rpcID, "Device is busy with another session"))
	conn.Close()
	return nil, false
}

func (f *Frontend) rejectUpgrade(conn *websocket.Conn, msg string) {
	f.sendFrame(conn, wsproto.NewError(msg))
	conn.Close()
}

func (f *Frontend) sendFrame(conn *websocket.Conn, fr wsproto.Frame) {
	raw, err := fr.Encode()
	if err != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, raw)
}

func randomSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "anon"
	}
	return fmt.Sprintf("anon-%x", b)
}
