package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/threatlens/scout/internal/metrics"
	"github.com/threatlens/scout/internal/probe"
	"github.com/threatlens/scout/internal/progress"
	"github.com/threatlens/scout/internal/store"
)

// Client-to-server event names.
const (
	eventStartStreaming = "start_streaming"
	eventStopStreaming  = "stop_streaming"
	eventStartAllTest   = "start-all-sources-test"
	eventCancelAllTest  = "cancel-all-sources-test"
)

// AggregateRunner runs the all-sources probe. *probe.Runner satisfies it.
type AggregateRunner interface {
	RunAll(ctx context.Context, emitter progress.Emitter) probe.Summary
}

// GatewayConfig gates and tunes the realtime channel.
type GatewayConfig struct {
	// Production disables the channel entirely; connections are refused
	// before the websocket handshake.
	Production bool
	// TestSecret is re-checked on every start-all-sources-test request.
	TestSecret string
	// WriteTimeout bounds one outbound frame (default 10s).
	WriteTimeout time.Duration
}

// Gateway accepts live diagnostics connections. Authentication happens once,
// at connect time: token verification, subject resolution, and a permission
// check, each failure refusing the connection rather than accepting and
// dropping it. Revocation while a connection is open is not detected.
type Gateway struct {
	verifier    TokenVerifier
	identities  store.IdentityStore
	permissions store.PermissionStore
	hub         *Hub
	runner      AggregateRunner
	cfg         GatewayConfig
	upgrader    websocket.Upgrader
	baseCtx     context.Context
	logger      *zap.Logger
}

// NewGateway wires the gateway collaborators. baseCtx is the parent of every
// detached probe run started over the channel.
func NewGateway(
	baseCtx context.Context,
	verifier TokenVerifier,
	identities store.IdentityStore,
	permissions store.PermissionStore,
	hub *Hub,
	runner AggregateRunner,
	cfg GatewayConfig,
	logger *zap.Logger,
) *Gateway {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		verifier:    verifier,
		identities:  identities,
		permissions: permissions,
		hub:         hub,
		runner:      runner,
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser operators connect from the app origin; CORS policy is
			// enforced upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		baseCtx: baseCtx,
		logger:  logger,
	}
}

// Hub returns the broadcast group the gateway joins connections to.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// ServeHTTP performs the authenticated websocket handshake and then serves
// the connection's event loop until the client disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.cfg.Production {
		g.reject(w, http.StatusForbidden, "environment", "diagnostics channel disabled in production")
		return
	}

	token, fromProtocol := handshakeToken(r)
	if token == "" {
		g.reject(w, http.StatusUnauthorized, "missing_token", "handshake carried no identity token")
		return
	}

	subject, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		g.reject(w, http.StatusUnauthorized, "invalid_token", err.Error())
		return
	}

	identity, err := g.identities.ResolveSubject(r.Context(), subject)
	if err != nil {
		reason := "identity_lookup_failed"
		if errors.Is(err, store.ErrNotFound) {
			reason = "unknown_subject"
		}
		g.reject(w, http.StatusForbidden, reason, err.Error())
		return
	}

	// Fail-secure: an error from the permission collaborator is a denial.
	allowed, err := g.permissions.CanViewDiagnostics(r.Context(), identity.ID)
	if err != nil {
		g.reject(w, http.StatusForbidden, "permission_check_failed", err.Error())
		return
	}
	if !allowed {
		g.reject(w, http.StatusForbidden, "not_authorized", "identity lacks diagnostics permission")
		return
	}

	var responseHeader http.Header
	if fromProtocol {
		responseHeader = http.Header{"Sec-WebSocket-Protocol": {"bearer"}}
	}
	ws, err := g.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(ws, identity, g.cfg.WriteTimeout)
	metrics.IncConnections()
	g.logger.Info("diagnostics connection accepted",
		zap.String("identity", identity.ID.String()),
		zap.String("role", identity.Role),
	)
	g.serve(conn)
}

// handshakeToken extracts the identity token from the query string or from a
// "bearer, <token>" Sec-WebSocket-Protocol header.
func handshakeToken(r *http.Request) (token string, fromProtocol bool) {
	if t := r.URL.Query().Get("token"); t != "" {
		return t, false
	}
	for i, proto := range websocket.Subprotocols(r) {
		if strings.EqualFold(proto, "bearer") {
			rest := websocket.Subprotocols(r)[i+1:]
			if len(rest) > 0 {
				return rest[0], true
			}
		}
	}
	return "", false
}

func (g *Gateway) reject(w http.ResponseWriter, status int, reason, detail string) {
	metrics.ObserveRejection(reason)
	g.logger.Warn("diagnostics connection refused",
		zap.String("reason", reason),
		zap.String("detail", detail),
	)
	http.Error(w, reason, status)
}

// serve is the per-connection read loop. Group membership is toggled by the
// start/stop streaming pair; the connection starts outside the group.
func (g *Gateway) serve(conn *Conn) {
	defer func() {
		g.hub.Leave(conn)
		metrics.DecConnections()
		if err := conn.close(); err != nil {
			g.logger.Debug("connection close", zap.Error(err))
		}
	}()

	for {
		var msg clientMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("diagnostics connection dropped", zap.Error(err))
			}
			return
		}

		switch msg.Event {
		case eventStartStreaming:
			g.hub.Join(conn)
			g.ack(conn, "logs-started", "Live diagnostics streaming enabled")
		case eventStopStreaming:
			g.hub.Leave(conn)
			g.ack(conn, "logs-stopped", "Live diagnostics streaming disabled")
		case eventStartAllTest:
			g.startAllSourcesTest(conn, msg.Data)
		case eventCancelAllTest:
			// Acknowledged only: an in-flight run is not interrupted.
			g.hub.Broadcast("Cancellation requested; the in-flight test will run to completion",
				"test-scraper", "warning")
			g.ack(conn, "all-sources-test-cancelled", "Cancellation acknowledged")
		default:
			g.logger.Debug("unrecognized client event", zap.String("event", msg.Event))
		}
	}
}

func (g *Gateway) ack(conn *Conn, event, message string) {
	if err := conn.Send(event, map[string]any{"message": message}); err != nil {
		g.logger.Warn("ack send failed", zap.String("event", event), zap.Error(err))
	}
}

// startAllSourcesTest re-checks the shared secret and environment gate, then
// runs the aggregate probe detached from the read loop so streaming continues
// while it executes.
func (g *Gateway) startAllSourcesTest(conn *Conn, data json.RawMessage) {
	var req struct {
		Password string `json:"password"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			g.logger.Warn("malformed start request", zap.Error(err))
		}
	}
	if g.cfg.Production || g.cfg.TestSecret == "" || req.Password != g.cfg.TestSecret {
		g.logger.Warn("all-sources test refused",
			zap.String("identity", conn.identity.ID.String()),
		)
		if err := conn.Send("all-sources-test-failed", map[string]any{
			"error": "invalid test credentials",
		}); err != nil {
			g.logger.Warn("refusal send failed", zap.Error(err))
		}
		return
	}

	emitter := progress.NewConnEmitter(conn, g.logger)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("all-sources test panicked", zap.Any("panic", rec))
				emitter.Emit(progress.Timestamped(progress.Event{
					Kind:    progress.KindFailed,
					Payload: map[string]any{"error": "internal error during test run"},
				}))
			}
		}()
		g.runner.RunAll(g.baseCtx, emitter)
	}()
}
