// ABOUTME: Websocket connection gateway: authenticates, authorizes, and admits
// ABOUTME: Routes an accepted upgrade to the room actor for the resolved key

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/stingtao/chat/internal/auth"
	"github.com/stingtao/chat/internal/metrics"
	"github.com/stingtao/chat/internal/room"
)

// Gateway validates inbound realtime-connection requests and hands the
// upgraded transport to the room actor for the resolved key. It is
// stateless: every request is authorized from scratch and nothing survives
// the handoff.
type Gateway struct {
	verifier  auth.Verifier
	directory Directory
	rooms     *room.Registry
	logger    *slog.Logger
}

// New creates a gateway. Pass nil logger for the process default.
func New(verifier auth.Verifier, directory Directory, rooms *room.Registry, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		verifier:  verifier,
		directory: directory,
		rooms:     rooms,
		logger:    logger.With("component", "gateway"),
	}
}

// ServeHTTP handles GET /ws?token=..&tenant=..&kind=..&id=..
// Rejections happen before the upgrade, each with a distinct reason code;
// on success the connection is upgraded and the session read loop runs
// until the transport closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("token")
	tenantID := q.Get("tenant")
	kindRaw := q.Get("kind")
	conversationID := q.Get("id")

	if token == "" || tenantID == "" || kindRaw == "" || conversationID == "" {
		g.reject(w, reject(http.StatusBadRequest, CodeMissingParameters, "missing connection parameters"))
		return
	}

	kind, err := room.ParseKind(kindRaw)
	if err != nil {
		g.reject(w, reject(http.StatusBadRequest, CodeInvalidConversation, "unknown conversation kind"))
		return
	}

	ident, err := g.verifier.Verify(token)
	if err != nil {
		g.reject(w, reject(http.StatusUnauthorized, CodeUnauthenticated, "invalid credential"))
		return
	}
	if ident.Role != auth.RoleClient {
		// Hosts administer workspaces; they never join conversation rooms.
		g.reject(w, reject(http.StatusUnauthorized, CodeUnauthenticated, "client credential required"))
		return
	}

	key, rej, err := Authorize(r.Context(), g.directory, ident.SubjectID, tenantID, kind, conversationID)
	if err != nil {
		g.logger.Error("authorization check failed",
			"tenant", tenantID,
			"subject", ident.SubjectID,
			"error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if rej != nil {
		g.reject(w, rej)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	g.logger.Info("session connected",
		"subject", ident.SubjectID,
		"room", string(key))

	sess := g.rooms.Admit(key, ident.SubjectID, &wsTransport{conn: conn})
	g.readLoop(r.Context(), conn, sess)
}

// readLoop consumes client frames until the transport closes. Control
// envelopes are relayed through the room with the verified sender stamped;
// anything else, including client-sent new-message envelopes, is dropped.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, sess *room.Session) {
	defer sess.Evict()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !errors.Is(err, context.Canceled) {
				g.logger.Debug("session read error",
					"subject", sess.Subject(),
					"room", string(sess.Key()),
					"error", err)
			}
			return
		}

		var env room.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Kind == "" {
			continue
		}
		g.rooms.Relay(sess.Key(), &env, sess.Subject())
	}
}

// reject refuses the connection before the upgrade with a single
// human-readable reason and its machine code.
func (g *Gateway) reject(w http.ResponseWriter, rej *Rejection) {
	metrics.GatewayRejections.WithLabelValues(rej.Code).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Status)
	fmt.Fprintf(w, `{"error":%q,"code":%q}`, rej.Reason, rej.Code)
}

// wsTransport adapts a websocket connection to the room.Transport interface.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}
