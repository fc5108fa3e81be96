// ABOUTME: End-to-end tests for the websocket gateway
// ABOUTME: Real upgrades against an in-memory store; rejection codes and relay flow

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stingtao/chat/internal/auth"
	"github.com/stingtao/chat/internal/room"
	"github.com/stingtao/chat/internal/store"
)

var gatewaySecret = []byte("gateway-test-secret")

type gatewayFixture struct {
	server   *httptest.Server
	verifier *auth.JWTVerifier
	rooms    *room.Registry
	store    *store.SQLiteStore
}

// newGatewayFixture seeds one tenant with three users: u1 and u2 are friends
// and share the "design" group, u3 is a member of neither.
func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := t.Context()
	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, st.AddTenantMember(ctx, "acme", u))
	}
	require.NoError(t, st.CreateGroup(ctx, &store.Group{ID: "design", TenantID: "acme", Name: "Design", CreatedBy: "u1"}))
	require.NoError(t, st.AddGroupMember(ctx, "design", "u1"))
	require.NoError(t, st.AddGroupMember(ctx, "design", "u2"))
	require.NoError(t, st.CreateFriendRequest(ctx, &store.Friendship{
		ID: store.NewMessageID(), TenantID: "acme", SenderID: "u1", ReceiverID: "u2",
	}))
	require.NoError(t, st.AcceptFriendRequest(ctx, "acme", "u1", "u2"))

	verifier := auth.NewJWTVerifier(gatewaySecret)
	rooms := room.NewRegistry(0, nil)
	server := httptest.NewServer(New(verifier, st, rooms, nil))
	t.Cleanup(server.Close)

	return &gatewayFixture{server: server, verifier: verifier, rooms: rooms, store: st}
}

func (f *gatewayFixture) token(t *testing.T, subject string, role auth.Role) string {
	t.Helper()
	token, err := f.verifier.Generate(&auth.Identity{SubjectID: subject, Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *gatewayFixture) wsURL(token, tenant, kind, id string) string {
	base := "ws" + strings.TrimPrefix(f.server.URL, "http")
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	if tenant != "" {
		q.Set("tenant", tenant)
	}
	if kind != "" {
		q.Set("kind", kind)
	}
	if id != "" {
		q.Set("id", id)
	}
	return base + "?" + q.Encode()
}

// connect dials and requires a successful upgrade.
func (f *gatewayFixture) connect(t *testing.T, subject, kind, id string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(t.Context(), f.wsURL(f.token(t, subject, auth.RoleClient), "acme", kind, id), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// expectRejection dials and requires a pre-upgrade refusal with the code.
func (f *gatewayFixture) expectRejection(t *testing.T, wsURL string, wantStatus int, wantCode string) {
	t.Helper()
	ctx := t.Context()
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.Error(t, err, "upgrade must be refused")
	if conn != nil {
		conn.CloseNow()
	}
	require.NotNil(t, resp)
	assert.Equal(t, wantStatus, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, wantCode, payload.Code)
	assert.NotEmpty(t, payload.Error)
}

func contextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(t.Context(), 2*time.Second)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *room.Envelope {
	t.Helper()
	ctx, cancel := contextWithTimeout(t)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env room.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return &env
}

func readEnvelopeOfKind(t *testing.T, conn *websocket.Conn, kind room.EnvelopeKind) *room.Envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		env := readEnvelope(t, conn)
		if env.Kind == kind {
			return env
		}
	}
	t.Fatalf("never received a %s envelope", kind)
	return nil
}

func TestGateway_RejectsMissingParameters(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "u1", auth.RoleClient)

	f.expectRejection(t, f.wsURL("", "acme", "direct", "u2"), http.StatusBadRequest, CodeMissingParameters)
	f.expectRejection(t, f.wsURL(token, "", "direct", "u2"), http.StatusBadRequest, CodeMissingParameters)
	f.expectRejection(t, f.wsURL(token, "acme", "", "u2"), http.StatusBadRequest, CodeMissingParameters)
	f.expectRejection(t, f.wsURL(token, "acme", "direct", ""), http.StatusBadRequest, CodeMissingParameters)
}

func TestGateway_RejectsUnknownKind(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "u1", auth.RoleClient)
	f.expectRejection(t, f.wsURL(token, "acme", "broadcast", "u2"), http.StatusBadRequest, CodeInvalidConversation)
}

func TestGateway_RejectsBadCredential(t *testing.T) {
	f := newGatewayFixture(t)
	f.expectRejection(t, f.wsURL("garbage-token", "acme", "direct", "u2"), http.StatusUnauthorized, CodeUnauthenticated)
}

func TestGateway_RejectsHostCredential(t *testing.T) {
	f := newGatewayFixture(t)
	hostToken := f.token(t, "h1", auth.RoleHost)
	f.expectRejection(t, f.wsURL(hostToken, "acme", "direct", "u2"), http.StatusUnauthorized, CodeUnauthenticated)
}

func TestGateway_RejectsNonFriends(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "u3", auth.RoleClient)
	f.expectRejection(t, f.wsURL(token, "acme", "direct", "u1"), http.StatusForbidden, CodeNotAuthorized)
}

func TestGateway_RejectsNonGroupMember(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "u3", auth.RoleClient)
	f.expectRejection(t, f.wsURL(token, "acme", "group", "design"), http.StatusForbidden, CodeNotAuthorized)
}

func TestGateway_RejectsMissingGroup(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "u1", auth.RoleClient)
	f.expectRejection(t, f.wsURL(token, "acme", "group", "nonexistent"), http.StatusNotFound, CodeConversationNotFound)
}

func TestGateway_RejectsOutsiderTenant(t *testing.T) {
	f := newGatewayFixture(t)
	token := f.token(t, "u1", auth.RoleClient)
	f.expectRejection(t, f.wsURL(token, "globex", "direct", "u2"), http.StatusForbidden, CodeNotAMember)
}

func TestGateway_DirectPresenceAndTypingRelay(t *testing.T) {
	f := newGatewayFixture(t)

	u1 := f.connect(t, "u1", "direct", "u2")
	u2 := f.connect(t, "u2", "direct", "u1")

	// u1 observes u2 joining the shared room.
	online := readEnvelopeOfKind(t, u1, room.KindUserOnline)
	var presence struct {
		UserID string `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(online.Payload, &presence))
	assert.Equal(t, "u2", presence.UserID)

	// u2 sends typing-start claiming to be someone else; u1 must see the
	// verified sender.
	frame, err := json.Marshal(map[string]any{
		"kind":    "typing-start",
		"payload": map[string]string{"senderId": "u1"},
	})
	require.NoError(t, err)
	ctx, cancel := contextWithTimeout(t)
	require.NoError(t, u2.Write(ctx, websocket.MessageText, frame))
	cancel()

	typing := readEnvelopeOfKind(t, u1, room.KindTypingStart)
	var payload struct {
		SenderID string `json:"senderId"`
	}
	require.NoError(t, json.Unmarshal(typing.Payload, &payload))
	assert.Equal(t, "u2", payload.SenderID)
}

func TestGateway_ClientSentNewMessageIsDropped(t *testing.T) {
	f := newGatewayFixture(t)

	u1 := f.connect(t, "u1", "group", "design")
	u2 := f.connect(t, "u2", "group", "design")
	readEnvelopeOfKind(t, u1, room.KindUserOnline)

	frame := fmt.Sprintf(`{"kind":"new-message","payload":{"id":"forged","senderId":"u2"},"timestamp":%d}`,
		time.Now().UnixMilli())
	ctx, cancel := contextWithTimeout(t)
	require.NoError(t, u2.Write(ctx, websocket.MessageText, []byte(frame)))

	// A legitimate relay after the forged frame proves ordering: if the
	// typing-start arrives first, the new-message was dropped.
	frame2 := `{"kind":"typing-start","payload":{}}`
	require.NoError(t, u2.Write(ctx, websocket.MessageText, []byte(frame2)))
	cancel()

	env := readEnvelope(t, u1)
	assert.Equal(t, room.KindTypingStart, env.Kind)
}

func TestGateway_DisconnectBroadcastsOffline(t *testing.T) {
	f := newGatewayFixture(t)

	u1 := f.connect(t, "u1", "direct", "u2")
	u2 := f.connect(t, "u2", "direct", "u1")
	readEnvelopeOfKind(t, u1, room.KindUserOnline)

	require.NoError(t, u2.Close(websocket.StatusNormalClosure, "done"))

	offline := readEnvelopeOfKind(t, u1, room.KindUserOffline)
	var presence struct {
		UserID string `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(offline.Payload, &presence))
	assert.Equal(t, "u2", presence.UserID)
}
