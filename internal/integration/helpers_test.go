package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sessionchat/internal/api"
	"sessionchat/internal/app"
	"sessionchat/internal/config"
	"sessionchat/internal/protocol"
	"sessionchat/pkg/types"
)

const operator = "ops"

// harness runs the fully wired service on a temporary SQLite database.
type harness struct {
	t      *testing.T
	app    *app.Application
	server *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.Secret = "integration-test-secret"
	cfg.Store.Backend = config.BackendSQLite
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")

	application, err := app.NewApplication(cfg, zap.NewNop())
	require.NoError(t, err)

	h := &harness{t: t, app: application, server: httptest.NewServer(application.Handler())}
	t.Cleanup(func() {
		h.server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return h
}

func (h *harness) token(identity string) string {
	h.t.Helper()
	role := ""
	if identity == operator {
		role = api.RoleOperator
	}
	tok, err := h.app.Authenticator().Issue(types.Identity{ID: identity, Role: role}, time.Hour)
	require.NoError(h.t, err)
	return tok
}

// call performs an API request as identity and decodes the response into dst
// when dst is not nil. It returns the status code.
func (h *harness) call(method, path, identity string, body, dst any) int {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(h.t, err)
	req.Header.Set("Authorization", "Bearer "+h.token(identity))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	if dst != nil && resp.StatusCode < 300 {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

func (h *harness) createSession(id, requester, counterpart string, start, end time.Time) {
	h.t.Helper()
	status := h.call(http.MethodPost, "/api/sessions", operator, map[string]any{
		"id":             id,
		"requester_id":   requester,
		"counterpart_id": counterpart,
		"start_time":     start,
		"end_time":       end,
	}, nil)
	require.Equal(h.t, http.StatusCreated, status)
}

func (h *harness) history(sessionID, identity string) []*types.ChatMessage {
	h.t.Helper()
	var page api.MessagesResponse
	status := h.call(http.MethodGet, "/api/sessions/"+sessionID+"/messages?limit=500", identity, nil, &page)
	require.Equal(h.t, http.StatusOK, status)
	return page.Messages
}

type wsClient struct {
	t    *testing.T
	conn *gws.Conn
}

func (h *harness) dial(identity string) *wsClient {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?token=" + h.token(identity)
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(h.t, err)
	c := &wsClient{t: h.t, conn: conn}
	h.t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *wsClient) send(frameType string, payload any) {
	c.t.Helper()
	data, err := protocol.EncodeCommand(frameType, "", payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(gws.TextMessage, data))
}

// waitFor reads events until one of frameType arrives.
func (c *wsClient) waitFor(frameType string) protocol.Event {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", frameType)
		ev, _, err := protocol.DecodeEvent(data)
		require.NoError(c.t, err)
		if ev.EventType() == frameType {
			return ev
		}
	}
}

func (c *wsClient) join(sessionID string) protocol.Event {
	c.t.Helper()
	c.send(protocol.TypeJoin, protocol.JoinPayload{SessionID: sessionID})
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		ev, _, err := protocol.DecodeEvent(data)
		require.NoError(c.t, err)
		switch ev.EventType() {
		case protocol.TypeSessionJoined, protocol.TypeAccessDenied:
			return ev
		}
	}
}

func (c *wsClient) close() {
	_ = c.conn.Close()
}
