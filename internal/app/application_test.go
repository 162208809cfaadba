package app

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sessionchat/internal/api"
	"sessionchat/internal/config"
	"sessionchat/internal/protocol"
	"sessionchat/pkg/types"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.Secret = "application-test-secret"
	cfg.HTTP.Host = "127.0.0.1"
	cfg.Store.Backend = backend
	cfg.Database.Path = filepath.Join(t.TempDir(), "chat.db")
	cfg.Badger.Path = ""
	return cfg
}

func token(t *testing.T, app *Application, id, role string) string {
	t.Helper()
	tok, err := app.Authenticator().Issue(types.Identity{ID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.Auth.Secret = ""

	_, err := NewApplication(cfg, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestApplication_Backends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite, config.BackendBadger} {
		t.Run(backend, func(t *testing.T) {
			app, err := NewApplication(testConfig(t, backend), zap.NewNop())
			require.NoError(t, err)

			server := httptest.NewServer(app.Handler())
			defer server.Close()

			resp, err := http.Get(server.URL + "/health")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			assert.NoError(t, app.Stop(ctx))
		})
	}
}

func TestApplication_EndToEnd(t *testing.T) {
	app, err := NewApplication(testConfig(t, config.BackendSQLite), zap.NewNop())
	require.NoError(t, err)
	server := httptest.NewServer(app.Handler())
	defer server.Close()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Stop(ctx)
	}()

	now := time.Now().UTC()
	body, err := json.Marshal(map[string]any{
		"id":             "e2e",
		"requester_id":   "alice",
		"counterpart_id": "bob",
		"start_time":     now.Add(-5 * time.Minute),
		"end_time":       now.Add(time.Hour),
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/sessions", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, app, "ops", api.RoleOperator))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token(t, app, "alice", "")
	conn, _, err := gws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() protocol.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, _, err := protocol.DecodeEvent(data)
		require.NoError(t, err)
		return ev
	}
	send := func(frameType string, payload any) {
		t.Helper()
		data, err := protocol.EncodeCommand(frameType, "", payload)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(gws.TextMessage, data))
	}

	assert.Equal(t, protocol.TypeOnlineUsers, read().EventType())

	send(protocol.TypeJoin, protocol.JoinPayload{SessionID: "e2e"})
	assert.Equal(t, protocol.TypeSessionJoined, read().EventType())
	assert.Equal(t, protocol.TypeOnlineUsers, read().EventType())

	send(protocol.TypeSend, protocol.SendPayload{SessionID: "e2e", Body: "persisted"})
	msg, ok := read().(protocol.NewMessage)
	require.True(t, ok)
	assert.Equal(t, int64(1), msg.Message.Sequence)

	req, err = http.NewRequest(http.MethodGet, server.URL+"/api/sessions/e2e/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, app, "bob", ""))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page api.MessagesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "persisted", page.Messages[0].Body)
}

func TestApplication_StartAndStop(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.HTTP.Port = 18089

	app, err := NewApplication(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	assert.Equal(t, "127.0.0.1:18089", app.Addr())

	resp, err := http.Get("http://" + app.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(stopCtx))

	_, err = http.Get("http://" + app.Addr() + "/health")
	assert.Error(t, err)
}
