package main

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionchat/internal/auth"
)

const testSecret = "command-test-secret-value"

func TestRun_TokenIssuesVerifiableToken(t *testing.T) {
	t.Setenv("SESSIONCHAT_AUTH_SECRET", testSecret)

	var out bytes.Buffer
	err := run(context.Background(), []string{"token", "-id", "ops", "-role", "operator", "-ttl", "5m"}, &out)
	require.NoError(t, err)

	authenticator, err := auth.NewAuthenticator(testSecret, "sessionchat")
	require.NoError(t, err)
	identity, err := authenticator.Authenticate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops", identity.ID)
	assert.Equal(t, "operator", identity.Role)
}

func TestRun_TokenRequiresID(t *testing.T) {
	t.Setenv("SESSIONCHAT_AUTH_SECRET", testSecret)

	err := run(context.Background(), []string{"token"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "-id is required")
}

func TestRun_MissingSecret(t *testing.T) {
	t.Setenv("SESSIONCHAT_AUTH_SECRET", "")

	err := run(context.Background(), []string{"token", "-id", "ops"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "failed to load configuration")
}

func TestRun_UnknownFlag(t *testing.T) {
	err := run(context.Background(), []string{"serve", "-bogus"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRun_ServeUntilCancelled(t *testing.T) {
	t.Setenv("SESSIONCHAT_AUTH_SECRET", testSecret)
	t.Setenv("SESSIONCHAT_HTTP_HOST", "127.0.0.1")
	t.Setenv("SESSIONCHAT_HTTP_PORT", "18090")
	t.Setenv("SESSIONCHAT_STORE_BACKEND", "memory")
	t.Setenv("SESSIONCHAT_LOG_FILE", filepath.Join(t.TempDir(), "sessionchat.log"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, nil, &bytes.Buffer{}) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18090/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}
