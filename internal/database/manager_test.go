package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionchat/internal/storetest"
	dbconfig "sessionchat/pkg/database"
	"sessionchat/pkg/interfaces"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, m.Migrate())
	return m
}

func TestManager_Store(t *testing.T) {
	storetest.Run(t, func(t *testing.T) interfaces.Store { return newTestManager(t) })
}

func TestManager_RejectsInvalidConfig(t *testing.T) {
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = ""
	_, err := NewManager(cfg, nil)
	assert.Error(t, err)
}

func TestManager_HealthCheck(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.HealthCheck(context.Background()))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close is idempotent")
}

func TestManager_WriteAfterClose(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Close())

	err := m.CreateSession(context.Background(), storetest.Session("s1"))
	assert.ErrorIs(t, err, ErrManagerClosed)
}
