package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionchat/pkg/types"
)

var start = time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)

func testSession() *types.Session {
	return &types.Session{
		ID:            "s1",
		RequesterID:   "alice",
		CounterpartID: "bob",
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		Status:        types.SessionStatusActive,
	}
}

func TestGuard_NonParticipantAlwaysDenied(t *testing.T) {
	g := NewGuard(DefaultGrace, DefaultGrace)
	session := testSession()

	for _, status := range []string{
		types.SessionStatusScheduled,
		types.SessionStatusActive,
		types.SessionStatusCompleted,
		types.SessionStatusCancelled,
	} {
		session.Status = status
		for _, now := range []time.Time{
			start.Add(-24 * time.Hour),
			start,
			start.Add(30 * time.Minute),
			start.Add(24 * time.Hour),
		} {
			for _, id := range []string{"mallory", "", "system"} {
				d := g.CanJoin(id, session, now)
				assert.False(t, d.Admit)
				assert.ErrorIs(t, d.Reason, ErrNotParticipant, "status=%s now=%s id=%q", status, now, id)
			}
		}
	}
}

func TestGuard_WindowBoundariesInclusive(t *testing.T) {
	g := NewGuard(10*time.Minute, 15*time.Minute)
	session := testSession()
	lower := start.Add(-10 * time.Minute)
	upper := session.EndTime.Add(15 * time.Minute)

	tests := []struct {
		name  string
		now   time.Time
		admit bool
	}{
		{"just before lower bound", lower.Add(-time.Nanosecond), false},
		{"exactly lower bound", lower, true},
		{"inside", start.Add(20 * time.Minute), true},
		{"exactly upper bound", upper, true},
		{"just after upper bound", upper.Add(time.Nanosecond), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, id := range []string{"alice", "bob"} {
				d := g.CanJoin(id, session, tt.now)
				assert.Equal(t, tt.admit, d.Admit)
				if !tt.admit {
					assert.ErrorIs(t, d.Reason, ErrOutsideWindow)
				}
			}
		})
	}
}

func TestGuard_RoleAndWindowReported(t *testing.T) {
	g := NewGuard(DefaultGrace, DefaultGrace)
	now := start.Add(5 * time.Minute)

	d := g.CanJoin("bob", testSession(), now)
	require.True(t, d.Admit)
	assert.Equal(t, types.RoleCounterpart, d.Role)
	assert.Equal(t, start.Add(-DefaultGrace), d.Window.Start)
	assert.Equal(t, start.Add(time.Hour+DefaultGrace), d.Window.End)
	assert.Equal(t, now, d.Now)
	assert.Empty(t, d.ReasonCode())
}

func TestGuard_CancelledBeforeWindow(t *testing.T) {
	g := NewGuard(DefaultGrace, DefaultGrace)
	session := testSession()
	session.Status = types.SessionStatusCancelled

	d := g.CanJoin("alice", session, start.Add(-48*time.Hour))
	assert.ErrorIs(t, d.Reason, ErrSessionCancelled)
	assert.Equal(t, "SessionCancelled", d.ReasonCode())
}

func TestGuard_CompletedStillAdmittedInsideWindow(t *testing.T) {
	g := NewGuard(DefaultGrace, DefaultGrace)
	session := testSession()
	session.Status = types.SessionStatusCompleted

	assert.True(t, g.CanJoin("alice", session, start.Add(time.Hour+5*time.Minute)).Admit)
}

func TestGuard_MissingSession(t *testing.T) {
	d := NewGuard(0, 0).CanJoin("alice", nil, start)
	assert.False(t, d.Admit)
	assert.ErrorIs(t, d.Reason, ErrSessionNotFound)
}

func TestDecision_Explain(t *testing.T) {
	g := NewGuard(DefaultGrace, DefaultGrace)
	session := testSession()

	early := g.CanJoin("alice", session, start.Add(-time.Hour))
	assert.Equal(t, "session opens at 2026-05-04T13:50:00Z", early.Explain())

	late := g.CanJoin("alice", session, start.Add(3*time.Hour))
	assert.Equal(t, "session closed at 2026-05-04T15:10:00Z", late.Explain())
}

func TestNewGuard_NegativeGraceClamped(t *testing.T) {
	g := NewGuard(-time.Minute, -time.Minute)
	assert.Zero(t, g.GraceBefore)
	assert.Zero(t, g.GraceAfter)
}
