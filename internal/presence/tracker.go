// Package presence tracks which identities currently hold a live connection.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"sessionchat/pkg/types"
)

// Mirror receives online/offline transitions. Calls are best-effort.
type Mirror interface {
	Online(ctx context.Context, record types.PresenceRecord) error
	Offline(ctx context.Context, identity string) error
}

// MemberLister is implemented by mirrors that can list identities online
// in any process.
type MemberLister interface {
	Members(ctx context.Context) ([]string, error)
}

// Tracker is the process-wide identity -> connections map.
// An identity is online while it has at least one live record.
type Tracker struct {
	mu sync.RWMutex
	// mirrorMu orders mirror writes; it is never taken while holding mu.
	mirrorMu    sync.Mutex
	byIdentity  map[string]map[string]types.PresenceRecord
	connections map[string]string
	mirror      Mirror
	logger      *zap.Logger
	now         func() time.Time
}

// NewTracker creates an empty tracker. mirror may be nil.
func NewTracker(mirror Mirror, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		byIdentity:  make(map[string]map[string]types.PresenceRecord),
		connections: make(map[string]string),
		mirror:      mirror,
		logger:      logger.Named("presence"),
		now:         time.Now,
	}
}

// Register adds a live record for the connection and reports whether the
// identity just came online. Registering a known connection id is a no-op.
func (t *Tracker) Register(identity types.Identity, connectionID string) bool {
	t.mu.Lock()
	if _, ok := t.connections[connectionID]; ok {
		t.mu.Unlock()
		return false
	}

	record := types.PresenceRecord{
		Identity:     identity.ID,
		Role:         identity.Role,
		Contact:      identity.Contact,
		ConnectionID: connectionID,
		ConnectedAt:  t.now(),
		Live:         true,
	}
	conns, ok := t.byIdentity[identity.ID]
	if !ok {
		conns = make(map[string]types.PresenceRecord)
		t.byIdentity[identity.ID] = conns
	}
	conns[connectionID] = record
	t.connections[connectionID] = identity.ID
	cameOnline := len(conns) == 1
	t.mu.Unlock()

	if cameOnline {
		t.syncMirror(identity.ID)
	}
	return cameOnline
}

// Unregister removes the connection's record. It returns the identity and
// whether that identity just went offline. Unknown connections are ignored.
func (t *Tracker) Unregister(connectionID string) (string, bool) {
	t.mu.Lock()
	identity, ok := t.connections[connectionID]
	if !ok {
		t.mu.Unlock()
		return "", false
	}
	delete(t.connections, connectionID)

	conns := t.byIdentity[identity]
	delete(conns, connectionID)
	wentOffline := len(conns) == 0
	if wentOffline {
		delete(t.byIdentity, identity)
	}
	t.mu.Unlock()

	if wentOffline {
		t.syncMirror(identity)
	}
	return identity, wentOffline
}

// syncMirror writes the current state of identity to the mirror. The state is
// read under mirrorMu, so the last write always matches the tracker even when
// transitions race.
func (t *Tracker) syncMirror(identity string) {
	if t.mirror == nil {
		return
	}
	t.mirrorMu.Lock()
	defer t.mirrorMu.Unlock()

	t.mu.RLock()
	records := lo.Values(t.byIdentity[identity])
	t.mu.RUnlock()

	if len(records) == 0 {
		if err := t.mirror.Offline(context.Background(), identity); err != nil {
			t.logger.Warn("presence mirror offline failed", zap.String("identity", identity), zap.Error(err))
		}
		return
	}
	first := lo.MinBy(records, func(a, b types.PresenceRecord) bool { return a.ConnectedAt.Before(b.ConnectedAt) })
	if err := t.mirror.Online(context.Background(), first); err != nil {
		t.logger.Warn("presence mirror online failed", zap.String("identity", identity), zap.Error(err))
	}
}

// IsOnline reports whether identity has any live connection.
func (t *Tracker) IsOnline(identity string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byIdentity[identity]) > 0
}

// OnlineIdentities returns the sorted identities with at least one live connection.
func (t *Tracker) OnlineIdentities() []string {
	t.mu.RLock()
	ids := lo.Keys(t.byIdentity)
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// ClusterOnline lists identities online in any process when the mirror can
// list them. It returns nil without a listing mirror.
func (t *Tracker) ClusterOnline(ctx context.Context) ([]string, error) {
	lister, ok := t.mirror.(MemberLister)
	if !ok {
		return nil, nil
	}
	remote, err := lister.Members(ctx)
	if err != nil {
		return nil, err
	}
	ids := lo.Uniq(append(remote, t.OnlineIdentities()...))
	sort.Strings(ids)
	return ids, nil
}

// Snapshot returns every live record ordered by identity then connect time.
func (t *Tracker) Snapshot() []types.PresenceRecord {
	t.mu.RLock()
	records := lo.FlatMap(lo.Values(t.byIdentity), func(conns map[string]types.PresenceRecord, _ int) []types.PresenceRecord {
		return lo.Values(conns)
	})
	t.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Identity != records[j].Identity {
			return records[i].Identity < records[j].Identity
		}
		if !records[i].ConnectedAt.Equal(records[j].ConnectedAt) {
			return records[i].ConnectedAt.Before(records[j].ConnectedAt)
		}
		return records[i].ConnectionID < records[j].ConnectionID
	})
	return records
}
