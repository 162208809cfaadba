package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"sessionchat/pkg/types"
)

// RedisMirror keeps a hash of online identities and publishes each
// transition so other processes can follow presence without a websocket.
type RedisMirror struct {
	rdb     *redis.Client
	key     string
	channel string
}

// Transition is the payload published on every online/offline change.
type Transition struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
}

// NewRedisMirror connects to url (redis://...) or a bare host:port address.
func NewRedisMirror(ctx context.Context, url, prefix string) (*RedisMirror, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisMirror{
		rdb:     rdb,
		key:     prefix + ":presence",
		channel: prefix + ":presence-events",
	}, nil
}

func (m *RedisMirror) Online(ctx context.Context, record types.PresenceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := m.rdb.HSet(ctx, m.key, record.Identity, data).Err(); err != nil {
		return err
	}
	return m.publish(ctx, Transition{Identity: record.Identity, Online: true})
}

func (m *RedisMirror) Offline(ctx context.Context, identity string) error {
	if err := m.rdb.HDel(ctx, m.key, identity).Err(); err != nil {
		return err
	}
	return m.publish(ctx, Transition{Identity: identity, Online: false})
}

// Members lists identities currently recorded in redis, across all processes.
func (m *RedisMirror) Members(ctx context.Context) ([]string, error) {
	return m.rdb.HKeys(ctx, m.key).Result()
}

// Reset clears the hash. Called on startup since in-memory presence starts empty.
func (m *RedisMirror) Reset(ctx context.Context) error {
	return m.rdb.Del(ctx, m.key).Err()
}

func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}

func (m *RedisMirror) publish(ctx context.Context, t Transition) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return m.rdb.Publish(ctx, m.channel, data).Err()
}
