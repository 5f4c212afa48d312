package streaming

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisMirror copies published events into a Redis Stream per session
// so external consumers can tail progress with XREAD. Mirroring is
// best effort; a Redis outage never blocks the research loop.
type RedisMirror struct {
	client *redis.Client
	logger *zap.Logger
	maxLen int64
	ttl    time.Duration
}

// NewRedisMirror wires a mirror onto the given client. maxLen bounds
// each stream with XADD MAXLEN ~.
func NewRedisMirror(client *redis.Client, logger *zap.Logger, maxLen int64, ttl time.Duration) *RedisMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLen <= 0 {
		maxLen = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisMirror{client: client, logger: logger, maxLen: maxLen, ttl: ttl}
}

// StreamKey returns the Redis Stream key for a session.
func StreamKey(sessionID string) string {
	return "reasoner:events:" + sessionID
}

// Mirror writes one event to the session's stream.
func (m *RedisMirror) Mirror(ctx context.Context, evt Event) {
	key := StreamKey(evt.SessionID)
	err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"stage":   string(evt.Stage),
			"seq":     evt.Seq,
			"payload": string(evt.Marshal()),
		},
	}).Err()
	if err != nil {
		m.logger.Warn("event mirror failed",
			zap.String("session_id", evt.SessionID),
			zap.Error(err))
		return
	}
	if err := m.client.Expire(ctx, key, m.ttl).Err(); err != nil {
		m.logger.Debug("stream expire failed", zap.Error(err))
	}
}

// Attach subscribes to the manager and mirrors everything published
// for sessionID until ctx is done. Run it in its own goroutine.
func (m *RedisMirror) Attach(ctx context.Context, mgr *Manager, sessionID string) {
	ch := mgr.Subscribe(sessionID, 64)
	defer mgr.Unsubscribe(sessionID, ch)
	m.drain(ctx, ch)
}

// AttachAll mirrors every session published on the manager.
func (m *RedisMirror) AttachAll(ctx context.Context, mgr *Manager) {
	ch := mgr.SubscribeAll(64)
	defer mgr.UnsubscribeAll(ch)
	m.drain(ctx, ch)
}

func (m *RedisMirror) drain(ctx context.Context, ch chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			m.Mirror(ctx, evt)
		}
	}
}
