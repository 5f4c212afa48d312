package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisMirrorWritesStream(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mirror := NewRedisMirror(client, zap.NewNop(), 0, 0)
	ctx := context.Background()

	mirror.Mirror(ctx, Event{
		SessionID: "sess-1",
		Stage:     StageCriticReviewing,
		Seq:       3,
		Timestamp: time.Now(),
	})

	entries, err := client.XRange(ctx, StreamKey("sess-1"), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(StageCriticReviewing), entries[0].Values["stage"])
	assert.Contains(t, entries[0].Values["payload"], `"session_id":"sess-1"`)
}

func TestRedisMirrorAttachTailsManager(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mgr := NewManager(16)
	mirror := NewRedisMirror(client, zap.NewNop(), 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mirror.Attach(ctx, mgr, "sess-2")

	// Give Attach a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	mgr.Publish(Event{SessionID: "sess-2", Stage: StageComplete})

	assert.Eventually(t, func() bool {
		n, err := client.XLen(context.Background(), StreamKey("sess-2")).Result()
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRedisMirrorSurvivesOutage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mirror := NewRedisMirror(client, zap.NewNop(), 0, 0)
	mr.Close()

	// Must not panic or block with Redis down.
	mirror.Mirror(context.Background(), Event{SessionID: "sess-3", Stage: StageFailed})
}
