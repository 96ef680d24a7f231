package hieratika_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/hieratika/pkg/hieratika"
)

// setupTestRelay creates a relay connected to a miniredis instance
func setupTestRelay(t *testing.T) (*hieratika.Relay, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	relay, err := hieratika.NewRelay(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { relay.Close() })

	return relay, mr
}

func TestNewRelay(t *testing.T) {
	t.Run("creates relay successfully", func(t *testing.T) {
		relay, _ := setupTestRelay(t)
		assert.Equal(t, "hieratika:test-instance:stream", relay.Channel())
		assert.NoError(t, relay.Ping(context.Background()))
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := hieratika.NewRelay(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestRelayPublishSubscribe(t *testing.T) {
	relay, _ := setupTestRelay(t)
	ctx := context.Background()

	sub, err := relay.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, relay.Publish(ctx, hieratika.NewScheduleMessage("s1", hieratika.Values{"A": 1.0})))
	require.NoError(t, relay.Publish(ctx, hieratika.NewLiveMessage(hieratika.Values{"T": 2.0})))

	first := nextEvent(t, sub)
	assert.Equal(t, hieratika.KindSchedule, first.Kind())
	assert.Equal(t, "s1", first.Schedule())

	second := nextEvent(t, sub)
	assert.Equal(t, hieratika.KindLive, second.Kind())
}

func TestRelayIgnoresOtherInstances(t *testing.T) {
	relay, mr := setupTestRelay(t)
	ctx := context.Background()

	other, err := hieratika.NewRelay(&redis.Options{Addr: mr.Addr()}, "other-instance")
	require.NoError(t, err)
	defer other.Close()

	sub, err := relay.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, other.Publish(ctx, hieratika.NewPlantMessage(hieratika.Values{"X": 1.0})))
	require.NoError(t, relay.Publish(ctx, hieratika.NewPlantMessage(hieratika.Values{"Y": 1.0})))

	msg := nextEvent(t, sub)
	assert.Contains(t, msg.Variables, "Y")
	assert.NotContains(t, msg.Variables, "X")
}

func TestRelayForward(t *testing.T) {
	relay, _ := setupTestRelay(t)
	client, srv := setupLoggedInClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	downstream, err := relay.Subscribe(ctx)
	require.NoError(t, err)
	defer downstream.Close()

	upstream, err := hieratika.NewStream(client).Subscribe(ctx)
	require.NoError(t, err)
	defer upstream.Close()

	done := make(chan int, 1)
	go func() {
		n, _ := relay.Forward(ctx, upstream)
		done <- n
	}()

	reset := nextEvent(t, downstream)
	assert.Equal(t, hieratika.KindReset, reset.Kind())

	require.True(t, srv.WaitForStreams(1, time.Second))
	srv.Broadcast(hieratika.NewPlantMessage(hieratika.Values{"GAIN": 4.0}))

	msg := nextEvent(t, downstream)
	assert.Equal(t, hieratika.KindPlant, msg.Kind())
	assert.Equal(t, 4.0, msg.Variables["GAIN"])

	cancel()
	select {
	case n := <-done:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("forward did not stop after cancel")
	}
}
