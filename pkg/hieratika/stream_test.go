package hieratika_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/hieratika/pkg/hieratika"
)

func nextEvent(t *testing.T, sub *hieratika.Subscription) *hieratika.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Events():
		require.True(t, ok, "events channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for push message")
	}
	return nil
}

func TestStreamSubscribe(t *testing.T) {
	ctx := context.Background()
	client, srv := setupLoggedInClient(t)

	sub, err := hieratika.NewStream(client).Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	t.Run("reset opens the stream", func(t *testing.T) {
		msg := nextEvent(t, sub)
		assert.Equal(t, hieratika.KindReset, msg.Kind())
		assert.NotEmpty(t, msg.Tid)
	})

	require.True(t, srv.WaitForStreams(1, time.Second))

	t.Run("broadcasts arrive in order", func(t *testing.T) {
		srv.Broadcast(hieratika.NewPlantMessage(hieratika.Values{"GAIN": 1.0}))
		srv.Broadcast(hieratika.NewScheduleMessage("s1", hieratika.Values{"GAIN": 2.0}))
		srv.Broadcast(hieratika.NewLiveMessage(hieratika.Values{"TEMP": 21.5}))

		first := nextEvent(t, sub)
		assert.Equal(t, hieratika.KindPlant, first.Kind())
		assert.Equal(t, 1.0, first.Variables["GAIN"])

		second := nextEvent(t, sub)
		assert.Equal(t, hieratika.KindSchedule, second.Kind())
		assert.Equal(t, "s1", second.Schedule())

		third := nextEvent(t, sub)
		assert.Equal(t, hieratika.KindLive, third.Kind())
	})

	t.Run("undecodable payload is reported and skipped", func(t *testing.T) {
		srv.BroadcastRaw([]byte("{broken"))
		srv.Broadcast(hieratika.NewPlantMessage(hieratika.Values{"GAIN": 3.0}))

		select {
		case err := <-sub.Errors():
			assert.Contains(t, err.Error(), "failed to decode push message")
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for decode error")
		}

		msg := nextEvent(t, sub)
		assert.Equal(t, 3.0, msg.Variables["GAIN"])
	})
}

func TestStreamClose(t *testing.T) {
	client, srv := setupLoggedInClient(t)

	sub, err := hieratika.NewStream(client).Subscribe(context.Background())
	require.NoError(t, err)
	nextEvent(t, sub)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "close is idempotent")

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return srv.Streams() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamContextCancel(t *testing.T) {
	client, _ := setupLoggedInClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := hieratika.NewStream(client).Subscribe(ctx)
	require.NoError(t, err)
	nextEvent(t, sub)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end after cancel")
	}
	sub.Close()
}

func TestStreamInvalidToken(t *testing.T) {
	client, srv := setupLoggedInClient(t)
	srv.InvalidateTokens()

	fired := false
	client.OnInvalidToken(func() { fired = true })

	_, err := hieratika.NewStream(client).Subscribe(context.Background())
	assert.ErrorIs(t, err, hieratika.ErrInvalidToken)
	assert.True(t, fired)
}

func TestStreamServerGone(t *testing.T) {
	client, srv := setupLoggedInClient(t)
	srv.Close()

	_, err := hieratika.NewStream(client).Subscribe(context.Background())
	assert.True(t, hieratika.IsTransport(err))
}
