package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSub_Roundtrip(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "quests")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "quests", "hello"))

	select {
	case msg := <-ch:
		assert.Equal(t, "quests", msg.Channel)
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestPubSub_OnlySubscribedChannels(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "a")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "b", "nope"))

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPubSub_CancelClosesChannel(t *testing.T) {
	ps := NewPubSub(8)
	ch, cancel, err := ps.Subscribe(context.Background(), "a")
	require.NoError(t, err)

	cancel()

	_, open := <-ch
	assert.False(t, open)
}
