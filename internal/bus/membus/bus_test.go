package membus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenfi/factorpool/internal/domain"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exact, err := b.Subscribe(ctx, domain.ChannelInvoice)
	require.NoError(t, err)
	pattern, err := b.Subscribe(ctx, "ledger.*")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, domain.ChannelInvoice, []byte("created")))
	require.NoError(t, b.Publish(ctx, domain.ChannelPool, []byte("deposit")))

	assert.Equal(t, []byte("created"), <-exact)
	assert.Equal(t, []byte("created"), <-pattern)
	assert.Equal(t, []byte("deposit"), <-pattern)

	select {
	case msg := <-exact:
		t.Fatalf("exact subscriber got unexpected message %q", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, "ledger.*")
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed after cancel")
	}
}

func TestStreamRead(t *testing.T) {
	b := New()
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish(ctx, domain.ChannelPool, []byte(p)))
	}

	msgs, err := b.StreamRead(ctx, domain.ChannelPool, "0", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []byte("a"), msgs[0].Payload)

	// Resume after the second message.
	msgs, err = b.StreamRead(ctx, domain.ChannelPool, msgs[1].ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("c"), msgs[0].Payload)

	msgs, err = b.StreamRead(ctx, "ledger.unknown", "0", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
