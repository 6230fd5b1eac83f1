package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/types"
)

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	bus := NewBus(log.NewNopLogger())
	ch := bus.Subscribe("client-a")

	header := &types.Header{Height: 5}
	bus.PublishBlockNew(header, false)

	select {
	case ev := <-ch:
		require.Equal(t, BlockNew, ev.Kind)
		require.Equal(t, int64(5), ev.Header.Height)
		require.False(t, ev.SkipBroadcast)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(log.NewNopLogger())
	ch := bus.Subscribe("client-b")
	bus.Unsubscribe("client-b")

	_, ok := <-ch
	require.False(t, ok)
}

func TestPublishDropsForSlowSubscriberWithoutBlocking(t *testing.T) {
	bus := NewBus(log.NewNopLogger())
	bus.Subscribe("client-c")

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			bus.PublishBlockNew(&types.Header{Height: int64(i)}, false)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}

func TestMarshalRoundTrips(t *testing.T) {
	ev := Event{Kind: ForkDetected, Header: &types.Header{Height: 7}}
	payload, err := Marshal(ev)
	require.NoError(t, err)
	require.Contains(t, string(payload), "FORK_DETECTED")
}
