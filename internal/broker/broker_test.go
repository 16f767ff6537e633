package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New[string](4)

	ch1, unsub1 := b.Subscribe("state")
	ch2, unsub2 := b.Subscribe("state")
	defer unsub1()
	defer unsub2()

	b.Publish("state", "capturing")

	select {
	case msg := <-ch1:
		assert.Equal(t, "capturing", msg)
	case <-time.After(time.Second):
		t.Fatal("ch1 never received the message")
	}
	select {
	case msg := <-ch2:
		assert.Equal(t, "capturing", msg)
	case <-time.After(time.Second):
		t.Fatal("ch2 never received the message")
	}
}

func TestPublishToTopicWithNoSubscribersIsNoOp(t *testing.T) {
	b := New[string](4)
	assert.NotPanics(t, func() { b.Publish("nobody-listening", "x") })
}

func TestPublishDropsOnFullChannelRatherThanBlocking(t *testing.T) {
	b := New[string](1)
	ch, unsub := b.Subscribe("state")
	defer unsub()

	done := make(chan struct{})
	go func() {
		b.Publish("state", "a")
		b.Publish("state", "b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	require.Len(t, ch, 1)
}

func TestUnsubscribeClosesChannelAndIsIdempotent(t *testing.T) {
	b := New[string](1)
	ch, unsub := b.Subscribe("state")

	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestCloseTopicClosesAllSubscribers(t *testing.T) {
	b := New[string](1)
	ch1, _ := b.Subscribe("state")
	ch2, _ := b.Subscribe("state")

	b.CloseTopic("state")

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}
