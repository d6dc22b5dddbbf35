package bus

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic_PublishInOrder(t *testing.T) {
	topic := NewTopic[int]("numbers", nil)
	var got []string

	topic.Subscribe(func(v int) { got = append(got, "a") })
	topic.Subscribe(func(v int) { got = append(got, "b") })

	n := topic.Publish(1)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSubscription_UnsubscribeRemovesOnlyItsHandler(t *testing.T) {
	topic := NewTopic[string]("s", nil)
	calls := 0
	fn := func(string) { calls++ }

	first := topic.Subscribe(fn)
	topic.Subscribe(fn)
	require.Equal(t, 2, topic.Len())

	first.Unsubscribe()
	first.Unsubscribe()

	assert.Equal(t, 1, topic.Len())
	topic.Publish("x")
	assert.Equal(t, 1, calls)
}

func TestTopic_PanickingHandlerIsIsolated(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	topic := NewTopic[int]("p", logger)

	reached := false
	topic.Subscribe(func(int) { panic("boom") })
	topic.Subscribe(func(int) { reached = true })

	n := topic.Publish(1)

	assert.Equal(t, 1, n)
	assert.True(t, reached)
	assert.Contains(t, buf.String(), "handler panicked")
	assert.Contains(t, buf.String(), "boom")
}

func TestTopic_UnsubscribeDuringPublish(t *testing.T) {
	topic := NewTopic[int]("u", nil)
	var second *Subscription
	calls := 0

	topic.Subscribe(func(int) { second.Unsubscribe() })
	second = topic.Subscribe(func(int) { calls++ })

	topic.Publish(1)
	assert.Equal(t, 1, calls, "snapshot taken before the first handler ran")

	topic.Publish(2)
	assert.Equal(t, 1, calls)
}

func TestSubscription_NilSafe(t *testing.T) {
	var s *Subscription
	assert.NotPanics(t, s.Unsubscribe)
}
