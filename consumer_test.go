package mediasoup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsumer(channel *Channel, payloadChannel *PayloadChannel, paused, producerPaused bool) *Consumer {
	internal := internalData{ConsumerId: "consumer-1", ProducerId: "producer-1"}
	data := consumerData{ProducerId: "producer-1", Kind: MediaKind_Audio}
	return newConsumer(internal, data, channel, payloadChannel, nil, paused, producerPaused, ConsumerScore{})
}

func TestConsumerPauseResumeEdgeTriggered(t *testing.T) {
	channel, _ := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	consumer := newTestConsumer(channel, payloadChannel, false, false)

	var pauseFired, resumeFired int
	consumer.On("pause", func() { pauseFired++ })
	consumer.On("resume", func() { resumeFired++ })

	require.NoError(t, consumer.Pause(context.Background()))
	require.NoError(t, consumer.Pause(context.Background()))
	assert.Equal(t, 1, pauseFired, "pausing an already-paused consumer must not re-fire pause")

	require.NoError(t, consumer.Resume(context.Background()))
	require.NoError(t, consumer.Resume(context.Background()))
	assert.Equal(t, 1, resumeFired, "resuming an already-resumed consumer must not re-fire resume")
}

func TestConsumerResumeStaysPausedWhileProducerPaused(t *testing.T) {
	channel, _ := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	consumer := newTestConsumer(channel, payloadChannel, true, true)

	resumeFired := false
	consumer.On("resume", func() { resumeFired = true })

	require.NoError(t, consumer.Resume(context.Background()))
	assert.False(t, resumeFired, "consumer-level resume must not fire while the producer is still paused")
	assert.True(t, consumer.ProducerPaused())
}

func TestConsumerProducerCloseForcesClose(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	consumer := newTestConsumer(channel, payloadChannel, false, false)

	closed := make(chan struct{})
	consumer.On("producerclose", func() { close(closed) })

	engine.notify("consumer-1", "producerclose", nil)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for producerclose notification")
	}

	require.Eventually(t, consumer.Closed, time.Second, time.Millisecond)

	// forceClose issues no engine request; Close on an already-closed
	// consumer is a no-op that must not error or double-fire events.
	assert.NoError(t, consumer.Close(context.Background()))
}
