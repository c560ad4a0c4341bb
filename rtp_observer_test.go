package mediasoup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouterWithProducer(t *testing.T, channel *Channel, payloadChannel *PayloadChannel, producerId string) (*Router, *Producer) {
	t.Helper()
	caps, err := generateRouterRtpCapabilities([]RtpCodecCapability{
		{Kind: MediaKind_Audio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	})
	require.NoError(t, err)

	router := newRouter(routerParams{
		internal:       internalData{RouterId: "router-1"},
		data:           routerData{RtpCapabilities: caps},
		channel:        channel,
		payloadChannel: payloadChannel,
	})

	transport, err := router.CreateWebRtcTransport(context.Background(), WebRtcTransportOptions{
		ListenIps: []TransportListenIp{{Ip: "127.0.0.1"}},
		EnableUdp: true,
	})
	require.NoError(t, err)

	producer, err := transport.Produce(context.Background(), ProducerOptions{
		Id:   producerId,
		Kind: MediaKind_Audio,
		RtpParameters: RtpParameters{
			Codecs: []RtpCodecParameters{
				{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2},
			},
			Encodings: []RtpEncodingParameters{{Ssrc: 11111111}},
		},
	})
	require.NoError(t, err)

	return router, producer
}

func TestAudioLevelObserverVolumesResolvesProducerAndSkipsUnknown(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	router, producer := newTestRouterWithProducer(t, channel, payloadChannel, "producer-1")

	observer, err := router.CreateAudioLevelObserver(context.Background(), AudioLevelObserverOptions{})
	require.NoError(t, err)

	received := make(chan []AudioLevelObserverVolume, 1)
	observer.On("volumes", func(volumes []AudioLevelObserverVolume) { received <- volumes })

	engine.notify(observer.Id(), "volumes", []map[string]interface{}{
		{"producerId": "producer-1", "volume": -40},
		{"producerId": "unknown-producer", "volume": -10},
	})

	select {
	case volumes := <-received:
		require.Len(t, volumes, 1, "the unresolvable producer id must be silently dropped")
		assert.Same(t, producer, volumes[0].Producer)
		assert.Equal(t, -40, volumes[0].Volume)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for volumes notification")
	}
}

func TestAudioLevelObserverVolumesAllUnknownDoesNotEmit(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	router, _ := newTestRouterWithProducer(t, channel, payloadChannel, "producer-1")

	observer, err := router.CreateAudioLevelObserver(context.Background(), AudioLevelObserverOptions{})
	require.NoError(t, err)

	received := make(chan []AudioLevelObserverVolume, 1)
	observer.On("volumes", func(volumes []AudioLevelObserverVolume) { received <- volumes })

	engine.notify(observer.Id(), "volumes", []map[string]interface{}{
		{"producerId": "gone", "volume": -40},
	})

	select {
	case <-received:
		t.Fatal("volumes must not fire when every reported producer id is unresolvable")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAudioLevelObserverSilence(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	router, _ := newTestRouterWithProducer(t, channel, payloadChannel, "producer-1")

	observer, err := router.CreateAudioLevelObserver(context.Background(), AudioLevelObserverOptions{})
	require.NoError(t, err)

	fired := make(chan struct{}, 1)
	observer.On("silence", func() { fired <- struct{}{} })

	engine.notify(observer.Id(), "silence", nil)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for silence notification")
	}
}

func TestActiveSpeakerObserverDominantSpeakerResolvesProducer(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	router, producer := newTestRouterWithProducer(t, channel, payloadChannel, "producer-1")

	observer, err := router.CreateActiveSpeakerObserver(context.Background(), ActiveSpeakerObserverOptions{})
	require.NoError(t, err)

	received := make(chan *Producer, 1)
	observer.On("dominantspeaker", func(p *Producer) { received <- p })

	engine.notify(observer.Id(), "dominantspeaker", map[string]interface{}{"producerId": "producer-1"})

	select {
	case p := <-received:
		assert.Same(t, producer, p)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dominantspeaker notification")
	}
}

func TestActiveSpeakerObserverDominantSpeakerDropsUnknownProducer(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	router, _ := newTestRouterWithProducer(t, channel, payloadChannel, "producer-1")

	observer, err := router.CreateActiveSpeakerObserver(context.Background(), ActiveSpeakerObserverOptions{})
	require.NoError(t, err)

	received := make(chan *Producer, 1)
	observer.On("dominantspeaker", func(p *Producer) { received <- p })

	engine.notify(observer.Id(), "dominantspeaker", map[string]interface{}{"producerId": "gone"})

	select {
	case <-received:
		t.Fatal("dominantspeaker must not fire for an unresolvable producer id")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRtpObserverPauseResume(t *testing.T) {
	channel, _ := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	router, _ := newTestRouterWithProducer(t, channel, payloadChannel, "producer-1")

	observer, err := router.CreateAudioLevelObserver(context.Background(), AudioLevelObserverOptions{})
	require.NoError(t, err)

	assert.False(t, observer.Paused())
	require.NoError(t, observer.Pause(context.Background()))
	assert.True(t, observer.Paused())
	require.NoError(t, observer.Resume(context.Background()))
	assert.False(t, observer.Paused())
}
