package mediasoup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeTransport(t *testing.T, channel *Channel, payloadChannel *PayloadChannel, options PipeTransportOptions) *PipeTransport {
	t.Helper()
	router := newRouter(routerParams{
		internal:       internalData{RouterId: "router-1"},
		channel:        channel,
		payloadChannel: payloadChannel,
	})
	transport, err := router.CreatePipeTransport(context.Background(), options)
	require.NoError(t, err)
	return transport
}

func TestPipeTransportConnectUpdatesTuple(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	engine.setResponse("router.createPipeTransport", map[string]interface{}{
		"tuple": map[string]interface{}{"localIp": "127.0.0.1", "localPort": 40000, "protocol": "udp"},
		"rtx":   false,
	})
	engine.setResponse("transport.connect", map[string]interface{}{
		"tuple": map[string]interface{}{
			"localIp": "127.0.0.1", "localPort": 40000, "remoteIp": "10.0.0.5", "remotePort": 41000, "protocol": "udp",
		},
	})

	transport := newTestPipeTransport(t, channel, payloadChannel, PipeTransportOptions{
		ListenIp: TransportListenIp{Ip: "127.0.0.1"},
	})

	err := transport.Connect(context.Background(), PipeTransportConnectOptions{Ip: "10.0.0.5", Port: 41000})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", transport.Tuple().RemoteIp)
}

func TestPipeTransportRejectsInvalidSctpStreams(t *testing.T) {
	channel, _ := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	router := newRouter(routerParams{
		internal:       internalData{RouterId: "router-1"},
		channel:        channel,
		payloadChannel: payloadChannel,
	})

	_, err := router.CreatePipeTransport(context.Background(), PipeTransportOptions{
		ListenIp:       TransportListenIp{Ip: "127.0.0.1"},
		EnableSctp:     true,
		NumSctpStreams: NumSctpStreams{OS: -1, MIS: 10},
	})
	assert.Error(t, err)
}

func TestPipeTransportConsumeProducesPipeTypeConsumer(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

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

	wt, err := router.CreateWebRtcTransport(context.Background(), WebRtcTransportOptions{
		ListenIps: []TransportListenIp{{Ip: "127.0.0.1"}},
		EnableUdp: true,
	})
	require.NoError(t, err)

	producer, err := wt.Produce(context.Background(), ProducerOptions{
		Kind: MediaKind_Audio,
		RtpParameters: RtpParameters{
			Codecs: []RtpCodecParameters{
				{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2},
			},
			Encodings: []RtpEncodingParameters{{Ssrc: 22222222}},
		},
	})
	require.NoError(t, err)

	engine.setResponse("router.createPipeTransport", map[string]interface{}{
		"tuple": map[string]interface{}{"localIp": "127.0.0.1", "localPort": 40000, "protocol": "udp"},
		"rtx":   false,
	})
	engine.setResponse("transport.consume", map[string]interface{}{"type": "pipe"})

	pt, err := router.CreatePipeTransport(context.Background(), PipeTransportOptions{
		ListenIp: TransportListenIp{Ip: "127.0.0.1"},
	})
	require.NoError(t, err)

	consumer, err := pt.Consume(context.Background(), ConsumerOptions{ProducerId: producer.Id()})
	require.NoError(t, err)
	assert.Equal(t, ConsumerType_Pipe, consumer.Type())
}
