package mediasoup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlainTransport(t *testing.T, channel *Channel, payloadChannel *PayloadChannel, options PlainTransportOptions) *PlainTransport {
	t.Helper()
	router := newRouter(routerParams{
		internal:       internalData{RouterId: "router-1"},
		channel:        channel,
		payloadChannel: payloadChannel,
	})
	transport, err := router.CreatePlainTransport(context.Background(), options)
	require.NoError(t, err)
	return transport
}

func TestPlainTransportCreateCarriesTuple(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	engine.setResponse("router.createPlainTransport", map[string]interface{}{
		"tuple": map[string]interface{}{
			"localIp": "127.0.0.1", "localPort": 10000, "protocol": "udp",
		},
	})

	transport := newTestPlainTransport(t, channel, payloadChannel, PlainTransportOptions{
		ListenIp: TransportListenIp{Ip: "127.0.0.1"},
		RtcpMux:  true,
	})

	assert.Equal(t, "127.0.0.1", transport.Tuple().LocalIp)
	assert.Equal(t, 10000, transport.Tuple().LocalPort)
}

func TestPlainTransportConnectUpdatesTupleAndSrtp(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	engine.setResponse("router.createPlainTransport", map[string]interface{}{
		"tuple": map[string]interface{}{"localIp": "127.0.0.1", "localPort": 10000, "protocol": "udp"},
	})
	engine.setResponse("transport.connect", map[string]interface{}{
		"tuple": map[string]interface{}{
			"localIp": "127.0.0.1", "localPort": 10000, "remoteIp": "1.2.3.4", "remotePort": 5000, "protocol": "udp",
		},
		"srtpParameters": map[string]interface{}{
			"cryptoSuite": "AES_CM_128_HMAC_SHA1_80",
			"keyBase64":   "abc",
		},
	})

	transport := newTestPlainTransport(t, channel, payloadChannel, PlainTransportOptions{
		ListenIp:    TransportListenIp{Ip: "127.0.0.1"},
		EnableSrtp:  true,
		RtcpMux:     true,
	})

	err := transport.Connect(context.Background(), PlainTransportConnectOptions{Ip: "1.2.3.4", Port: 5000})
	require.NoError(t, err)

	assert.Equal(t, "1.2.3.4", transport.Tuple().RemoteIp)
	require.NotNil(t, transport.SrtpParameters())
	assert.Equal(t, "AES_CM_128_HMAC_SHA1_80", transport.SrtpParameters().CryptoSuite)
}

func TestPlainTransportTupleNotificationUpdatesState(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	transport := newTestPlainTransport(t, channel, payloadChannel, PlainTransportOptions{
		ListenIp: TransportListenIp{Ip: "127.0.0.1"},
		Comedia:  true,
	})

	fired := make(chan TransportTuple, 1)
	transport.On("tuple", func(tuple TransportTuple) { fired <- tuple })

	engine.notify(transport.Id(), "tuple", map[string]interface{}{
		"tuple": map[string]interface{}{"localIp": "127.0.0.1", "localPort": 10000, "remoteIp": "9.9.9.9", "remotePort": 4000, "protocol": "udp"},
	})

	select {
	case tuple := <-fired:
		assert.Equal(t, "9.9.9.9", tuple.RemoteIp)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tuple notification")
	}
}

func TestPlainTransportRejectsInvalidSctpStreams(t *testing.T) {
	channel, _ := newTestChannelPair()
	defer channel.Close()
	payloadChannel, _ := newTestPayloadChannelPair()
	defer payloadChannel.Close()

	router := newRouter(routerParams{
		internal:       internalData{RouterId: "router-1"},
		channel:        channel,
		payloadChannel: payloadChannel,
	})

	_, err := router.CreatePlainTransport(context.Background(), PlainTransportOptions{
		ListenIp:       TransportListenIp{Ip: "127.0.0.1"},
		EnableSctp:     true,
		NumSctpStreams: NumSctpStreams{OS: 0, MIS: 0},
	})
	assert.Error(t, err)
}
