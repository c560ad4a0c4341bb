package mediasoup

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadChannelRequestRoundTrip(t *testing.T) {
	pc, engine := newTestPayloadChannelPair()
	defer pc.Close()

	engine.setResponse("transport.send", map[string]interface{}{"ok": true})

	resp := pc.Request(context.Background(), "transport.send", internalData{}, []byte("payload-bytes"))
	require.NoError(t, resp.Err())

	var data struct {
		Ok bool `json:"ok"`
	}
	require.NoError(t, resp.Unmarshal(&data))
	assert.True(t, data.Ok)
}

func TestPayloadChannelRequestRejectsOversizedEnvelope(t *testing.T) {
	pc, _ := newTestPayloadChannelPair()
	defer pc.Close()

	resp := pc.Request(context.Background(), "transport.send", internalData{}, nil,
		map[string]interface{}{"oversized": make([]byte, NSPayloadMaxLen+1)})
	assert.ErrorIs(t, resp.Err(), ErrMessageTooLong)
}

func TestPayloadChannelRequestRejectsOversizedPayload(t *testing.T) {
	pc, _ := newTestPayloadChannelPair()
	defer pc.Close()

	resp := pc.Request(context.Background(), "transport.send", internalData{}, make([]byte, NSPayloadMaxLen+1))
	assert.ErrorIs(t, resp.Err(), ErrPayloadTooLong)
}

func TestPayloadChannelNotifyIsFireAndForget(t *testing.T) {
	pc, engine := newTestPayloadChannelPair()
	defer pc.Close()

	err := pc.Notify("producer.send", internalData{ProducerId: "producer-1"}, []byte("rtp-bytes"))
	require.NoError(t, err)

	// The fake engine only replies to requests carrying a method, so a
	// notify leaves nothing pending; this just asserts it didn't block or
	// error writing the frame pair.
	time.Sleep(20 * time.Millisecond)
}

func TestPayloadChannelCloseWakesPendingRequests(t *testing.T) {
	// No engine answers on this pair, so the request stays pending until Close.
	requestR, requestW := io.Pipe()
	go io.Copy(io.Discard, requestR)
	responseR, _ := io.Pipe()
	pc := newPayloadChannel(responseR, requestW, 1)

	resultCh := make(chan *Response, 1)
	go func() {
		resultCh <- pc.Request(context.Background(), "transport.send", internalData{}, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	pc.Close()

	select {
	case resp := <-resultCh:
		assert.ErrorIs(t, resp.Err(), ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for request to wake on close")
	}
}
