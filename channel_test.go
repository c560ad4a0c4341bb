package mediasoup

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelRequestRoundTrip(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()

	engine.setResponse("worker.dump", map[string]interface{}{"pid": 1234})

	resp := channel.Request(context.Background(), "worker.dump", internalData{})
	require.NoError(t, resp.Err())

	var dump struct {
		Pid int `json:"pid"`
	}
	require.NoError(t, resp.Unmarshal(&dump))
	assert.Equal(t, 1234, dump.Pid)
}

func TestChannelRequestSoftErrorIsNotAnError(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()

	engine.setError("producer.close", "Producer not found")

	resp := channel.Request(context.Background(), "producer.close", internalData{})
	assert.NoError(t, resp.Err())
	assert.Empty(t, resp.Data())
}

func TestChannelRequestHardErrorIsReturned(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()

	engine.setError("transport.connect", "invalid dtls parameters")

	resp := channel.Request(context.Background(), "transport.connect", internalData{})
	require.Error(t, resp.Err())
	var respErr *ResponseError
	assert.ErrorAs(t, resp.Err(), &respErr)
	assert.Equal(t, "invalid dtls parameters", respErr.Reason)
}

func TestChannelRequestHonorsContextCancellation(t *testing.T) {
	requestR, requestW := io.Pipe()
	go io.Copy(io.Discard, requestR)
	responseR, _ := io.Pipe()
	channel := newChannel(responseR, requestW, 1)
	defer channel.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := channel.Request(ctx, "worker.dump", internalData{})
	assert.ErrorIs(t, resp.Err(), context.Canceled)
}

func TestChannelCloseWakesPendingRequests(t *testing.T) {
	requestR, requestW := io.Pipe()
	go io.Copy(io.Discard, requestR)
	responseR, _ := io.Pipe()
	channel := newChannel(responseR, requestW, 1)

	var resp *Response
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp = channel.Request(context.Background(), "worker.dump", internalData{})
	}()

	time.Sleep(20 * time.Millisecond)
	channel.Close()
	wg.Wait()

	assert.ErrorIs(t, resp.Err(), ErrChannelClosed)
}

func TestChannelMarkWorkerClosingBlocksOtherMethods(t *testing.T) {
	channel, _ := newTestChannelPair()
	defer channel.Close()

	channel.MarkWorkerClosing()

	resp := channel.Request(context.Background(), "worker.dump", internalData{})
	assert.ErrorIs(t, resp.Err(), ErrChannelClosed)
}

func TestChannelSubscribeUnsubscribeRoutesNotifications(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()

	received := make(chan string, 1)
	channel.Subscribe("producer-1", func(event string, data []byte) {
		received <- event
	})

	engine.notify("producer-1", "score", nil)
	select {
	case event := <-received:
		assert.Equal(t, "score", event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}

	channel.Unsubscribe("producer-1")
	engine.notify("producer-1", "score", nil)
	select {
	case <-received:
		t.Fatal("received notification after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBufferMessagesForDelaysThenDrains(t *testing.T) {
	channel, engine := newTestChannelPair()
	defer channel.Close()

	release := channel.BufferMessagesFor("transport-1")

	received := make(chan string, 4)
	channel.Subscribe("transport-1", func(event string, data []byte) {
		received <- event
	})

	engine.notify("transport-1", "trace", nil)
	engine.notify("transport-1", "sctpstatechange", nil)
	time.Sleep(30 * time.Millisecond)

	select {
	case <-received:
		t.Fatal("notification delivered before release")
	default:
	}

	release()

	var got []string
	for len(got) < 2 {
		select {
		case e := <-received:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for buffered notifications")
		}
	}
	assert.Equal(t, []string{"trace", "sctpstatechange"}, got)
}
