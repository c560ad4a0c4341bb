package mediasoup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/tidwall/gjson"
)

// PayloadChannel is the second half of the two-channel protocol (spec.md
// §4.1): every message is a JSON envelope netstring immediately followed by
// a binary payload netstring (possibly empty). Unlike Channel it enforces a
// per-request timeout (payloadRequestTimeout). Fire-and-forget sends
// (DataProducer.Send, DirectTransport.SendRtcp) go through Notify instead.
type PayloadChannel struct {
	logger logr.Logger
	pid    int

	writer   io.Writer
	writerMu sync.Mutex

	nextID uint32

	pendingMu sync.Mutex
	pending   map[uint32]*pendingPayloadRequest

	subsMu sync.Mutex
	subs   map[string]func(event string, data, payload []byte)

	closed  int32
	closeCh chan struct{}
}

type pendingPayloadRequest struct {
	method string
	result chan *Response
}

func newPayloadChannel(reader io.Reader, writer io.Writer, pid int) *PayloadChannel {
	pc := &PayloadChannel{
		logger:  NewLogger(fmt.Sprintf("PayloadChannel[pid:%d]", pid)),
		pid:     pid,
		writer:  writer,
		pending: make(map[uint32]*pendingPayloadRequest),
		subs:    make(map[string]func(event string, data, payload []byte)),
		closeCh: make(chan struct{}),
	}
	go pc.readLoop(reader)
	return pc
}

// payloadRequestTimeout mirrors the original engine's backpressure-aware
// timeout: longer when more requests are already queued, so a burst of
// requests doesn't spuriously time out the tail of the queue.
func payloadRequestTimeout(queueLength int) time.Duration {
	ms := math.Round(1000.0 * (15.0 + 0.1*float64(queueLength)))
	return time.Duration(ms) * time.Millisecond
}

func (pc *PayloadChannel) readLoop(reader io.Reader) {
	r := bufio.NewReaderSize(reader, 64*1024)
	for {
		envelope, err := readNetstring(r)
		if err != nil {
			pc.logger.V(1).Info("payload channel closed", "reason", err.Error())
			pc.Close()
			return
		}
		payload, err := readNetstring(r)
		if err != nil {
			pc.logger.V(1).Info("payload channel closed mid-frame", "reason", err.Error())
			pc.Close()
			return
		}
		pc.handleFrame(envelope, payload)
	}
}

func (pc *PayloadChannel) handleFrame(envelope, payload []byte) {
	if len(envelope) == 0 {
		return
	}

	switch envelope[0] {
	case 'D':
		pc.logger.V(1).Info(string(envelope[1:]))
		return
	case 'W':
		pc.logger.Info(string(envelope[1:]))
		return
	case 'E':
		pc.logger.Error(nil, string(envelope[1:]))
		return
	case 'X':
		pc.logger.Info("dump", "line", string(envelope[1:]))
		return
	case '{':
	default:
		pc.logger.Error(nil, "unexpected payload channel message", "data", string(envelope))
		return
	}

	peeked := gjson.GetManyBytes(envelope, "id", "targetId", "accepted", "event")
	hasID, hasTarget := peeked[0].Exists(), peeked[1].Exists()

	switch {
	case hasTarget:
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		_ = json.Unmarshal(envelope, &env)
		pc.subsMu.Lock()
		handler := pc.subs[peeked[1].String()]
		pc.subsMu.Unlock()
		if handler == nil {
			pc.logger.V(1).Info("no subscriber for payload notification", "targetId", peeked[1].String())
			return
		}
		handler(peeked[3].String(), env.Data, payload)
	case hasID:
		pc.handleResponse(uint32(peeked[0].Uint()), peeked[2].Exists() && peeked[2].Bool(), envelope)
	default:
		pc.logger.Error(nil, "ignoring payload channel message with neither id nor targetId")
	}
}

func (pc *PayloadChannel) handleResponse(id uint32, accepted bool, envelope []byte) {
	pc.pendingMu.Lock()
	req, ok := pc.pending[id]
	if ok {
		delete(pc.pending, id)
	}
	pc.pendingMu.Unlock()

	if !ok {
		return
	}

	if accepted {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		_ = json.Unmarshal(envelope, &env)
		req.result <- &Response{data: env.Data}
		return
	}

	var env struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(envelope, &env)

	if isSoftErrorReason(env.Reason) {
		req.result <- &Response{}
		return
	}
	req.result <- &Response{err: &ResponseError{Method: req.method, Reason: env.Reason}}
}

// Subscribe registers a handler for payload-channel notifications (e.g. a
// Producer's "rtp" events) whose targetId equals id.
func (pc *PayloadChannel) Subscribe(id string, handler func(event string, data, payload []byte)) {
	pc.subsMu.Lock()
	pc.subs[id] = handler
	pc.subsMu.Unlock()
}

// Unsubscribe removes the handler registered for id.
func (pc *PayloadChannel) Unsubscribe(id string) {
	pc.subsMu.Lock()
	delete(pc.subs, id)
	pc.subsMu.Unlock()
}

type payloadRequestFrame struct {
	ID       uint32       `json:"id"`
	Method   string       `json:"method"`
	Internal internalData `json:"internal"`
	Data     interface{}  `json:"data,omitempty"`
}

// Request issues an envelope+payload request pair and waits for a reply,
// bounded by payloadRequestTimeout(current queue length) as well as ctx.
func (pc *PayloadChannel) Request(ctx context.Context, method string, internal internalData, payload []byte, data ...interface{}) *Response {
	if atomic.LoadInt32(&pc.closed) != 0 {
		return &Response{err: ErrChannelClosed}
	}

	id := atomic.AddUint32(&pc.nextID, 1)

	var body interface{}
	if len(data) > 0 {
		body = data[0]
	}

	frame := payloadRequestFrame{ID: id, Method: method, Internal: internal, Data: body}
	envelope, err := json.Marshal(frame)
	if err != nil {
		return &Response{err: &FailedToParseError{Method: method, Err: err}}
	}
	if len(envelope) > NSPayloadMaxLen {
		return &Response{err: ErrMessageTooLong}
	}
	if len(payload) > NSPayloadMaxLen {
		return &Response{err: ErrPayloadTooLong}
	}

	req := &pendingPayloadRequest{method: method, result: make(chan *Response, 1)}

	pc.pendingMu.Lock()
	queueLength := len(pc.pending)
	pc.pending[id] = req
	pc.pendingMu.Unlock()

	cleanup := func() {
		pc.pendingMu.Lock()
		delete(pc.pending, id)
		pc.pendingMu.Unlock()
	}

	pc.writerMu.Lock()
	writeErr := writeNetstring(pc.writer, envelope)
	if writeErr == nil {
		writeErr = writeNetstring(pc.writer, payload)
	}
	pc.writerMu.Unlock()
	if writeErr != nil {
		cleanup()
		return &Response{err: ErrChannelClosed}
	}

	timer := time.NewTimer(payloadRequestTimeout(queueLength))
	defer timer.Stop()

	select {
	case resp := <-req.result:
		return resp
	case <-pc.closeCh:
		cleanup()
		return &Response{err: ErrChannelClosed}
	case <-ctx.Done():
		cleanup()
		return &Response{err: ctx.Err()}
	case <-timer.C:
		cleanup()
		return &Response{err: &TimeoutError{Method: method}}
	}
}

// Notify sends a fire-and-forget envelope+payload pair (no response is
// expected), used by DataProducer.Send and DirectTransport.SendRtcp.
func (pc *PayloadChannel) Notify(event string, internal internalData, payload []byte, data ...interface{}) error {
	if atomic.LoadInt32(&pc.closed) != 0 {
		return ErrChannelClosed
	}

	var body interface{}
	if len(data) > 0 {
		body = data[0]
	}

	frame := struct {
		Event    string       `json:"event"`
		Internal internalData `json:"internal"`
		Data     interface{}  `json:"data,omitempty"`
	}{Event: event, Internal: internal, Data: body}

	envelope, err := json.Marshal(frame)
	if err != nil {
		return &FailedToParseError{Method: event, Err: err}
	}
	if len(envelope) > NSPayloadMaxLen {
		return ErrMessageTooLong
	}
	if len(payload) > NSPayloadMaxLen {
		return ErrPayloadTooLong
	}

	pc.writerMu.Lock()
	defer pc.writerMu.Unlock()
	if err := writeNetstring(pc.writer, envelope); err != nil {
		return ErrChannelClosed
	}
	return writeNetstring(pc.writer, payload)
}

// Close shuts the payload channel down, waking every pending request with
// ErrChannelClosed.
func (pc *PayloadChannel) Close() {
	if !atomic.CompareAndSwapInt32(&pc.closed, 0, 1) {
		return
	}
	close(pc.closeCh)

	pc.pendingMu.Lock()
	pending := pc.pending
	pc.pending = make(map[uint32]*pendingPayloadRequest)
	pc.pendingMu.Unlock()

	for _, req := range pending {
		req.result <- &Response{err: ErrChannelClosed}
	}
}
