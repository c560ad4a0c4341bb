package mediasoup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/tidwall/gjson"
)

// Response wraps the outcome of one Channel or PayloadChannel request,
// matching the shape surfaced by anjingxw-mediasoup-go call sites
// (`resp := consumer.channel.Request(...); resp.Err()`/`resp.Unmarshal(&v)`).
type Response struct {
	data json.RawMessage
	err  error
}

// Err returns the request's error, if any.
func (r *Response) Err() error { return r.err }

// Data returns the raw `data` field of a successful response.
func (r *Response) Data() []byte { return r.data }

// Unmarshal decodes the response's `data` field into v. It is a no-op
// returning nil when the response carried no data (soft-error default or a
// request whose response type is unit).
func (r *Response) Unmarshal(v interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(r.data) == 0 {
		return nil
	}
	return json.Unmarshal(r.data, v)
}

type pendingRequest struct {
	method string
	result chan *Response
}

// Channel is the control-channel half of the two-channel protocol (spec.md
// §4.1): framed JSON requests/responses plus notifications, keyed by
// target id.
type Channel struct {
	logger logr.Logger
	pid    int

	writer   io.Writer
	writerMu sync.Mutex

	nextID uint32

	pendingMu sync.Mutex
	pending   map[uint32]*pendingRequest

	subsMu sync.Mutex
	subs   map[string]func(event string, data []byte)

	bufferMu  sync.Mutex
	buffering map[string][][]byte

	closed        int32
	workerClosing int32

	closeCh chan struct{}
}

func newChannel(reader io.Reader, writer io.Writer, pid int) *Channel {
	c := &Channel{
		logger:    NewLogger(fmt.Sprintf("Channel[pid:%d]", pid)),
		pid:       pid,
		writer:    writer,
		pending:   make(map[uint32]*pendingRequest),
		subs:      make(map[string]func(event string, data []byte)),
		buffering: make(map[string][][]byte),
		closeCh:   make(chan struct{}),
	}
	go c.readLoop(reader)
	return c
}

func (c *Channel) readLoop(reader io.Reader) {
	r := bufio.NewReaderSize(reader, 64*1024)
	for {
		frame, err := readNetstring(r)
		if err != nil {
			c.logger.V(1).Info("channel closed", "reason", err.Error())
			c.Close()
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Channel) handleFrame(frame []byte) {
	if len(frame) == 0 {
		return
	}

	switch frame[0] {
	case 'D':
		c.logger.V(1).Info(string(frame[1:]))
		return
	case 'W':
		c.logger.Info(string(frame[1:]))
		return
	case 'E':
		c.logger.Error(nil, string(frame[1:]))
		return
	case 'X':
		c.logger.Info("dump", "line", string(frame[1:]))
		return
	case '{':
		// fall through to JSON handling below
	default:
		c.logger.Error(nil, "unexpected channel message", "data", string(frame))
		return
	}

	// Peek the discriminating fields with gjson before committing to a full
	// json.Unmarshal into a typed struct.
	peeked := gjson.GetManyBytes(frame, "id", "targetId", "accepted", "event")
	hasID, hasTarget := peeked[0].Exists(), peeked[1].Exists()

	switch {
	case hasTarget:
		c.handleNotification(peeked[1].String(), peeked[3].String(), frame)
	case hasID:
		c.handleResponse(uint32(peeked[0].Uint()), peeked[2].Exists() && peeked[2].Bool(), frame)
	default:
		c.logger.Error(nil, "ignoring channel message with neither id nor targetId", "data", string(frame))
	}
}

func (c *Channel) handleResponse(id uint32, accepted bool, frame []byte) {
	c.pendingMu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.V(1).Info("received response does not match any sent request", "id", id)
		return
	}

	if accepted {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		_ = json.Unmarshal(frame, &env)
		req.result <- &Response{data: env.Data}
		return
	}

	var env struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(frame, &env)

	if isSoftErrorReason(env.Reason) {
		req.result <- &Response{}
		return
	}
	req.result <- &Response{err: &ResponseError{Method: req.method, Reason: env.Reason}}
}

func (c *Channel) handleNotification(targetID, event string, frame []byte) {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(frame, &env)

	c.bufferMu.Lock()
	if buf, buffering := c.buffering[targetID]; buffering {
		c.buffering[targetID] = append(buf, frame)
		c.bufferMu.Unlock()
		return
	}
	c.bufferMu.Unlock()

	c.subsMu.Lock()
	handler := c.subs[targetID]
	c.subsMu.Unlock()

	if handler == nil {
		c.logger.V(1).Info("no subscriber for notification", "targetId", targetID, "event", event)
		return
	}
	handler(event, env.Data)
}

// Subscribe registers a handler for notifications whose targetId equals id.
func (c *Channel) Subscribe(id string, handler func(event string, data []byte)) {
	c.subsMu.Lock()
	c.subs[id] = handler
	c.subsMu.Unlock()
}

// Unsubscribe removes the handler registered for id.
func (c *Channel) Unsubscribe(id string) {
	c.subsMu.Lock()
	delete(c.subs, id)
	c.subsMu.Unlock()
}

// BufferMessagesFor buffers notifications for id until the returned release
// function is called (typically via defer), at which point buffered
// notifications are drained into whatever handler was registered for id in
// the meantime (spec.md §4.1 "BufferMessagesGuard").
func (c *Channel) BufferMessagesFor(id string) (release func()) {
	c.bufferMu.Lock()
	if _, ok := c.buffering[id]; !ok {
		c.buffering[id] = nil
	}
	c.bufferMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.bufferMu.Lock()
			buffered := c.buffering[id]
			delete(c.buffering, id)
			c.bufferMu.Unlock()

			for _, frame := range buffered {
				peeked := gjson.GetManyBytes(frame, "targetId", "event")
				c.handleNotification(peeked[0].String(), peeked[1].String(), frame)
			}
		})
	}
}

type channelRequestFrame struct {
	ID       uint32       `json:"id"`
	Method   string       `json:"method"`
	Internal internalData `json:"internal"`
	Data     interface{}  `json:"data,omitempty"`
}

// Request issues one request on the channel and blocks until a response
// arrives, ctx is cancelled, or the channel is closed. internal carries the
// chain of ids identifying the request's target; data, if present, supplies
// the method-specific request body (spec.md §4.1, §6).
func (c *Channel) Request(ctx context.Context, method string, internal internalData, data ...interface{}) *Response {
	if atomic.LoadInt32(&c.closed) != 0 {
		return &Response{err: ErrChannelClosed}
	}

	if atomic.LoadInt32(&c.workerClosing) != 0 && method != "worker.close" {
		return &Response{err: ErrChannelClosed}
	}

	id := atomic.AddUint32(&c.nextID, 1)

	var body interface{}
	if len(data) > 0 {
		body = data[0]
	}

	frame := channelRequestFrame{ID: id, Method: method, Internal: internal, Data: body}
	payload, err := json.Marshal(frame)
	if err != nil {
		return &Response{err: &FailedToParseError{Method: method, Err: err}}
	}
	if len(payload) > NSPayloadMaxLen {
		return &Response{err: ErrMessageTooLong}
	}

	req := &pendingRequest{method: method, result: make(chan *Response, 1)}

	c.pendingMu.Lock()
	c.pending[id] = req
	c.pendingMu.Unlock()

	cleanup := func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}

	c.writerMu.Lock()
	writeErr := writeNetstring(c.writer, payload)
	c.writerMu.Unlock()
	if writeErr != nil {
		cleanup()
		return &Response{err: ErrChannelClosed}
	}

	select {
	case resp := <-req.result:
		return resp
	case <-c.closeCh:
		cleanup()
		return &Response{err: ErrChannelClosed}
	case <-ctx.Done():
		cleanup()
		return &Response{err: ctx.Err()}
	}
}

// MarkWorkerClosing forbids all further requests except the permitted
// worker-close request (spec.md §4.1).
func (c *Channel) MarkWorkerClosing() {
	atomic.StoreInt32(&c.workerClosing, 1)
}

// Close shuts the channel down, waking every pending request with
// ErrChannelClosed.
func (c *Channel) Close() {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	close(c.closeCh)

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*pendingRequest)
	c.pendingMu.Unlock()

	for _, req := range pending {
		req.result <- &Response{err: ErrChannelClosed}
	}
}
