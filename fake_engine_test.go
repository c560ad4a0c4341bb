package mediasoup

import (
	"bufio"
	"encoding/json"
	"io"
)

// fakeEngine stands in for the out-of-process media engine side of the
// Channel/PayloadChannel wire protocol in tests: it reads framed requests
// and replies with a canned response per method, accepting anything it has
// no canned response for with an empty data object.
type fakeEngine struct {
	reader    *bufio.Reader
	writer    io.Writer
	responses map[string]json.RawMessage
	errors    map[string]string
	seen      chan string
}

func newFakeEngine(reader io.Reader, writer io.Writer) *fakeEngine {
	return &fakeEngine{
		reader:    bufio.NewReaderSize(reader, 64*1024),
		writer:    writer,
		responses: make(map[string]json.RawMessage),
		errors:    make(map[string]string),
		seen:      make(chan string, 256),
	}
}

// setResponse registers the data field returned for every request whose
// method equals method.
func (f *fakeEngine) setResponse(method string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	f.responses[method] = raw
}

// setError makes every request for method come back as a rejected response
// carrying reason.
func (f *fakeEngine) setError(method, reason string) {
	f.errors[method] = reason
}

func (f *fakeEngine) run() {
	for {
		frame, err := readNetstring(f.reader)
		if err != nil {
			return
		}
		var req struct {
			ID     uint32 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(frame, &req); err != nil {
			continue
		}
		f.seen <- req.Method

		var raw []byte
		var marshalErr error
		if reason, isErr := f.errors[req.Method]; isErr {
			raw, marshalErr = json.Marshal(map[string]interface{}{
				"id": req.ID, "accepted": false, "reason": reason,
			})
		} else {
			data, ok := f.responses[req.Method]
			if !ok {
				data = json.RawMessage(`{}`)
			}
			raw, marshalErr = json.Marshal(map[string]interface{}{
				"id": req.ID, "accepted": true, "data": data,
			})
		}
		if marshalErr != nil {
			continue
		}
		if err := writeNetstring(f.writer, raw); err != nil {
			return
		}
	}
}

// notify sends a notification frame to targetID as if it came from the
// engine, with data marshaled from payload.
func (f *fakeEngine) notify(targetID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	raw, err := json.Marshal(map[string]interface{}{
		"targetId": targetID, "event": event, "data": json.RawMessage(data),
	})
	if err != nil {
		panic(err)
	}
	_ = writeNetstring(f.writer, raw)
}

// newTestChannelPair wires a Channel to a running fakeEngine over in-memory
// pipes and returns both.
func newTestChannelPair() (*Channel, *fakeEngine) {
	requestR, requestW := io.Pipe()
	responseR, responseW := io.Pipe()

	engine := newFakeEngine(requestR, responseW)
	go engine.run()

	channel := newChannel(responseR, requestW, 1)
	return channel, engine
}

// newTestPayloadChannelPair is the payload-channel analogue of
// newTestChannelPair, using the same envelope+payload netstring pairing the
// real engine speaks.
func newTestPayloadChannelPair() (*PayloadChannel, *fakePayloadEngine) {
	requestR, requestW := io.Pipe()
	responseR, responseW := io.Pipe()

	engine := &fakePayloadEngine{
		reader:    bufio.NewReaderSize(requestR, 64*1024),
		writer:    responseW,
		responses: make(map[string]json.RawMessage),
	}
	go engine.run()

	pc := newPayloadChannel(responseR, requestW, 1)
	return pc, engine
}

type fakePayloadEngine struct {
	reader    *bufio.Reader
	writer    io.Writer
	responses map[string]json.RawMessage
}

// notify sends an unsolicited envelope+payload notification pair to
// targetID, as if it came from the engine.
func (f *fakePayloadEngine) notify(targetID, event string, data interface{}, payload []byte) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	envelope, err := json.Marshal(map[string]interface{}{
		"targetId": targetID, "event": event, "data": json.RawMessage(raw),
	})
	if err != nil {
		panic(err)
	}
	if err := writeNetstring(f.writer, envelope); err != nil {
		return
	}
	_ = writeNetstring(f.writer, payload)
}

func (f *fakePayloadEngine) setResponse(method string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	f.responses[method] = raw
}

func (f *fakePayloadEngine) run() {
	for {
		envelope, err := readNetstring(f.reader)
		if err != nil {
			return
		}
		if _, err := readNetstring(f.reader); err != nil {
			return
		}

		var req struct {
			ID     uint32 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(envelope, &req); err != nil {
			continue
		}
		if req.Method == "" {
			// notify-style envelope carrying no id: nothing to reply to.
			continue
		}

		data, ok := f.responses[req.Method]
		if !ok {
			data = json.RawMessage(`{}`)
		}
		raw, err := json.Marshal(map[string]interface{}{
			"id": req.ID, "accepted": true, "data": data,
		})
		if err != nil {
			continue
		}
		if err := writeNetstring(f.writer, raw); err != nil {
			return
		}
		if err := writeNetstring(f.writer, []byte{0}); err != nil {
			return
		}
	}
}
