package mediasoup

import (
	"context"

	"github.com/pion/rtcp"

	"github.com/google/uuid"
)

// DirectTransportOptions configures CreateDirectTransport.
type DirectTransportOptions struct {
	MaxMessageSize int
	AppData        H
}

type directTransportData struct {
	MaxMessageSize int `json:"maxMessageSize"`
}

// DirectTransport is used to inject/receive RTCP and exchange data messages
// in-process, for synthetic or test workflows (spec.md §4.5).
type DirectTransport struct {
	*transportCore
	data directTransportData
}

func newDirectTransport(ctx context.Context, router *Router, options DirectTransportOptions) (*DirectTransport, error) {
	internal := internalData{RouterId: router.Id(), TransportId: uuid.New().String()}

	reqData := H{"direct": true, "maxMessageSize": options.MaxMessageSize}

	resp := router.channel.Request(ctx, "router.createDirectTransport", internal, reqData)
	var data directTransportData
	if err := resp.Unmarshal(&data); err != nil {
		return nil, err
	}

	core := newTransportCore("DirectTransport", router, internal, options.AppData)

	t := &DirectTransport{transportCore: core, data: data}
	router.registerTransport(internal.TransportId, newTransportWeakHandle(t))
	t.handleWorkerNotifications()
	router.observer.SafeEmit("newtransport", t)

	return t, nil
}

// Consume creates a Consumer requiring the caller's RTP capabilities.
func (t *DirectTransport) Consume(ctx context.Context, options ConsumerOptions) (*Consumer, error) {
	return t.transportCore.Consume(ctx, options, false)
}

// SendRtcp injects a raw RTCP packet as if it had been received from the
// network, for synthetic or test workflows.
func (t *DirectTransport) SendRtcp(ctx context.Context, packet rtcp.Packet) error {
	raw, err := packet.Marshal()
	if err != nil {
		return err
	}
	return t.payloadChannel.Notify("transport.sendRtcp", t.internal, raw)
}

func (t *DirectTransport) handleWorkerNotifications() {
	t.channel.Subscribe(t.internal.TransportId, func(event string, data []byte) {
		if event == "trace" {
			t.SafeEmit("trace", data)
			return
		}
		t.logger.V(1).Info("ignoring unknown direct transport notification", "event", event)
	})

	t.payloadChannel.Subscribe(t.internal.TransportId, func(event string, data, payload []byte) {
		if event != "rtcp" {
			return
		}
		packets, err := rtcp.Unmarshal(payload)
		if err != nil {
			t.logger.V(1).Info("dropping malformed direct transport rtcp packet", "error", err.Error())
			return
		}
		t.SafeEmit("rtcp", packets)
	})
}
