package mediasoup

import (
	"context"

	"github.com/google/uuid"
)

// PipeTransportOptions configures CreatePipeTransport.
type PipeTransportOptions struct {
	ListenIp       TransportListenIp
	EnableSctp     bool
	NumSctpStreams NumSctpStreams
	EnableRtx      bool
	EnableSrtp     bool
	AppData        H
}

// PipeTransportConnectOptions configures PipeTransport.Connect. When a
// router pair is created for piping, the controller picks an ephemeral
// port on each side and connects them to each other (spec.md §4.5).
type PipeTransportConnectOptions struct {
	Ip             string
	Port           int
	SrtpParameters *SrtpParameters
}

type pipeTransportData struct {
	Tuple          TransportTuple  `json:"tuple"`
	SctpParameters *SctpParameters `json:"sctpParameters,omitempty"`
	Rtx            bool            `json:"rtx"`
	SrtpParameters *SrtpParameters `json:"srtpParameters,omitempty"`
}

// PipeTransport bridges two Routers (possibly on different Workers) for
// producer/data-producer piping (spec.md §4.4, §4.5).
type PipeTransport struct {
	*transportCore
	data pipeTransportData
}

func newPipeTransport(ctx context.Context, router *Router, options PipeTransportOptions) (*PipeTransport, error) {
	if options.EnableSctp {
		if err := validateNumSctpStreams(options.NumSctpStreams); err != nil {
			return nil, err
		}
	}

	internal := internalData{RouterId: router.Id(), TransportId: uuid.New().String()}

	reqData := H{
		"listenIp":       options.ListenIp,
		"enableSctp":     options.EnableSctp,
		"numSctpStreams": options.NumSctpStreams,
		"enableRtx":      options.EnableRtx,
		"enableSrtp":     options.EnableSrtp,
	}

	resp := router.channel.Request(ctx, "router.createPipeTransport", internal, reqData)
	var data pipeTransportData
	if err := resp.Unmarshal(&data); err != nil {
		return nil, err
	}

	core := newTransportCore("PipeTransport", router, internal, options.AppData)
	if data.SctpParameters != nil {
		core.sctpParameters = data.SctpParameters
	}

	t := &PipeTransport{transportCore: core, data: data}
	router.registerTransport(internal.TransportId, newTransportWeakHandle(t))
	t.handleWorkerNotifications()
	router.observer.SafeEmit("newtransport", t)

	return t, nil
}

func (t *PipeTransport) Tuple() TransportTuple           { return t.data.Tuple }
func (t *PipeTransport) SctpParameters() *SctpParameters { return t.data.SctpParameters }

// Consume always mirrors the producer verbatim (ConsumerType_Pipe); the
// caller's RtpCapabilities field is ignored.
func (t *PipeTransport) Consume(ctx context.Context, options ConsumerOptions) (*Consumer, error) {
	return t.transportCore.Consume(ctx, options, true)
}

// Connect supplies the remote pipe endpoint.
func (t *PipeTransport) Connect(ctx context.Context, options PipeTransportConnectOptions) error {
	reqData := H{"ip": options.Ip, "port": options.Port}
	if options.SrtpParameters != nil {
		reqData["srtpParameters"] = options.SrtpParameters
	}
	resp := t.channel.Request(ctx, "transport.connect", t.internal, reqData)
	var data pipeTransportData
	if err := resp.Unmarshal(&data); err != nil {
		return err
	}
	t.data.Tuple = data.Tuple
	return nil
}

func (t *PipeTransport) handleWorkerNotifications() {
	t.channel.Subscribe(t.internal.TransportId, func(event string, data []byte) {
		switch event {
		case "sctpstatechange":
			var payload struct {
				SctpState string `json:"sctpState"`
			}
			if err := unmarshalNotification(data, &payload); err != nil {
				return
			}
			t.SafeEmit("sctpstatechange", payload.SctpState)
		case "trace":
			t.SafeEmit("trace", data)
		default:
			t.logger.V(1).Info("ignoring unknown pipe transport notification", "event", event)
		}
	})
}
