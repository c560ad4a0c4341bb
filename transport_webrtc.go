package mediasoup

import (
	"context"

	"github.com/google/uuid"
)

// WebRtcTransportState mirrors the ICE connection state machine surfaced by
// the engine.
type WebRtcTransportState string

const (
	WebRtcTransportState_New          WebRtcTransportState = "new"
	WebRtcTransportState_Connecting   WebRtcTransportState = "connecting"
	WebRtcTransportState_Connected    WebRtcTransportState = "connected"
	WebRtcTransportState_Failed       WebRtcTransportState = "failed"
	WebRtcTransportState_Disconnected WebRtcTransportState = "disconnected"
	WebRtcTransportState_Closed       WebRtcTransportState = "closed"
)

// WebRtcTransportOptions configures CreateWebRtcTransport.
type WebRtcTransportOptions struct {
	ListenIps                       []TransportListenIp
	EnableUdp                       bool
	EnableTcp                       bool
	PreferUdp                       bool
	PreferTcp                       bool
	InitialAvailableOutgoingBitrate int
	EnableSctp                      bool
	NumSctpStreams                  NumSctpStreams
	MaxSctpMessageSize              int
	AppData                         H
}

type webRtcTransportData struct {
	IceRole          string           `json:"iceRole"`
	IceParameters    H                `json:"iceParameters"`
	IceCandidates    []H              `json:"iceCandidates"`
	IceState         WebRtcTransportState `json:"iceState"`
	IceSelectedTuple *TransportTuple  `json:"iceSelectedTuple,omitempty"`
	DtlsParameters   DtlsParameters   `json:"dtlsParameters"`
	DtlsState        string           `json:"dtlsState"`
	SctpParameters   *SctpParameters  `json:"sctpParameters,omitempty"`
}

// WebRtcTransport is the endpoint used for browser/native WebRTC peers
// (spec.md §4.5). Connect is callable exactly once in state New.
type WebRtcTransport struct {
	*transportCore
	data webRtcTransportData
}

func newWebRtcTransport(ctx context.Context, router *Router, options WebRtcTransportOptions) (*WebRtcTransport, error) {
	if options.EnableSctp {
		if err := validateNumSctpStreams(options.NumSctpStreams); err != nil {
			return nil, err
		}
	}

	internal := internalData{RouterId: router.Id(), TransportId: uuid.New().String()}

	reqData := H{
		"listenIps":                       options.ListenIps,
		"enableUdp":                       options.EnableUdp,
		"enableTcp":                       options.EnableTcp,
		"preferUdp":                       options.PreferUdp,
		"preferTcp":                       options.PreferTcp,
		"initialAvailableOutgoingBitrate": options.InitialAvailableOutgoingBitrate,
		"enableSctp":                      options.EnableSctp,
		"numSctpStreams":                  options.NumSctpStreams,
		"maxSctpMessageSize":              options.MaxSctpMessageSize,
	}

	resp := router.channel.Request(ctx, "router.createWebRtcTransport", internal, reqData)
	var data webRtcTransportData
	if err := resp.Unmarshal(&data); err != nil {
		return nil, err
	}

	core := newTransportCore("WebRtcTransport", router, internal, options.AppData)
	if data.SctpParameters != nil {
		core.sctpParameters = data.SctpParameters
	}

	t := &WebRtcTransport{transportCore: core, data: data}

	router.registerTransport(internal.TransportId, newTransportWeakHandle(t))
	t.handleWorkerNotifications()
	router.observer.SafeEmit("newtransport", t)

	return t, nil
}

func (t *WebRtcTransport) IceState() WebRtcTransportState       { return t.data.IceState }
func (t *WebRtcTransport) IceSelectedTuple() *TransportTuple    { return t.data.IceSelectedTuple }
func (t *WebRtcTransport) DtlsState() string                    { return t.data.DtlsState }
func (t *WebRtcTransport) SctpParameters() *SctpParameters      { return t.data.SctpParameters }

// Consume creates a Consumer requiring the caller's RTP capabilities.
func (t *WebRtcTransport) Consume(ctx context.Context, options ConsumerOptions) (*Consumer, error) {
	return t.transportCore.Consume(ctx, options, false)
}

// Connect finalizes the DTLS handshake role, callable exactly once while
// the transport is in state New.
func (t *WebRtcTransport) Connect(ctx context.Context, dtlsParameters DtlsParameters) error {
	resp := t.channel.Request(ctx, "transport.connect", t.internal, H{"dtlsParameters": dtlsParameters})
	var result struct {
		DtlsLocalRole string `json:"dtlsLocalRole"`
	}
	if err := resp.Unmarshal(&result); err != nil {
		return err
	}
	if result.DtlsLocalRole != "" {
		t.data.DtlsParameters.Role = result.DtlsLocalRole
	}
	return nil
}

// RestartIce regenerates the ICE username fragment and password.
func (t *WebRtcTransport) RestartIce(ctx context.Context) (H, error) {
	resp := t.channel.Request(ctx, "transport.restartIce", t.internal)
	var iceParameters H
	if err := resp.Unmarshal(&iceParameters); err != nil {
		return nil, err
	}
	t.data.IceParameters = iceParameters
	return iceParameters, nil
}

func (t *WebRtcTransport) handleWorkerNotifications() {
	t.channel.Subscribe(t.internal.TransportId, func(event string, data []byte) {
		switch event {
		case "icestatechange":
			var payload struct {
				IceState WebRtcTransportState `json:"iceState"`
			}
			if err := unmarshalNotification(data, &payload); err != nil {
				return
			}
			t.data.IceState = payload.IceState
			t.SafeEmit("icestatechange", payload.IceState)
		case "iceselectedtuplechange":
			var payload struct {
				IceSelectedTuple TransportTuple `json:"iceSelectedTuple"`
			}
			if err := unmarshalNotification(data, &payload); err != nil {
				return
			}
			t.data.IceSelectedTuple = &payload.IceSelectedTuple
			t.SafeEmit("iceselectedtuplechange", payload.IceSelectedTuple)
		case "dtlsstatechange":
			var payload struct {
				DtlsState string `json:"dtlsState"`
			}
			if err := unmarshalNotification(data, &payload); err != nil {
				return
			}
			t.data.DtlsState = payload.DtlsState
			t.SafeEmit("dtlsstatechange", payload.DtlsState)
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
			t.logger.V(1).Info("ignoring unknown webrtc transport notification", "event", event)
		}
	})
}
