package mediasoup

import (
	"context"

	"github.com/google/uuid"
)

// PlainTransportOptions configures CreatePlainTransport.
type PlainTransportOptions struct {
	ListenIp        TransportListenIp
	RtcpMux         bool
	Comedia         bool
	EnableSctp      bool
	NumSctpStreams  NumSctpStreams
	EnableSrtp      bool
	SrtpCryptoSuite string
	AppData         H
}

// PlainTransportConnectOptions configures PlainTransport.Connect. When the
// transport was created with Comedia:true this call is optional: the engine
// auto-detects the remote endpoint from the first received packet.
type PlainTransportConnectOptions struct {
	Ip             string
	Port           int
	RtcpPort       int
	SrtpParameters *SrtpParameters
}

type plainTransportData struct {
	Tuple          TransportTuple  `json:"tuple"`
	RtcpTuple      *TransportTuple `json:"rtcpTuple,omitempty"`
	SctpParameters *SctpParameters `json:"sctpParameters,omitempty"`
	SrtpParameters *SrtpParameters `json:"srtpParameters,omitempty"`
}

// PlainTransport is the endpoint used for plain RTP/RTCP peers (ffmpeg,
// gstreamer, recording) (spec.md §4.5).
type PlainTransport struct {
	*transportCore
	data    plainTransportData
	comedia bool
}

func newPlainTransport(ctx context.Context, router *Router, options PlainTransportOptions) (*PlainTransport, error) {
	if options.EnableSctp {
		if err := validateNumSctpStreams(options.NumSctpStreams); err != nil {
			return nil, err
		}
	}

	internal := internalData{RouterId: router.Id(), TransportId: uuid.New().String()}

	reqData := H{
		"listenIp":        options.ListenIp,
		"rtcpMux":         options.RtcpMux,
		"comedia":         options.Comedia,
		"enableSctp":      options.EnableSctp,
		"numSctpStreams":  options.NumSctpStreams,
		"enableSrtp":      options.EnableSrtp,
		"srtpCryptoSuite": options.SrtpCryptoSuite,
	}

	resp := router.channel.Request(ctx, "router.createPlainTransport", internal, reqData)
	var data plainTransportData
	if err := resp.Unmarshal(&data); err != nil {
		return nil, err
	}

	core := newTransportCore("PlainTransport", router, internal, options.AppData)
	if data.SctpParameters != nil {
		core.sctpParameters = data.SctpParameters
	}

	t := &PlainTransport{transportCore: core, data: data, comedia: options.Comedia}
	router.registerTransport(internal.TransportId, newTransportWeakHandle(t))
	t.handleWorkerNotifications()
	router.observer.SafeEmit("newtransport", t)

	return t, nil
}

func (t *PlainTransport) Tuple() TransportTuple            { return t.data.Tuple }
func (t *PlainTransport) RtcpTuple() *TransportTuple       { return t.data.RtcpTuple }
func (t *PlainTransport) SctpParameters() *SctpParameters  { return t.data.SctpParameters }
func (t *PlainTransport) SrtpParameters() *SrtpParameters  { return t.data.SrtpParameters }

// Consume creates a Consumer requiring the caller's RTP capabilities.
func (t *PlainTransport) Consume(ctx context.Context, options ConsumerOptions) (*Consumer, error) {
	return t.transportCore.Consume(ctx, options, false)
}

// Connect supplies the remote RTP/RTCP endpoint. Required unless the
// transport was created with Comedia:true.
func (t *PlainTransport) Connect(ctx context.Context, options PlainTransportConnectOptions) error {
	reqData := H{"ip": options.Ip, "port": options.Port}
	if options.RtcpPort != 0 {
		reqData["rtcpPort"] = options.RtcpPort
	}
	if options.SrtpParameters != nil {
		reqData["srtpParameters"] = options.SrtpParameters
	}
	resp := t.channel.Request(ctx, "transport.connect", t.internal, reqData)
	var data plainTransportData
	if err := resp.Unmarshal(&data); err != nil {
		return err
	}
	t.data.Tuple = data.Tuple
	if data.RtcpTuple != nil {
		t.data.RtcpTuple = data.RtcpTuple
	}
	if data.SrtpParameters != nil {
		t.data.SrtpParameters = data.SrtpParameters
	}
	return nil
}

func (t *PlainTransport) handleWorkerNotifications() {
	t.channel.Subscribe(t.internal.TransportId, func(event string, data []byte) {
		switch event {
		case "tuple":
			var payload struct {
				Tuple TransportTuple `json:"tuple"`
			}
			if err := unmarshalNotification(data, &payload); err != nil {
				return
			}
			t.data.Tuple = payload.Tuple
			t.SafeEmit("tuple", payload.Tuple)
		case "rtcptuple":
			var payload struct {
				RtcpTuple TransportTuple `json:"rtcpTuple"`
			}
			if err := unmarshalNotification(data, &payload); err != nil {
				return
			}
			t.data.RtcpTuple = &payload.RtcpTuple
			t.SafeEmit("rtcptuple", payload.RtcpTuple)
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
			t.logger.V(1).Info("ignoring unknown plain transport notification", "event", event)
		}
	})
}
