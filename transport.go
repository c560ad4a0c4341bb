package mediasoup

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// TransportListenIp pairs a local bind address with the address announced
// to remote peers (useful behind NAT).
type TransportListenIp struct {
	Ip          string
	AnnouncedIp string
}

// TransportTuple is one observed or configured network 4-tuple.
type TransportTuple struct {
	LocalIp    string `json:"localIp"`
	LocalPort  int    `json:"localPort"`
	RemoteIp   string `json:"remoteIp,omitempty"`
	RemotePort int    `json:"remotePort,omitempty"`
	Protocol   string `json:"protocol"`
}

// NumSctpStreams negotiates the SCTP association's outbound/max-inbound
// stream counts.
type NumSctpStreams struct {
	OS  int `json:"OS"`
	MIS int `json:"MIS"`
}

// SctpParameters is the negotiated outcome of an SCTP association.
type SctpParameters struct {
	Port           int `json:"port"`
	OS             int `json:"OS"`
	MIS            int `json:"MIS"`
	MaxMessageSize int `json:"maxMessageSize"`
}

// DtlsFingerprint is one certificate fingerprint offered during DTLS setup.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DtlsParameters carries a WebRtcTransport's DTLS handshake role and
// certificate fingerprints.
type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// SrtpParameters carries a Plain/PipeTransport's SRTP crypto suite and key.
type SrtpParameters struct {
	CryptoSuite string `json:"cryptoSuite"`
	KeyBase64   string `json:"keyBase64"`
}

// ITransport is the uniform operation contract every transport variant
// satisfies (spec.md §4.5): produce/consume, the SCTP variants, bitrate
// limits, trace events and lifecycle.
type ITransport interface {
	Id() string
	Closed() bool
	AppData() H
	Observer() IEventEmitter
	Produce(ctx context.Context, options ProducerOptions) (*Producer, error)
	Consume(ctx context.Context, options ConsumerOptions) (*Consumer, error)
	ProduceData(ctx context.Context, options DataProducerOptions) (*DataProducer, error)
	ConsumeData(ctx context.Context, options DataConsumerOptions) (*DataConsumer, error)
	SetMaxIncomingBitrate(ctx context.Context, bitrate int) error
	SetMaxOutgoingBitrate(ctx context.Context, bitrate int) error
	Dump(ctx context.Context) ([]byte, error)
	GetStats(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// baseTransport is the narrow contract the Router's weak transport index
// needs: enough to cascade a router-level close downward without importing
// every variant's full surface.
type baseTransport interface {
	Id() string
	Closed() bool
	transportClosedByRouter()
}

// transportCore is the shared implementation embedded by every transport
// variant, grounded on anjingxw-mediasoup-go's pattern of one thin variant
// struct wrapping a common base (spec.md §9 "prefer a tagged variant...
// exposing a uniform operation trait").
type transportCore struct {
	IEventEmitter
	logger logr.Logger

	router         *Router
	internal       internalData
	channel        *Channel
	payloadChannel *PayloadChannel

	mu     sync.Mutex
	closed bool

	nextMid   int
	usedMids  map[string]struct{}

	sctpParameters *SctpParameters
	usedSctpIds    map[int]struct{}

	cname string

	producers     map[string]*Producer
	consumers     map[string]*Consumer
	dataProducers map[string]*DataProducer
	dataConsumers map[string]*DataConsumer

	appData  H
	observer IEventEmitter
}

func newTransportCore(name string, router *Router, internal internalData, appData H) *transportCore {
	return &transportCore{
		IEventEmitter:  NewEventEmitter(),
		logger:         NewLogger(fmt.Sprintf("%s[id:%s]", name, internal.TransportId)),
		router:         router,
		internal:       internal,
		channel:        router.channel,
		payloadChannel: router.payloadChannel,
		usedMids:       make(map[string]struct{}),
		usedSctpIds:    make(map[int]struct{}),
		cname:          uuid.New().String(),
		producers:      make(map[string]*Producer),
		consumers:      make(map[string]*Consumer),
		dataProducers:  make(map[string]*DataProducer),
		dataConsumers:  make(map[string]*DataConsumer),
		appData:        appData,
		observer:       NewEventEmitter(),
	}
}

func (t *transportCore) Id() string       { return t.internal.TransportId }
func (t *transportCore) AppData() H       { return t.appData }
func (t *transportCore) Observer() IEventEmitter { return t.observer }

func (t *transportCore) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *transportCore) markClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.closed = true
	return true
}

// Close tears down every Producer/Consumer/DataProducer/DataConsumer this
// transport owns and issues the matching engine request.
func (t *transportCore) Close(ctx context.Context) error {
	if !t.markClosed() {
		return nil
	}
	t.closeDownward()
	t.router.unregisterTransport(t.internal.TransportId)
	t.Emit("@close")
	t.observer.SafeEmit("close")
	return t.channel.Request(ctx, "transport.close", t.internal).Err()
}

// transportClosedByRouter is invoked by the owning Router's own Close, and
// performs the same local teardown as Close without issuing a request.
func (t *transportCore) transportClosedByRouter() {
	if !t.markClosed() {
		return
	}
	t.closeDownward()
	t.Emit("@close")
	t.observer.SafeEmit("close")
}

func (t *transportCore) closeDownward() {
	t.mu.Lock()
	producers := t.producers
	consumers := t.consumers
	dataProducers := t.dataProducers
	dataConsumers := t.dataConsumers
	t.producers = make(map[string]*Producer)
	t.consumers = make(map[string]*Consumer)
	t.dataProducers = make(map[string]*DataProducer)
	t.dataConsumers = make(map[string]*DataConsumer)
	t.mu.Unlock()

	for id, p := range producers {
		p.transportClosed()
		t.router.unregisterProducer(id)
	}
	for id, c := range consumers {
		c.transportClosed()
		t.router.unregisterConsumerEdge(id)
	}
	for _, dp := range dataProducers {
		dp.transportClosed()
	}
	for _, dc := range dataConsumers {
		dc.transportClosed()
	}
}

// Dump returns the engine's internal dump of this transport.
func (t *transportCore) Dump(ctx context.Context) ([]byte, error) {
	resp := t.channel.Request(ctx, "transport.dump", t.internal)
	return resp.Data(), resp.Err()
}

// GetStats returns the engine's statistics for this transport.
func (t *transportCore) GetStats(ctx context.Context) ([]byte, error) {
	resp := t.channel.Request(ctx, "transport.getStats", t.internal)
	return resp.Data(), resp.Err()
}

// SetMaxIncomingBitrate caps inbound bandwidth this transport accepts.
func (t *transportCore) SetMaxIncomingBitrate(ctx context.Context, bitrate int) error {
	return t.channel.Request(ctx, "transport.setMaxIncomingBitrate", t.internal, H{"bitrate": bitrate}).Err()
}

// SetMaxOutgoingBitrate caps outbound bandwidth this transport sends.
func (t *transportCore) SetMaxOutgoingBitrate(ctx context.Context, bitrate int) error {
	return t.channel.Request(ctx, "transport.setMaxOutgoingBitrate", t.internal, H{"bitrate": bitrate}).Err()
}

// EnableTraceEvent opts the transport into a set of trace event types. It
// only sends transport.enableTraceEvent; the transport's producers and
// consumers are not updated.
func (t *transportCore) EnableTraceEvent(ctx context.Context, types ...string) error {
	return t.channel.Request(ctx, "transport.enableTraceEvent", t.internal, H{"types": types}).Err()
}

func (t *transportCore) allocateMid(explicit string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if explicit != "" {
		if _, taken := t.usedMids[explicit]; taken {
			return "", NewTypeError("mid %q already in use on this transport", explicit)
		}
		t.usedMids[explicit] = struct{}{}
		return explicit, nil
	}

	for {
		mid := fmt.Sprintf("%d", t.nextMid)
		t.nextMid++
		if _, taken := t.usedMids[mid]; !taken {
			t.usedMids[mid] = struct{}{}
			return mid, nil
		}
	}
}

func (t *transportCore) allocateSctpStreamId() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sctpParameters == nil {
		return 0, NewTypeError("transport has no SCTP association")
	}
	for id := 0; id < t.sctpParameters.MIS; id++ {
		if _, used := t.usedSctpIds[id]; !used {
			t.usedSctpIds[id] = struct{}{}
			return id, nil
		}
	}
	return 0, ErrCannotAllocate
}

func (t *transportCore) releaseSctpStreamId(id int) {
	t.mu.Lock()
	delete(t.usedSctpIds, id)
	t.mu.Unlock()
}

// Produce validates payload-type uniqueness and RTX apt references
// (validateRtpParameters), maps the parameters onto the router's
// capabilities, issues a create-producer request and wires notification delivery
// (spec.md §4.5).
func (t *transportCore) Produce(ctx context.Context, options ProducerOptions) (*Producer, error) {
	if err := validateRtpParameters(options.RtpParameters); err != nil {
		return nil, err
	}

	mapping, err := getProducerRtpParametersMapping(options.RtpParameters, t.router.RtpCapabilities())
	if err != nil {
		return nil, err
	}
	consumable := getConsumableRtpParameters(options.Kind, options.RtpParameters, t.router.RtpCapabilities(), mapping)

	id := options.Id
	if id == "" {
		id = uuid.New().String()
	}
	internal := internalData{RouterId: t.router.Id(), TransportId: t.internal.TransportId, ProducerId: id}

	reqData := H{
		"kind":          options.Kind,
		"rtpParameters": options.RtpParameters,
		"rtpMapping":    mapping,
		"keyFrameRequestDelay": 0,
		"paused":        options.Paused,
	}

	resp := t.channel.Request(ctx, "transport.produce", internal, reqData)
	var result struct {
		Type ProducerType `json:"type"`
	}
	if err := resp.Unmarshal(&result); err != nil {
		return nil, err
	}

	data := producerData{
		Kind:                    options.Kind,
		RtpParameters:           options.RtpParameters,
		Type:                    result.Type,
		ConsumableRtpParameters: consumable,
	}

	producer := newProducer(internal, data, t.channel, t.payloadChannel, options.AppData, options.Paused)

	t.mu.Lock()
	t.producers[id] = producer
	t.mu.Unlock()
	t.router.registerProducer(id, newProducerWeakHandle(producer))

	producer.On("@close", func() {
		t.mu.Lock()
		delete(t.producers, id)
		t.mu.Unlock()
		t.router.unregisterProducer(id)
	})

	t.SafeEmit("newproducer", producer)
	t.observer.SafeEmit("newproducer", producer)
	return producer, nil
}

// Consume requires the caller to supply the target peer's RTP capabilities
// (except on PipeTransport, which always mirrors the producer verbatim),
// rejects if CanConsume would be false, assigns a MID, and stores the
// producer↔consumer edge in the router index (spec.md §4.5).
func (t *transportCore) Consume(ctx context.Context, options ConsumerOptions, pipe bool) (*Consumer, error) {
	producer, ok := t.router.getProducer(options.ProducerId)
	if !ok {
		return nil, NewTypeError("producer with id %q not found", options.ProducerId)
	}

	var rtpParameters RtpParameters
	var consumerType ConsumerType
	var err error

	if pipe {
		rtpParameters = getPipeConsumerRtpParameters(producer.consumableRtpParameters(), false)
		consumerType = ConsumerType_Pipe
	} else {
		if !canConsumeCapabilities(producer.consumableRtpParameters(), options.RtpCapabilities) {
			return nil, ErrBadConsumerRtpParameters
		}
		rtpParameters, err = getConsumerRtpParameters(producer.consumableRtpParameters(), options.RtpCapabilities, producer.consumableRtpParameters().Encodings)
		if err != nil {
			return nil, err
		}
		consumerType = deriveConsumerType(producer)
	}

	mid, err := t.allocateMid(rtpParameters.Mid)
	if err != nil {
		return nil, err
	}
	rtpParameters.Mid = mid

	id := uuid.New().String()
	internal := internalData{RouterId: t.router.Id(), TransportId: t.internal.TransportId, ConsumerId: id, ProducerId: options.ProducerId}

	reqData := H{
		"kind":                   producer.kind(),
		"rtpParameters":          rtpParameters,
		"type":                   consumerType,
		"consumableRtpEncodings": producer.consumableRtpParameters().Encodings,
		"paused":                 options.Paused,
		"producerPaused":         producerIsPaused(producer),
	}

	resp := t.channel.Request(ctx, "transport.consume", internal, reqData)
	if err := resp.Err(); err != nil {
		return nil, err
	}

	data := consumerData{
		ProducerId:    options.ProducerId,
		Kind:          producer.kind(),
		RtpParameters: rtpParameters,
		Type:          consumerType,
	}

	score := ConsumerScore{}
	consumer := newConsumer(internal, data, t.channel, t.payloadChannel, options.AppData, options.Paused, producerIsPaused(producer), score)

	t.mu.Lock()
	t.consumers[id] = consumer
	t.mu.Unlock()
	t.router.registerConsumerEdge(options.ProducerId, id)

	consumer.On("@close", func() {
		t.mu.Lock()
		delete(t.consumers, id)
		t.mu.Unlock()
		t.router.unregisterConsumerEdge(id)
	})

	t.SafeEmit("newconsumer", consumer)
	t.observer.SafeEmit("newconsumer", consumer)
	return consumer, nil
}

// ProduceData allocates an SCTP stream id from this transport's used-set
// (bounded by the negotiated MIS) and issues a create-data-producer request.
func (t *transportCore) ProduceData(ctx context.Context, options DataProducerOptions) (*DataProducer, error) {
	streamId := options.SctpStreamParameters.StreamId
	if t.sctpParameters != nil && streamId == 0 {
		allocated, err := t.allocateSctpStreamId()
		if err != nil {
			return nil, err
		}
		streamId = allocated
		options.SctpStreamParameters.StreamId = streamId
	}

	id := options.Id
	if id == "" {
		id = uuid.New().String()
	}
	internal := internalData{RouterId: t.router.Id(), TransportId: t.internal.TransportId, DataProducerId: id}

	transportType := DataProducerType_Sctp
	if t.sctpParameters == nil {
		transportType = DataProducerType_Direct
	}

	reqData := H{
		"type":                 transportType,
		"sctpStreamParameters": options.SctpStreamParameters,
		"label":                options.Label,
		"protocol":             options.Protocol,
	}
	if err := t.channel.Request(ctx, "transport.produceData", internal, reqData).Err(); err != nil {
		return nil, err
	}

	data := dataProducerData{
		Type:                 transportType,
		SctpStreamParameters: options.SctpStreamParameters,
		Label:                options.Label,
		Protocol:             options.Protocol,
	}
	dataProducer := newDataProducer(internal, data, t.channel, t.payloadChannel, options.AppData)

	t.mu.Lock()
	t.dataProducers[id] = dataProducer
	t.mu.Unlock()
	t.router.registerDataProducer(id, NewWeakHandle(dataProducer, dataProducer.Closed))

	dataProducer.On("@close", func() {
		t.mu.Lock()
		delete(t.dataProducers, id)
		t.mu.Unlock()
		t.router.unregisterDataProducer(id)
	})

	t.SafeEmit("newdataproducer", dataProducer)
	t.observer.SafeEmit("newdataproducer", dataProducer)
	return dataProducer, nil
}

// ConsumeData mirrors ProduceData's SCTP stream allocation on the receiving
// side.
func (t *transportCore) ConsumeData(ctx context.Context, options DataConsumerOptions) (*DataConsumer, error) {
	t.mu.Lock()
	_, hasDataProducer := t.dataProducers[options.DataProducerId]
	t.mu.Unlock()
	_ = hasDataProducer // a remote router's dataProducer may be referenced across the pipe boundary

	id := uuid.New().String()
	internal := internalData{RouterId: t.router.Id(), TransportId: t.internal.TransportId, DataConsumerId: id, DataProducerId: options.DataProducerId}

	sctpParams := SctpStreamParameters{
		Ordered:           options.Ordered,
		MaxPacketLifeTime: options.MaxPacketLifeTime,
		MaxRetransmits:    options.MaxRetransmits,
	}
	transportType := DataProducerType_Sctp
	if t.sctpParameters != nil {
		streamId, err := t.allocateSctpStreamId()
		if err != nil {
			return nil, err
		}
		sctpParams.StreamId = streamId
	} else {
		transportType = DataProducerType_Direct
	}

	reqData := H{
		"type":                 transportType,
		"sctpStreamParameters": sctpParams,
	}
	resp := t.channel.Request(ctx, "transport.consumeData", internal, reqData)
	var result struct {
		Label    string `json:"label"`
		Protocol string `json:"protocol"`
	}
	if err := resp.Unmarshal(&result); err != nil {
		return nil, err
	}

	data := dataConsumerData{
		DataProducerId:       options.DataProducerId,
		Type:                 transportType,
		SctpStreamParameters: sctpParams,
		Label:                result.Label,
		Protocol:             result.Protocol,
	}
	dataConsumer := newDataConsumer(internal, data, t.channel, t.payloadChannel, options.AppData)

	t.mu.Lock()
	t.dataConsumers[id] = dataConsumer
	t.mu.Unlock()

	dataConsumer.On("@close", func() {
		t.mu.Lock()
		delete(t.dataConsumers, id)
		t.mu.Unlock()
		if sctpParams.StreamId != 0 {
			t.releaseSctpStreamId(sctpParams.StreamId)
		}
	})

	t.SafeEmit("newdataconsumer", dataConsumer)
	t.observer.SafeEmit("newdataconsumer", dataConsumer)
	return dataConsumer, nil
}

func producerIsPaused(p producerCore) bool {
	if concrete, ok := p.(*Producer); ok {
		return concrete.Paused()
	}
	return false
}

func deriveConsumerType(p producerCore) ConsumerType {
	if concrete, ok := p.(*Producer); ok {
		switch concrete.Type() {
		case ProducerType_Simulcast:
			return ConsumerType_Simulcast
		case ProducerType_SVC:
			return ConsumerType_SVC
		}
	}
	return ConsumerType_Simple
}

func newProducerWeakHandle(p *Producer) WeakHandle[producerCore] {
	var iface producerCore = p
	return NewWeakHandle(&iface, p.Closed)
}

func newTransportWeakHandle(t baseTransport) WeakHandle[baseTransport] {
	iface := t
	return NewWeakHandle(&iface, t.Closed)
}
