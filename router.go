package mediasoup

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
)

// RouterOptions configures the media codecs a Router negotiates with peers.
type RouterOptions struct {
	MediaCodecs []RtpCodecCapability
	AppData     H
}

type routerData struct {
	RtpCapabilities RtpCapabilities
}

type routerParams struct {
	internal       internalData
	data           routerData
	channel        *Channel
	payloadChannel *PayloadChannel
	appData        H
}

// pipeTransportPair is one interlocked pair of PipeTransports bridging this
// router to another router, cached so piping a second producer to the same
// target router reuses the existing transports (spec.md §4.4).
type pipeTransportPair struct {
	local  *PipeTransport
	remote *PipeTransport
}

// Router routes producers to consumers within one worker and hosts
// transports and RTP observers (spec.md §4.4). It strongly holds nothing it
// routes; producers/consumers/transports are tracked via WeakHandle so a
// Router never keeps an otherwise-closed object alive.
type Router struct {
	IEventEmitter
	logger logr.Logger

	internal internalData
	data     routerData

	channel        *Channel
	payloadChannel *PayloadChannel

	closed  bool
	closeMu sync.Mutex

	appData  H
	observer IEventEmitter

	mu              sync.Mutex
	transports      map[string]WeakHandle[baseTransport]
	producers       map[string]WeakHandle[producerCore]
	dataProducers   map[string]WeakHandle[DataProducer]
	rtpObservers    map[string]WeakHandle[baseRtpObserver]
	producerToCons  map[string]map[string]struct{}
	consumerToProd  map[string]string

	pipeMu    sync.Mutex
	pipeGroup singleflight.Group
	pipePairs map[string]*pipeTransportPair
}

func newRouter(params routerParams) *Router {
	return &Router{
		IEventEmitter:  NewEventEmitter(),
		logger:         NewLogger(fmt.Sprintf("Router[id:%s]", params.internal.RouterId)),
		internal:       params.internal,
		data:           params.data,
		channel:        params.channel,
		payloadChannel: params.payloadChannel,
		appData:        params.appData,
		observer:       NewEventEmitter(),
		transports:     make(map[string]WeakHandle[baseTransport]),
		producers:      make(map[string]WeakHandle[producerCore]),
		dataProducers:  make(map[string]WeakHandle[DataProducer]),
		rtpObservers:   make(map[string]WeakHandle[baseRtpObserver]),
		producerToCons: make(map[string]map[string]struct{}),
		consumerToProd: make(map[string]string),
		pipePairs:      make(map[string]*pipeTransportPair),
	}
}

// Id returns the router's id.
func (r *Router) Id() string { return r.internal.RouterId }

// Closed reports whether Close has already run.
func (r *Router) Closed() bool {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	return r.closed
}

// RtpCapabilities returns the router's finalized (negotiated) RTP
// capabilities, the outcome of the ORTC mapper over the user-supplied media
// codecs (spec.md §4.3).
func (r *Router) RtpCapabilities() RtpCapabilities { return r.data.RtpCapabilities }

// AppData returns the application-supplied opaque data for this router.
func (r *Router) AppData() H { return r.appData }

// Observer exposes router-lifecycle events (newtransport, newrtpobserver,
// close) independent of application listeners on the Router itself.
func (r *Router) Observer() IEventEmitter { return r.observer }

// Close tears down every Transport and RtpObserver owned by this router and
// issues the matching engine request.
func (r *Router) Close(ctx context.Context) error {
	if !r.markClosed() {
		return nil
	}
	r.closeDownward()
	return r.channel.Request(ctx, "router.close", internalData{RouterId: r.internal.RouterId}).Err()
}

// workerClosed is invoked by the owning Worker on its own Close; unlike
// Close it issues no request of its own (the worker-close request already
// covers every router on the engine side).
func (r *Router) workerClosed() {
	if !r.markClosed() {
		return
	}
	r.closeDownward()
}

func (r *Router) markClosed() bool {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	return true
}

func (r *Router) closeDownward() {
	r.mu.Lock()
	transports := r.transports
	observers := r.rtpObservers
	r.transports = make(map[string]WeakHandle[baseTransport])
	r.rtpObservers = make(map[string]WeakHandle[baseRtpObserver])
	r.mu.Unlock()

	for _, handle := range transports {
		if t, ok := handle.Upgrade(); ok {
			(*t).transportClosedByRouter()
		}
	}
	for _, handle := range observers {
		if o, ok := handle.Upgrade(); ok {
			(*o).routerClosed()
		}
	}

	r.Emit("@close")
	r.observer.SafeEmit("close")
}

func (r *Router) registerTransport(id string, handle WeakHandle[baseTransport]) {
	r.mu.Lock()
	r.transports[id] = handle
	r.mu.Unlock()
}

func (r *Router) unregisterTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

func (r *Router) registerProducer(id string, handle WeakHandle[producerCore]) {
	r.mu.Lock()
	r.producers[id] = handle
	r.producerToCons[id] = make(map[string]struct{})
	r.mu.Unlock()
}

func (r *Router) unregisterProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	delete(r.producerToCons, id)
	r.mu.Unlock()
}

func (r *Router) registerConsumerEdge(producerID, consumerID string) {
	r.mu.Lock()
	if set, ok := r.producerToCons[producerID]; ok {
		set[consumerID] = struct{}{}
	}
	r.consumerToProd[consumerID] = producerID
	r.mu.Unlock()
}

func (r *Router) unregisterConsumerEdge(consumerID string) {
	r.mu.Lock()
	producerID := r.consumerToProd[consumerID]
	delete(r.consumerToProd, consumerID)
	if set, ok := r.producerToCons[producerID]; ok {
		delete(set, consumerID)
	}
	r.mu.Unlock()
}

func (r *Router) registerDataProducer(id string, handle WeakHandle[DataProducer]) {
	r.mu.Lock()
	r.dataProducers[id] = handle
	r.mu.Unlock()
}

func (r *Router) unregisterDataProducer(id string) {
	r.mu.Lock()
	delete(r.dataProducers, id)
	r.mu.Unlock()
}

func (r *Router) getProducer(id string) (producerCore, bool) {
	r.mu.Lock()
	handle, ok := r.producers[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	p, ok := handle.Upgrade()
	if !ok {
		return nil, false
	}
	return *p, true
}

// CanConsume reports whether remoteCaps shares at least one compatible
// codec with producerID's consumable RTP parameters (spec.md §4.4).
func (r *Router) CanConsume(producerID string, remoteCaps RtpCapabilities) bool {
	producer, ok := r.getProducer(producerID)
	if !ok {
		return false
	}
	return canConsumeCapabilities(producer.consumableRtpParameters(), remoteCaps)
}

func (r *Router) registerRtpObserver(id string, handle WeakHandle[baseRtpObserver]) {
	r.mu.Lock()
	r.rtpObservers[id] = handle
	r.mu.Unlock()
}

func (r *Router) unregisterRtpObserver(id string) {
	r.mu.Lock()
	delete(r.rtpObservers, id)
	r.mu.Unlock()
}

// CreateWebRtcTransport creates a WebRtcTransport on this router.
func (r *Router) CreateWebRtcTransport(ctx context.Context, options WebRtcTransportOptions) (*WebRtcTransport, error) {
	return newWebRtcTransport(ctx, r, options)
}

// CreatePlainTransport creates a PlainTransport on this router.
func (r *Router) CreatePlainTransport(ctx context.Context, options PlainTransportOptions) (*PlainTransport, error) {
	return newPlainTransport(ctx, r, options)
}

// CreatePipeTransport creates a PipeTransport on this router.
func (r *Router) CreatePipeTransport(ctx context.Context, options PipeTransportOptions) (*PipeTransport, error) {
	return newPipeTransport(ctx, r, options)
}

// CreateDirectTransport creates a DirectTransport on this router.
func (r *Router) CreateDirectTransport(ctx context.Context, options DirectTransportOptions) (*DirectTransport, error) {
	return newDirectTransport(ctx, r, options)
}

// CreateAudioLevelObserver creates an AudioLevelObserver on this router.
func (r *Router) CreateAudioLevelObserver(ctx context.Context, options AudioLevelObserverOptions) (*AudioLevelObserver, error) {
	return newAudioLevelObserver(ctx, r, options)
}

// CreateActiveSpeakerObserver creates an ActiveSpeakerObserver on this router.
func (r *Router) CreateActiveSpeakerObserver(ctx context.Context, options ActiveSpeakerObserverOptions) (*ActiveSpeakerObserver, error) {
	return newActiveSpeakerObserver(ctx, r, options)
}

// PipeProducerToRouter mirrors producerID's stream into targetRouter,
// creating (or reusing) an interlocked pair of PipeTransports between the
// two routers, and returns the proxy Producer created on targetRouter
// (spec.md §4.4). Piping the same producer twice returns the same proxy.
func (r *Router) PipeProducerToRouter(ctx context.Context, producerID string, targetRouter *Router) (*Producer, error) {
	producer, ok := r.getProducer(producerID)
	if !ok {
		return nil, NewTypeError("producer with id %q not found", producerID)
	}

	pair, err := r.getOrCreatePipeTransportPair(ctx, targetRouter)
	if err != nil {
		return nil, err
	}

	pipeConsumer, err := pair.local.Consume(ctx, ConsumerOptions{ProducerId: producerID})
	if err != nil {
		return nil, err
	}

	proxyProducer, err := pair.remote.Produce(ctx, ProducerOptions{
		Id:            producerID,
		Kind:          producer.kind(),
		RtpParameters: pipeConsumer.RtpParameters(),
		Paused:        pipeConsumer.ProducerPaused(),
	})
	if err != nil {
		return nil, err
	}

	return proxyProducer, nil
}

func (r *Router) getOrCreatePipeTransportPair(ctx context.Context, targetRouter *Router) (*pipeTransportPair, error) {
	key := pipePairKey(r.internal.RouterId, targetRouter.internal.RouterId)

	r.pipeMu.Lock()
	if pair, ok := r.pipePairs[key]; ok {
		r.pipeMu.Unlock()
		return pair, nil
	}
	r.pipeMu.Unlock()

	result, err, _ := r.pipeGroup.Do(key, func() (interface{}, error) {
		r.pipeMu.Lock()
		if pair, ok := r.pipePairs[key]; ok {
			r.pipeMu.Unlock()
			return pair, nil
		}
		r.pipeMu.Unlock()

		localTransport, err := r.CreatePipeTransport(ctx, PipeTransportOptions{ListenIp: TransportListenIp{Ip: "127.0.0.1"}})
		if err != nil {
			return nil, err
		}
		remoteTransport, err := targetRouter.CreatePipeTransport(ctx, PipeTransportOptions{ListenIp: TransportListenIp{Ip: "127.0.0.1"}})
		if err != nil {
			return nil, err
		}

		if err := localTransport.Connect(ctx, PipeTransportConnectOptions{
			Ip:   remoteTransport.Tuple().LocalIp,
			Port: remoteTransport.Tuple().LocalPort,
		}); err != nil {
			return nil, err
		}
		if err := remoteTransport.Connect(ctx, PipeTransportConnectOptions{
			Ip:   localTransport.Tuple().LocalIp,
			Port: localTransport.Tuple().LocalPort,
		}); err != nil {
			return nil, err
		}

		pair := &pipeTransportPair{local: localTransport, remote: remoteTransport}

		r.pipeMu.Lock()
		r.pipePairs[key] = pair
		r.pipeMu.Unlock()

		localTransport.On("@close", func() {
			r.pipeMu.Lock()
			delete(r.pipePairs, key)
			r.pipeMu.Unlock()
		})

		return pair, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*pipeTransportPair), nil
}

func pipePairKey(a, b string) string {
	return a + "|" + b
}

// PipeDataProducerToRouter is structurally analogous to
// PipeProducerToRouter, using SCTP stream parameters instead of RTP ones.
func (r *Router) PipeDataProducerToRouter(ctx context.Context, dataProducerID string, targetRouter *Router) (*DataProducer, error) {
	r.mu.Lock()
	handle, ok := r.dataProducers[dataProducerID]
	r.mu.Unlock()
	if !ok {
		return nil, NewTypeError("data producer with id %q not found", dataProducerID)
	}
	dataProducer, ok := handle.Upgrade()
	if !ok {
		return nil, NewTypeError("data producer with id %q not found", dataProducerID)
	}

	pair, err := r.getOrCreatePipeTransportPair(ctx, targetRouter)
	if err != nil {
		return nil, err
	}

	pipeDataConsumer, err := pair.local.ConsumeData(ctx, DataConsumerOptions{DataProducerId: dataProducerID})
	if err != nil {
		return nil, err
	}

	return pair.remote.ProduceData(ctx, DataProducerOptions{
		Id:                   dataProducerID,
		SctpStreamParameters: pipeDataConsumer.SctpStreamParameters(),
		Label:                (*dataProducer).Label(),
		Protocol:             (*dataProducer).Protocol(),
	})
}
