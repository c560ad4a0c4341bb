package mediasoup

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// baseRtpObserver is the narrow contract the Router's weak observer index
// needs to cascade a router-level close downward.
type baseRtpObserver interface {
	Id() string
	Closed() bool
	routerClosed()
}

// rtpObserverCore is the shared implementation embedded by
// AudioLevelObserver and ActiveSpeakerObserver (spec.md §4.8). Both support
// pause/resume and add/remove producers; they differ only in their
// notification shape.
type rtpObserverCore struct {
	IEventEmitter
	logger logr.Logger

	router   *Router
	internal internalData
	channel  *Channel

	mu     sync.Mutex
	closed bool
	paused bool

	appData  H
	observer IEventEmitter
}

func newRtpObserverCore(name string, router *Router, internal internalData, appData H) *rtpObserverCore {
	return &rtpObserverCore{
		IEventEmitter: NewEventEmitter(),
		logger:        NewLogger(fmt.Sprintf("%s[id:%s]", name, internal.RtpObserverId)),
		router:        router,
		internal:      internal,
		channel:       router.channel,
		appData:       appData,
		observer:      NewEventEmitter(),
	}
}

func (o *rtpObserverCore) Id() string             { return o.internal.RtpObserverId }
func (o *rtpObserverCore) AppData() H             { return o.appData }
func (o *rtpObserverCore) Observer() IEventEmitter { return o.observer }

func (o *rtpObserverCore) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *rtpObserverCore) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *rtpObserverCore) markClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.closed = true
	return true
}

// Close tears this observer down and issues the matching engine request.
func (o *rtpObserverCore) Close(ctx context.Context) error {
	if !o.markClosed() {
		return nil
	}
	o.channel.Unsubscribe(o.internal.RtpObserverId)
	o.router.unregisterRtpObserver(o.internal.RtpObserverId)
	o.Emit("@close")
	o.observer.SafeEmit("close")
	return o.channel.Request(ctx, "rtpObserver.close", o.internal).Err()
}

// routerClosed is invoked by the owning Router's own Close, and performs
// the same local teardown as Close without issuing a request.
func (o *rtpObserverCore) routerClosed() {
	if !o.markClosed() {
		return
	}
	o.channel.Unsubscribe(o.internal.RtpObserverId)
	o.Emit("@close")
	o.observer.SafeEmit("close")
}

// Pause mutes emissions engine-side without removing tracked producers.
func (o *rtpObserverCore) Pause(ctx context.Context) error {
	if err := o.channel.Request(ctx, "rtpObserver.pause", o.internal).Err(); err != nil {
		return err
	}
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	return nil
}

// Resume unmutes emissions.
func (o *rtpObserverCore) Resume(ctx context.Context) error {
	if err := o.channel.Request(ctx, "rtpObserver.resume", o.internal).Err(); err != nil {
		return err
	}
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	return nil
}

// AddProducer adds producerID to this observer's tracked set.
func (o *rtpObserverCore) AddProducer(ctx context.Context, producerID string) error {
	return o.channel.Request(ctx, "rtpObserver.addProducer", o.internal, H{"producerId": producerID}).Err()
}

// RemoveProducer removes producerID from this observer's tracked set.
func (o *rtpObserverCore) RemoveProducer(ctx context.Context, producerID string) error {
	return o.channel.Request(ctx, "rtpObserver.removeProducer", o.internal, H{"producerId": producerID}).Err()
}

// resolveProducer resolves a producer id reported by the engine to a live
// Producer handle via the router's index; stale ids are silently dropped
// per spec.md §4.8.
func (o *rtpObserverCore) resolveProducer(producerID string) (*Producer, bool) {
	core, ok := o.router.getProducer(producerID)
	if !ok {
		return nil, false
	}
	p, ok := core.(*Producer)
	return p, ok
}

func newRtpObserverId() string { return uuid.New().String() }

func newRtpObserverWeakHandle(o baseRtpObserver) WeakHandle[baseRtpObserver] {
	iface := o
	return NewWeakHandle(&iface, o.Closed)
}
