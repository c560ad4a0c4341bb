package mediasoup

import (
	"context"

	"github.com/imdario/mergo"
)

// ActiveSpeakerObserverOptions configures CreateActiveSpeakerObserver
// (spec.md §4.8).
type ActiveSpeakerObserverOptions struct {
	IntervalMs int
	AppData    H
}

func (o ActiveSpeakerObserverOptions) withDefaults() ActiveSpeakerObserverOptions {
	if err := mergo.Merge(&o, ActiveSpeakerObserverOptions{IntervalMs: 300}); err != nil {
		return o
	}
	return o
}

// ActiveSpeakerObserver emits dominantspeaker whenever the dominant producer
// among its tracked set changes (spec.md §4.8).
type ActiveSpeakerObserver struct {
	*rtpObserverCore
}

func newActiveSpeakerObserver(ctx context.Context, router *Router, options ActiveSpeakerObserverOptions) (*ActiveSpeakerObserver, error) {
	options = options.withDefaults()
	internal := internalData{RouterId: router.Id(), RtpObserverId: newRtpObserverId()}

	reqData := H{"interval": options.IntervalMs}
	if err := router.channel.Request(ctx, "router.createActiveSpeakerObserver", internal, reqData).Err(); err != nil {
		return nil, err
	}

	core := newRtpObserverCore("ActiveSpeakerObserver", router, internal, options.AppData)
	o := &ActiveSpeakerObserver{rtpObserverCore: core}

	router.registerRtpObserver(internal.RtpObserverId, newRtpObserverWeakHandle(o))
	o.handleWorkerNotifications()
	router.observer.SafeEmit("newrtpobserver", o)

	return o, nil
}

func (o *ActiveSpeakerObserver) handleWorkerNotifications() {
	o.channel.Subscribe(o.internal.RtpObserverId, func(event string, data []byte) {
		if event != "dominantspeaker" {
			o.logger.V(1).Info("ignoring unknown active speaker observer notification", "event", event)
			return
		}
		var payload struct {
			ProducerId string `json:"producerId"`
		}
		if err := unmarshalNotification(data, &payload); err != nil {
			return
		}
		producer, ok := o.resolveProducer(payload.ProducerId)
		if !ok {
			return
		}
		o.SafeEmit("dominantspeaker", producer)
	})
}
