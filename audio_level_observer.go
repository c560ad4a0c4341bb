package mediasoup

import (
	"context"

	"github.com/imdario/mergo"
)

// AudioLevelObserverOptions configures CreateAudioLevelObserver
// (spec.md §4.8).
type AudioLevelObserverOptions struct {
	MaxEntries int
	Threshold  int
	IntervalMs int
	AppData    H
}

func defaultAudioLevelObserverOptions() AudioLevelObserverOptions {
	return AudioLevelObserverOptions{MaxEntries: 1, Threshold: -80, IntervalMs: 1000}
}

func (o AudioLevelObserverOptions) withDefaults() AudioLevelObserverOptions {
	if err := mergo.Merge(&o, defaultAudioLevelObserverOptions()); err != nil {
		return o
	}
	return o
}

// AudioLevelObserverVolume is one entry of a "volumes" notification.
type AudioLevelObserverVolume struct {
	Producer *Producer
	Volume   int
}

// AudioLevelObserver emits either volumes (top-N producers above threshold)
// or silence at each interval (spec.md §4.8).
type AudioLevelObserver struct {
	*rtpObserverCore
}

func newAudioLevelObserver(ctx context.Context, router *Router, options AudioLevelObserverOptions) (*AudioLevelObserver, error) {
	options = options.withDefaults()
	internal := internalData{RouterId: router.Id(), RtpObserverId: newRtpObserverId()}

	reqData := H{
		"maxEntries": options.MaxEntries,
		"threshold":  options.Threshold,
		"interval":   options.IntervalMs,
	}
	if err := router.channel.Request(ctx, "router.createAudioLevelObserver", internal, reqData).Err(); err != nil {
		return nil, err
	}

	core := newRtpObserverCore("AudioLevelObserver", router, internal, options.AppData)
	o := &AudioLevelObserver{rtpObserverCore: core}

	router.registerRtpObserver(internal.RtpObserverId, newRtpObserverWeakHandle(o))
	o.handleWorkerNotifications()
	router.observer.SafeEmit("newrtpobserver", o)

	return o, nil
}

func (o *AudioLevelObserver) handleWorkerNotifications() {
	o.channel.Subscribe(o.internal.RtpObserverId, func(event string, data []byte) {
		switch event {
		case "volumes":
			var raw []struct {
				ProducerId string `json:"producerId"`
				Volume     int    `json:"volume"`
			}
			if err := unmarshalNotification(data, &raw); err != nil {
				return
			}
			var volumes []AudioLevelObserverVolume
			for _, v := range raw {
				if producer, ok := o.resolveProducer(v.ProducerId); ok {
					volumes = append(volumes, AudioLevelObserverVolume{Producer: producer, Volume: v.Volume})
				}
			}
			if len(volumes) > 0 {
				o.SafeEmit("volumes", volumes)
			}
		case "silence":
			o.SafeEmit("silence")
		default:
			o.logger.V(1).Info("ignoring unknown audio level observer notification", "event", event)
		}
	})
}
