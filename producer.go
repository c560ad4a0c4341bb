package mediasoup

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// ProducerType reports the negotiated delivery shape of a Producer's stream.
type ProducerType string

const (
	ProducerType_Simple    ProducerType = "simple"
	ProducerType_Simulcast ProducerType = "simulcast"
	ProducerType_SVC       ProducerType = "svc"
)

// ProducerScore is one source-encoding score entry (spec.md §4.6).
type ProducerScore struct {
	Ssrc    uint32 `json:"ssrc"`
	Rid     string `json:"rid,omitempty"`
	Score   int    `json:"score"`
}

// ProducerTraceEventType names one of the opt-in trace subscriptions.
type ProducerTraceEventType string

const (
	ProducerTraceEventType_RTP       ProducerTraceEventType = "rtp"
	ProducerTraceEventType_KeyFrame  ProducerTraceEventType = "keyframe"
	ProducerTraceEventType_NACK      ProducerTraceEventType = "nack"
	ProducerTraceEventType_PLI       ProducerTraceEventType = "pli"
	ProducerTraceEventType_FIR       ProducerTraceEventType = "fir"
)

// ProducerTraceEventData is the payload of a "trace" notification.
type ProducerTraceEventData struct {
	Type      ProducerTraceEventType `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Direction string                 `json:"direction"`
	Info      H                      `json:"info,omitempty"`
}

// ProducerOptions configures Produce. Id is normally left empty, and Produce
// then generates a fresh UUID; it is only set by the router's piping path to
// pin a proxy producer's id to the original producer's id.
type ProducerOptions struct {
	Id            string
	Kind          MediaKind
	RtpParameters RtpParameters
	Paused        bool
	AppData       H
}

type producerData struct {
	Kind                    MediaKind     `json:"kind"`
	RtpParameters           RtpParameters `json:"rtpParameters"`
	Type                    ProducerType  `json:"type"`
	ConsumableRtpParameters RtpParameters `json:"consumableRtpParameters"`
}

// producerCore is the subset of Producer the Router needs for its weak
// index and CanConsume, kept narrow so the router package surface does not
// require importing the full Producer type graph.
type producerCore interface {
	kind() MediaKind
	consumableRtpParameters() RtpParameters
}

// Producer represents an inbound media stream from one peer (spec.md §4.6).
// It is immutable after creation except for Paused.
type Producer struct {
	IEventEmitter
	logger logr.Logger

	internal internalData
	data     producerData

	channel        *Channel
	payloadChannel *PayloadChannel

	mu     sync.Mutex
	closed bool
	paused bool
	score  []ProducerScore

	appData  H
	observer IEventEmitter
}

func newProducer(internal internalData, data producerData, channel *Channel, payloadChannel *PayloadChannel, appData H, paused bool) *Producer {
	p := &Producer{
		IEventEmitter:  NewEventEmitter(),
		logger:         NewLogger(fmt.Sprintf("Producer[id:%s]", internal.ProducerId)),
		internal:       internal,
		data:           data,
		channel:        channel,
		payloadChannel: payloadChannel,
		paused:         paused,
		appData:        appData,
		observer:       NewEventEmitter(),
	}
	p.handleWorkerNotifications()
	return p
}

func (p *Producer) Id() string                { return p.internal.ProducerId }
func (p *Producer) Kind() MediaKind           { return p.data.Kind }
func (p *Producer) kind() MediaKind           { return p.data.Kind }
func (p *Producer) RtpParameters() RtpParameters { return p.data.RtpParameters }
func (p *Producer) Type() ProducerType        { return p.data.Type }
func (p *Producer) AppData() H                { return p.appData }
func (p *Producer) Observer() IEventEmitter   { return p.observer }

func (p *Producer) consumableRtpParameters() RtpParameters { return p.data.ConsumableRtpParameters }

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Score() []ProducerScore {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProducerScore(nil), p.score...)
}

// Close notifies the engine and cascades close to every Consumer of this
// producer; the caller's Transport/Router wires the cascade via @close.
func (p *Producer) Close(ctx context.Context) error {
	if !p.markClosed() {
		return nil
	}
	p.channel.Unsubscribe(p.internal.ProducerId)
	p.Emit("@close")
	p.observer.SafeEmit("close")
	return p.channel.Request(ctx, "producer.close", p.internal).Err()
}

// transportClosed is invoked by the owning Transport's own Close, and
// performs the same local teardown as Close without issuing a request (the
// transport-close or router-close request already covers it engine-side).
func (p *Producer) transportClosed() {
	if !p.markClosed() {
		return
	}
	p.channel.Unsubscribe(p.internal.ProducerId)
	p.SafeEmit("transportclose")
	p.observer.SafeEmit("close")
}

func (p *Producer) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}

// Dump returns the engine's internal dump of this producer.
func (p *Producer) Dump(ctx context.Context) ([]byte, error) {
	resp := p.channel.Request(ctx, "producer.dump", p.internal)
	return resp.Data(), resp.Err()
}

// GetStats returns the engine's RTP statistics for this producer.
func (p *Producer) GetStats(ctx context.Context) ([]byte, error) {
	resp := p.channel.Request(ctx, "producer.getStats", p.internal)
	return resp.Data(), resp.Err()
}

// Pause stops delivery to every consumer of this producer (until Resume).
func (p *Producer) Pause(ctx context.Context) error {
	if err := p.channel.Request(ctx, "producer.pause", p.internal).Err(); err != nil {
		return err
	}
	p.mu.Lock()
	wasPaused := p.paused
	p.paused = true
	p.mu.Unlock()
	if !wasPaused {
		p.Emit("pause")
		p.observer.SafeEmit("pause")
	}
	return nil
}

// Resume resumes delivery to every consumer of this producer.
func (p *Producer) Resume(ctx context.Context) error {
	if err := p.channel.Request(ctx, "producer.resume", p.internal).Err(); err != nil {
		return err
	}
	p.mu.Lock()
	wasPaused := p.paused
	p.paused = false
	p.mu.Unlock()
	if wasPaused {
		p.Emit("resume")
		p.observer.SafeEmit("resume")
	}
	return nil
}

// EnableTraceEvent opts the producer into the given trace event types.
func (p *Producer) EnableTraceEvent(ctx context.Context, types ...ProducerTraceEventType) error {
	return p.channel.Request(ctx, "producer.enableTraceEvent", p.internal, H{"types": types}).Err()
}

func (p *Producer) handleWorkerNotifications() {
	p.channel.Subscribe(p.internal.ProducerId, func(event string, data []byte) {
		switch event {
		case "score":
			var score []ProducerScore
			if err := unmarshalNotification(data, &score); err != nil {
				return
			}
			p.mu.Lock()
			p.score = score
			p.mu.Unlock()
			p.SafeEmit("score", score)
			p.observer.SafeEmit("score", score)
		case "videoorientationchange":
			var orientation H
			if err := unmarshalNotification(data, &orientation); err != nil {
				return
			}
			p.SafeEmit("videoorientationchange", orientation)
		case "trace":
			var trace ProducerTraceEventData
			if err := unmarshalNotification(data, &trace); err != nil {
				return
			}
			p.SafeEmit("trace", trace)
			p.observer.SafeEmit("trace", trace)
		default:
			p.logger.V(1).Info("ignoring unknown producer notification", "event", event)
		}
	})
}
