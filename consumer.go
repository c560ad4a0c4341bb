package mediasoup

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// ConsumerType mirrors ProducerType for the consumer side of a negotiation.
type ConsumerType string

const (
	ConsumerType_Simple    ConsumerType = "simple"
	ConsumerType_Simulcast ConsumerType = "simulcast"
	ConsumerType_SVC       ConsumerType = "svc"
	ConsumerType_Pipe      ConsumerType = "pipe"
)

// ConsumerScore mirrors the producer-side score but as seen from one
// consumer's current source encoding, plus the producer's own aggregate.
type ConsumerScore struct {
	Score         int `json:"score"`
	ProducerScore int `json:"producerScore"`
}

// ConsumerLayers identifies one simulcast/SVC spatial/temporal layer.
type ConsumerLayers struct {
	SpatialLayer  int  `json:"spatialLayer"`
	TemporalLayer *int `json:"temporalLayer,omitempty"`
}

// ConsumerTraceEventType names one of the opt-in trace subscriptions.
type ConsumerTraceEventType string

const (
	ConsumerTraceEventType_RTP      ConsumerTraceEventType = "rtp"
	ConsumerTraceEventType_KeyFrame ConsumerTraceEventType = "keyframe"
	ConsumerTraceEventType_NACK     ConsumerTraceEventType = "nack"
	ConsumerTraceEventType_PLI      ConsumerTraceEventType = "pli"
	ConsumerTraceEventType_FIR      ConsumerTraceEventType = "fir"
)

// ConsumerTraceEventData is the payload of a "trace" notification.
type ConsumerTraceEventData struct {
	Type      ConsumerTraceEventType `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Direction string                 `json:"direction"`
	Info      H                      `json:"info,omitempty"`
}

// ConsumerOptions configures Consume. RtpCapabilities is the consuming
// peer's declared capabilities and is required for every transport variant
// except PipeTransport, which always mirrors the producer verbatim.
type ConsumerOptions struct {
	ProducerId      string
	RtpCapabilities RtpCapabilities
	Paused          bool
	PreferredLayers *ConsumerLayers
	AppData         H
}

type consumerData struct {
	ProducerId    string        `json:"producerId"`
	Kind          MediaKind     `json:"kind"`
	RtpParameters RtpParameters `json:"rtpParameters"`
	Type          ConsumerType  `json:"type"`
}

// Consumer represents an outbound media stream to one peer (spec.md §4.7).
type Consumer struct {
	IEventEmitter
	logger logr.Logger

	internal internalData
	data     consumerData

	channel        *Channel
	payloadChannel *PayloadChannel

	mu              sync.Mutex
	closed          bool
	paused          bool
	producerPaused  bool
	priority        int
	score           ConsumerScore
	preferredLayers *ConsumerLayers
	currentLayers   *ConsumerLayers

	appData  H
	observer IEventEmitter
}

func newConsumer(internal internalData, data consumerData, channel *Channel, payloadChannel *PayloadChannel, appData H, paused, producerPaused bool, score ConsumerScore) *Consumer {
	c := &Consumer{
		IEventEmitter:  NewEventEmitter(),
		logger:         NewLogger(fmt.Sprintf("Consumer[id:%s]", internal.ConsumerId)),
		internal:       internal,
		data:           data,
		channel:        channel,
		payloadChannel: payloadChannel,
		paused:         paused,
		producerPaused: producerPaused,
		priority:       1,
		score:          score,
		appData:        appData,
		observer:       NewEventEmitter(),
	}
	c.handleWorkerNotifications()
	return c
}

func (c *Consumer) Id() string                   { return c.internal.ConsumerId }
func (c *Consumer) ProducerId() string           { return c.data.ProducerId }
func (c *Consumer) Kind() MediaKind              { return c.data.Kind }
func (c *Consumer) RtpParameters() RtpParameters { return c.data.RtpParameters }
func (c *Consumer) Type() ConsumerType           { return c.data.Type }
func (c *Consumer) AppData() H                   { return c.appData }
func (c *Consumer) Observer() IEventEmitter      { return c.observer }

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// ProducerPaused mirrors the current paused state of this consumer's
// producer (spec.md §3 invariant 6).
func (c *Consumer) ProducerPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producerPaused
}

func (c *Consumer) Priority() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priority
}

func (c *Consumer) Score() ConsumerScore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.score
}

func (c *Consumer) PreferredLayers() *ConsumerLayers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preferredLayers
}

func (c *Consumer) CurrentLayers() *ConsumerLayers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLayers
}

// Close notifies the engine and unwires this consumer from its producer's
// router-level edge.
func (c *Consumer) Close(ctx context.Context) error {
	if !c.markClosed() {
		return nil
	}
	c.channel.Unsubscribe(c.internal.ConsumerId)
	c.Emit("@close")
	c.observer.SafeEmit("close")
	return c.channel.Request(ctx, "consumer.close", c.internal).Err()
}

func (c *Consumer) transportClosed() {
	if !c.markClosed() {
		return
	}
	c.channel.Unsubscribe(c.internal.ConsumerId)
	c.SafeEmit("transportclose")
	c.observer.SafeEmit("close")
}

func (c *Consumer) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

// Dump returns the engine's internal dump of this consumer.
func (c *Consumer) Dump(ctx context.Context) ([]byte, error) {
	resp := c.channel.Request(ctx, "consumer.dump", c.internal)
	return resp.Data(), resp.Err()
}

// GetStats returns the engine's RTP statistics for this consumer.
func (c *Consumer) GetStats(ctx context.Context) ([]byte, error) {
	resp := c.channel.Request(ctx, "consumer.getStats", c.internal)
	return resp.Data(), resp.Err()
}

// Pause stops delivery to this consumer's peer locally (independent of its
// producer's own paused state).
func (c *Consumer) Pause(ctx context.Context) error {
	if err := c.channel.Request(ctx, "consumer.pause", c.internal).Err(); err != nil {
		return err
	}
	c.mu.Lock()
	wasEffectivelyPaused := c.paused || c.producerPaused
	c.paused = true
	c.mu.Unlock()
	if !wasEffectivelyPaused {
		c.Emit("pause")
		c.observer.SafeEmit("pause")
	}
	return nil
}

// Resume resumes local delivery to this consumer's peer.
func (c *Consumer) Resume(ctx context.Context) error {
	if err := c.channel.Request(ctx, "consumer.resume", c.internal).Err(); err != nil {
		return err
	}
	c.mu.Lock()
	wasEffectivelyPaused := c.paused || c.producerPaused
	c.paused = false
	nowEffectivelyPaused := c.paused || c.producerPaused
	c.mu.Unlock()
	if wasEffectivelyPaused && !nowEffectivelyPaused {
		c.Emit("resume")
		c.observer.SafeEmit("resume")
	}
	return nil
}

// SetPreferredLayers requests a simulcast/SVC layer preference; the engine
// may clamp it, and the clamped value (delivered synchronously in the
// response, per the engine's own contract) is what is stored.
func (c *Consumer) SetPreferredLayers(ctx context.Context, layers ConsumerLayers) error {
	resp := c.channel.Request(ctx, "consumer.setPreferredLayers", c.internal, layers)
	if err := resp.Err(); err != nil {
		return err
	}
	var clamped ConsumerLayers
	if err := resp.Unmarshal(&clamped); err == nil {
		c.mu.Lock()
		c.preferredLayers = &clamped
		c.mu.Unlock()
	}
	return nil
}

// SetPriority sets the consumer's bandwidth-allocation priority (1..255).
func (c *Consumer) SetPriority(ctx context.Context, priority int) error {
	if err := c.channel.Request(ctx, "consumer.setPriority", c.internal, H{"priority": priority}).Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.priority = priority
	c.mu.Unlock()
	return nil
}

// UnsetPriority resets the consumer's priority to 1.
func (c *Consumer) UnsetPriority(ctx context.Context) error {
	return c.SetPriority(ctx, 1)
}

// RequestKeyFrame asks the producer's encoder (via the engine) for a fresh
// key frame.
func (c *Consumer) RequestKeyFrame(ctx context.Context) error {
	return c.channel.Request(ctx, "consumer.requestKeyFrame", c.internal).Err()
}

// EnableTraceEvent opts the consumer into the given trace event types.
func (c *Consumer) EnableTraceEvent(ctx context.Context, types ...ConsumerTraceEventType) error {
	return c.channel.Request(ctx, "consumer.enableTraceEvent", c.internal, H{"types": types}).Err()
}

func (c *Consumer) handleWorkerNotifications() {
	c.channel.Subscribe(c.internal.ConsumerId, func(event string, data []byte) {
		switch event {
		case "producerclose":
			c.SafeEmit("producerclose")
			c.forceClose()
		case "producerpause":
			c.mu.Lock()
			wasEffectivelyPaused := c.paused || c.producerPaused
			c.producerPaused = true
			nowEffectivelyPaused := c.paused || c.producerPaused
			c.mu.Unlock()
			c.SafeEmit("producerpause")
			if !wasEffectivelyPaused && nowEffectivelyPaused {
				c.SafeEmit("pause")
			}
		case "producerresume":
			c.mu.Lock()
			wasEffectivelyPaused := c.paused || c.producerPaused
			c.producerPaused = false
			nowEffectivelyPaused := c.paused || c.producerPaused
			c.mu.Unlock()
			c.SafeEmit("producerresume")
			if wasEffectivelyPaused && !nowEffectivelyPaused {
				c.SafeEmit("resume")
			}
		case "score":
			var score ConsumerScore
			if err := unmarshalNotification(data, &score); err != nil {
				return
			}
			c.mu.Lock()
			c.score = score
			c.mu.Unlock()
			c.SafeEmit("score", score)
			c.observer.SafeEmit("score", score)
		case "layerschange":
			var layers *ConsumerLayers
			if len(data) > 0 {
				layers = &ConsumerLayers{}
				if err := unmarshalNotification(data, layers); err != nil {
					return
				}
			}
			c.mu.Lock()
			c.currentLayers = layers
			c.mu.Unlock()
			c.SafeEmit("layerschange", layers)
			c.observer.SafeEmit("layerschange", layers)
		case "trace":
			var trace ConsumerTraceEventData
			if err := unmarshalNotification(data, &trace); err != nil {
				return
			}
			c.SafeEmit("trace", trace)
			c.observer.SafeEmit("trace", trace)
		default:
			c.logger.V(1).Info("ignoring unknown consumer notification", "event", event)
		}
	})

	c.payloadChannel.Subscribe(c.internal.ConsumerId, func(event string, data, payload []byte) {
		if event == "rtp" {
			c.SafeEmit("rtp", payload)
		}
	})
}

// forceClose performs the local-only teardown triggered by a producerclose
// notification: no engine request is issued, since the engine has already
// discarded the consumer along with its producer.
func (c *Consumer) forceClose() {
	if !c.markClosed() {
		return
	}
	c.channel.Unsubscribe(c.internal.ConsumerId)
	c.payloadChannel.Unsubscribe(c.internal.ConsumerId)
	c.Emit("@close")
	c.observer.SafeEmit("close")
}
