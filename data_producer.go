package mediasoup

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// DataProducerType distinguishes an SCTP-backed data producer from a
// DirectTransport's in-process one.
type DataProducerType string

const (
	DataProducerType_Sctp   DataProducerType = "sctp"
	DataProducerType_Direct DataProducerType = "direct"
)

// SctpStreamParameters identifies one SCTP stream carrying a data channel.
type SctpStreamParameters struct {
	StreamId          int    `json:"streamId"`
	Ordered           *bool  `json:"ordered,omitempty"`
	MaxPacketLifeTime int    `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    int    `json:"maxRetransmits,omitempty"`
}

// DataProducerOptions configures ProduceData. Id mirrors ProducerOptions.Id:
// normally empty, only set by the router's piping path.
type DataProducerOptions struct {
	Id                   string
	SctpStreamParameters SctpStreamParameters
	Label                string
	Protocol             string
	AppData              H
}

type dataProducerData struct {
	Type                 DataProducerType     `json:"type"`
	SctpStreamParameters SctpStreamParameters `json:"sctpStreamParameters"`
	Label                string               `json:"label"`
	Protocol             string               `json:"protocol"`
}

// DataProducer represents an inbound SCTP or in-process data stream from one
// peer (spec.md §4.6). It is passive except that DirectTransport-backed
// instances accept in-process Send.
type DataProducer struct {
	IEventEmitter
	logger logr.Logger

	internal internalData
	data     dataProducerData

	channel        *Channel
	payloadChannel *PayloadChannel

	mu     sync.Mutex
	closed bool

	appData  H
	observer IEventEmitter
}

func newDataProducer(internal internalData, data dataProducerData, channel *Channel, payloadChannel *PayloadChannel, appData H) *DataProducer {
	dp := &DataProducer{
		IEventEmitter:  NewEventEmitter(),
		logger:         NewLogger(fmt.Sprintf("DataProducer[id:%s]", internal.DataProducerId)),
		internal:       internal,
		data:           data,
		channel:        channel,
		payloadChannel: payloadChannel,
		appData:        appData,
		observer:       NewEventEmitter(),
	}
	dp.handleWorkerNotifications()
	return dp
}

func (dp *DataProducer) Id() string       { return dp.internal.DataProducerId }
func (dp *DataProducer) Type() DataProducerType { return dp.data.Type }
func (dp *DataProducer) SctpStreamParameters() SctpStreamParameters {
	return dp.data.SctpStreamParameters
}
func (dp *DataProducer) Label() string            { return dp.data.Label }
func (dp *DataProducer) Protocol() string         { return dp.data.Protocol }
func (dp *DataProducer) AppData() H               { return dp.appData }
func (dp *DataProducer) Observer() IEventEmitter  { return dp.observer }

func (dp *DataProducer) Closed() bool {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.closed
}

func (dp *DataProducer) Close(ctx context.Context) error {
	if !dp.markClosed() {
		return nil
	}
	dp.channel.Unsubscribe(dp.internal.DataProducerId)
	dp.Emit("@close")
	dp.observer.SafeEmit("close")
	return dp.channel.Request(ctx, "dataProducer.close", dp.internal).Err()
}

func (dp *DataProducer) transportClosed() {
	if !dp.markClosed() {
		return
	}
	dp.channel.Unsubscribe(dp.internal.DataProducerId)
	dp.SafeEmit("transportclose")
	dp.observer.SafeEmit("close")
}

func (dp *DataProducer) markClosed() bool {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.closed {
		return false
	}
	dp.closed = true
	return true
}

// Dump returns the engine's internal dump of this data producer.
func (dp *DataProducer) Dump(ctx context.Context) ([]byte, error) {
	resp := dp.channel.Request(ctx, "dataProducer.dump", dp.internal)
	return resp.Data(), resp.Err()
}

// GetStats returns the engine's statistics for this data producer.
func (dp *DataProducer) GetStats(ctx context.Context) ([]byte, error) {
	resp := dp.channel.Request(ctx, "dataProducer.getStats", dp.internal)
	return resp.Data(), resp.Err()
}

// Send submits an in-process message on a DirectTransport's data producer,
// round-tripping through the payload channel.
func (dp *DataProducer) Send(ctx context.Context, message WebRtcMessage) error {
	ppid, payload := message.encode()
	return dp.payloadChannel.Notify("dataProducer.send", dp.internal, payload, H{"ppid": ppid})
}

func (dp *DataProducer) handleWorkerNotifications() {
	dp.channel.Subscribe(dp.internal.DataProducerId, func(event string, data []byte) {
		dp.logger.V(1).Info("ignoring unknown data producer notification", "event", event)
	})
}
