package mediasoup

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// DataConsumerOptions configures ConsumeData.
type DataConsumerOptions struct {
	DataProducerId string
	Ordered        *bool
	MaxPacketLifeTime int
	MaxRetransmits    int
	AppData        H
}

type dataConsumerData struct {
	DataProducerId       string               `json:"dataProducerId"`
	Type                 DataProducerType     `json:"type"`
	SctpStreamParameters SctpStreamParameters `json:"sctpStreamParameters"`
	Label                string               `json:"label"`
	Protocol             string               `json:"protocol"`
}

// DataConsumer represents an outbound SCTP or in-process data stream to one
// peer (spec.md §4.7).
type DataConsumer struct {
	IEventEmitter
	logger logr.Logger

	internal internalData
	data     dataConsumerData

	channel        *Channel
	payloadChannel *PayloadChannel

	mu     sync.Mutex
	closed bool

	appData  H
	observer IEventEmitter
}

func newDataConsumer(internal internalData, data dataConsumerData, channel *Channel, payloadChannel *PayloadChannel, appData H) *DataConsumer {
	dc := &DataConsumer{
		IEventEmitter:  NewEventEmitter(),
		logger:         NewLogger(fmt.Sprintf("DataConsumer[id:%s]", internal.DataConsumerId)),
		internal:       internal,
		data:           data,
		channel:        channel,
		payloadChannel: payloadChannel,
		appData:        appData,
		observer:       NewEventEmitter(),
	}
	dc.handleWorkerNotifications()
	return dc
}

func (dc *DataConsumer) Id() string             { return dc.internal.DataConsumerId }
func (dc *DataConsumer) DataProducerId() string  { return dc.data.DataProducerId }
func (dc *DataConsumer) Type() DataProducerType  { return dc.data.Type }
func (dc *DataConsumer) SctpStreamParameters() SctpStreamParameters {
	return dc.data.SctpStreamParameters
}
func (dc *DataConsumer) Label() string           { return dc.data.Label }
func (dc *DataConsumer) Protocol() string        { return dc.data.Protocol }
func (dc *DataConsumer) AppData() H              { return dc.appData }
func (dc *DataConsumer) Observer() IEventEmitter { return dc.observer }

func (dc *DataConsumer) Closed() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.closed
}

func (dc *DataConsumer) Close(ctx context.Context) error {
	if !dc.markClosed() {
		return nil
	}
	dc.channel.Unsubscribe(dc.internal.DataConsumerId)
	dc.payloadChannel.Unsubscribe(dc.internal.DataConsumerId)
	dc.Emit("@close")
	dc.observer.SafeEmit("close")
	return dc.channel.Request(ctx, "dataConsumer.close", dc.internal).Err()
}

func (dc *DataConsumer) transportClosed() {
	if !dc.markClosed() {
		return
	}
	dc.channel.Unsubscribe(dc.internal.DataConsumerId)
	dc.payloadChannel.Unsubscribe(dc.internal.DataConsumerId)
	dc.SafeEmit("transportclose")
	dc.observer.SafeEmit("close")
}

func (dc *DataConsumer) markClosed() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.closed {
		return false
	}
	dc.closed = true
	return true
}

// Dump returns the engine's internal dump of this data consumer.
func (dc *DataConsumer) Dump(ctx context.Context) ([]byte, error) {
	resp := dc.channel.Request(ctx, "dataConsumer.dump", dc.internal)
	return resp.Data(), resp.Err()
}

// GetStats returns the engine's statistics for this data consumer.
func (dc *DataConsumer) GetStats(ctx context.Context) ([]byte, error) {
	resp := dc.channel.Request(ctx, "dataConsumer.getStats", dc.internal)
	return resp.Data(), resp.Err()
}

// SetBufferedAmountLowThreshold sets the threshold (bytes) at which a
// buffered-amount-low edge notification fires.
func (dc *DataConsumer) SetBufferedAmountLowThreshold(ctx context.Context, threshold int) error {
	return dc.channel.Request(ctx, "dataConsumer.setBufferedAmountLowThreshold", dc.internal, H{"threshold": threshold}).Err()
}

func (dc *DataConsumer) handleWorkerNotifications() {
	dc.channel.Subscribe(dc.internal.DataConsumerId, func(event string, data []byte) {
		switch event {
		case "dataproducerclose":
			dc.SafeEmit("dataproducerclose")
			dc.forceClose()
		case "sctpsendbufferfull":
			dc.SafeEmit("sctpsendbufferfull")
		case "bufferedamountlow":
			var payload struct {
				BufferedAmount int `json:"bufferedAmount"`
			}
			if err := unmarshalNotification(data, &payload); err != nil {
				return
			}
			dc.SafeEmit("bufferedamountlow", payload.BufferedAmount)
		default:
			dc.logger.V(1).Info("ignoring unknown data consumer notification", "event", event)
		}
	})

	dc.payloadChannel.Subscribe(dc.internal.DataConsumerId, func(event string, data, payload []byte) {
		if event != "message" {
			return
		}
		var meta struct {
			Ppid int `json:"ppid"`
		}
		_ = unmarshalNotification(data, &meta)
		message, err := decodeWebRtcMessage(meta.Ppid, payload)
		if err != nil {
			dc.logger.V(1).Info("dropping data consumer message with unknown ppid", "ppid", meta.Ppid)
			return
		}
		dc.SafeEmit("message", message)
	})
}

func (dc *DataConsumer) forceClose() {
	if !dc.markClosed() {
		return
	}
	dc.channel.Unsubscribe(dc.internal.DataConsumerId)
	dc.payloadChannel.Unsubscribe(dc.internal.DataConsumerId)
	dc.Emit("@close")
	dc.observer.SafeEmit("close")
}
