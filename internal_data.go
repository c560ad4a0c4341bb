package mediasoup

// internalData carries the chain of ids a request needs to reach its
// target inside the media engine (spec.md §6: "internal:{routerId?,
// transportId?, producerId?, consumerId?, ...}").
type internalData struct {
	RouterId        string `json:"routerId,omitempty"`
	TransportId     string `json:"transportId,omitempty"`
	ProducerId      string `json:"producerId,omitempty"`
	ConsumerId      string `json:"consumerId,omitempty"`
	DataProducerId  string `json:"dataProducerId,omitempty"`
	DataConsumerId  string `json:"dataConsumerId,omitempty"`
	RtpObserverId   string `json:"rtpObserverId,omitempty"`
}
