package mediasoup

// MediaKind is either "audio" or "video".
type MediaKind string

const (
	MediaKind_Audio MediaKind = "audio"
	MediaKind_Video MediaKind = "video"
)

// H is a loosely typed JSON object, used for ad hoc request bodies, matching
// the teacher's H alias for map[string]interface{}.
type H map[string]interface{}

// RtcpFeedback represents a RTCP feedback entry of a codec.
type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpCodecCapability is the input shape for codecs supplied by the
// application when creating a Router, and the shape of one entry in the
// built-in supported-capabilities table (spec.md §4.2, §6).
type RtpCodecCapability struct {
	Kind                 MediaKind      `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType int            `json:"preferredPayloadType,omitempty"`
	ClockRate            int            `json:"clockRate"`
	Channels             int            `json:"channels,omitempty"`
	Parameters           H              `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

// RtpHeaderExtension describes one header extension a Router, Producer or
// Consumer may support.
type RtpHeaderExtension struct {
	Kind             MediaKind `json:"kind,omitempty"`
	Uri              string    `json:"uri"`
	PreferredId      int       `json:"preferredId"`
	PreferredEncrypt bool      `json:"preferredEncrypt,omitempty"`
	Direction        string    `json:"direction,omitempty"`
}

// RtpCapabilities is the finalized set of codecs/header-extensions a Router
// supports, or the set of capabilities a remote peer (consumer side)
// declares.
type RtpCapabilities struct {
	Codecs           []RtpCodecCapability  `json:"codecs,omitempty"`
	HeaderExtensions []RtpHeaderExtension  `json:"headerExtensions,omitempty"`
	FecMechanisms    []string              `json:"fecMechanisms,omitempty"`
}

// RtpCodecParameters is one negotiated codec as it appears inside a
// Producer's or Consumer's RtpParameters (as opposed to a capability entry).
type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  int            `json:"payloadType"`
	ClockRate    int            `json:"clockRate"`
	Channels     int            `json:"channels,omitempty"`
	Parameters   H              `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

// RtpEncodingParametersRtx carries the RTX ssrc paired to an encoding.
type RtpEncodingParametersRtx struct {
	Ssrc uint32 `json:"ssrc"`
}

// RtpEncodingParameters describes one simulcast/SVC/simple encoding layer.
type RtpEncodingParameters struct {
	Ssrc            uint32                    `json:"ssrc,omitempty"`
	Rid             string                    `json:"rid,omitempty"`
	CodecPayloadType *int                     `json:"codecPayloadType,omitempty"`
	Rtx             *RtpEncodingParametersRtx `json:"rtx,omitempty"`
	Dtx             bool                      `json:"dtx,omitempty"`
	ScalabilityMode string                    `json:"scalabilityMode,omitempty"`
	MaxBitrate      int                       `json:"maxBitrate,omitempty"`
}

// RtpHeaderExtensionParameters is one negotiated header extension as it
// appears inside RtpParameters.
type RtpHeaderExtensionParameters struct {
	Uri        string `json:"uri"`
	Id         int    `json:"id"`
	Encrypt    bool   `json:"encrypt,omitempty"`
	Parameters H      `json:"parameters,omitempty"`
}

// RtcpParameters carries the RTCP-related parameters of a RtpParameters set.
type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize"`
	Mux         bool   `json:"mux,omitempty"`
}

// RtpParameters is the full set of RTP parameters for a Producer or
// Consumer: codecs, header extensions, encodings and RTCP configuration.
type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             RtcpParameters                 `json:"rtcp,omitempty"`
}

// mimeTypeIsRtx reports whether a mime type names a retransmission codec.
func mimeTypeIsRtx(mimeType string) bool {
	return len(mimeType) >= 4 && (mimeType[len(mimeType)-4:] == "/rtx" || mimeType[len(mimeType)-4:] == "/RTX")
}

func mimeTypeKind(mimeType string) MediaKind {
	if len(mimeType) >= 5 && mimeType[:5] == "video" {
		return MediaKind_Video
	}
	return MediaKind_Audio
}
