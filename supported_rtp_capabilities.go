package mediasoup

// supportedRtpCapabilities is the built-in table of codecs and header
// extensions the media engine understands, keyed by MIME type and clock
// rate (spec.md §6). Grounded on itzmanish-mediasoup-go's
// mediasoup/rtp_capabilities.go table, extended with RED per spec.md §6
// ("plus synthesized RTX and RED").
//
// RTX entries are NOT listed here: per spec.md §4.2, a paired RTX codec is
// synthesized automatically for every video codec during router capability
// generation, it is never declared by the application or looked up in this
// table.
var supportedRtpCapabilities = RtpCapabilities{
	Codecs: []RtpCodecCapability{
		{Kind: MediaKind_Audio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2,
			RtcpFeedback: []RtcpFeedback{{Type: "transport-cc"}}},
		{Kind: MediaKind_Audio, MimeType: "audio/PCMU", ClockRate: 8000, PreferredPayloadType: 0},
		{Kind: MediaKind_Audio, MimeType: "audio/PCMA", ClockRate: 8000, PreferredPayloadType: 8},
		{Kind: MediaKind_Audio, MimeType: "audio/ISAC", ClockRate: 32000},
		{Kind: MediaKind_Audio, MimeType: "audio/ISAC", ClockRate: 16000},
		{Kind: MediaKind_Audio, MimeType: "audio/G722", ClockRate: 8000, PreferredPayloadType: 9},
		{Kind: MediaKind_Audio, MimeType: "audio/iLBC", ClockRate: 8000},
		{Kind: MediaKind_Audio, MimeType: "audio/SILK", ClockRate: 24000},
		{Kind: MediaKind_Audio, MimeType: "audio/SILK", ClockRate: 16000},
		{Kind: MediaKind_Audio, MimeType: "audio/SILK", ClockRate: 12000},
		{Kind: MediaKind_Audio, MimeType: "audio/SILK", ClockRate: 8000},
		{Kind: MediaKind_Audio, MimeType: "audio/CN", ClockRate: 32000, PreferredPayloadType: 13},
		{Kind: MediaKind_Audio, MimeType: "audio/CN", ClockRate: 16000, PreferredPayloadType: 13},
		{Kind: MediaKind_Audio, MimeType: "audio/CN", ClockRate: 8000, PreferredPayloadType: 13},
		{Kind: MediaKind_Audio, MimeType: "audio/telephone-event", ClockRate: 48000},
		{Kind: MediaKind_Audio, MimeType: "audio/telephone-event", ClockRate: 32000},
		{Kind: MediaKind_Audio, MimeType: "audio/telephone-event", ClockRate: 16000},
		{Kind: MediaKind_Audio, MimeType: "audio/telephone-event", ClockRate: 8000},
		{Kind: MediaKind_Video, MimeType: "video/VP8", ClockRate: 90000, RtcpFeedback: videoFeedback()},
		{Kind: MediaKind_Video, MimeType: "video/VP9", ClockRate: 90000, RtcpFeedback: videoFeedback()},
		{Kind: MediaKind_Video, MimeType: "video/H264", ClockRate: 90000,
			Parameters:   H{"packetization-mode": 1, "level-asymmetry-allowed": 1},
			RtcpFeedback: videoFeedback()},
		{Kind: MediaKind_Video, MimeType: "video/H264", ClockRate: 90000,
			Parameters:   H{"packetization-mode": 0, "level-asymmetry-allowed": 1},
			RtcpFeedback: videoFeedback()},
		{Kind: MediaKind_Video, MimeType: "video/H265", ClockRate: 90000,
			Parameters:   H{"packetization-mode": 1, "level-asymmetry-allowed": 1},
			RtcpFeedback: videoFeedback()},
		{Kind: MediaKind_Video, MimeType: "video/H265", ClockRate: 90000,
			Parameters:   H{"packetization-mode": 0, "level-asymmetry-allowed": 1},
			RtcpFeedback: videoFeedback()},
		{Kind: MediaKind_Video, MimeType: "video/red", ClockRate: 90000},
	},
	HeaderExtensions: []RtpHeaderExtension{
		{Kind: MediaKind_Audio, Uri: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredId: 1},
		{Kind: MediaKind_Video, Uri: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredId: 1},
		{Kind: MediaKind_Video, Uri: "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id", PreferredId: 2},
		{Kind: MediaKind_Video, Uri: "urn:ietf:params:rtp-hdrext:sdes:repaired-rtp-stream-id", PreferredId: 3},
		{Kind: MediaKind_Audio, Uri: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredId: 4},
		{Kind: MediaKind_Video, Uri: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredId: 4},
		{Kind: MediaKind_Audio, Uri: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", PreferredId: 5},
		{Kind: MediaKind_Video, Uri: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", PreferredId: 5},
		{Kind: MediaKind_Video, Uri: "http://www.webrtc.org/experiments/rtp-hdrext/framemarking;draft07", PreferredId: 6},
		{Kind: MediaKind_Video, Uri: "urn:ietf:params:rtp-hdrext:framemarking", PreferredId: 7},
		{Kind: MediaKind_Audio, Uri: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredId: 10},
		{Kind: MediaKind_Video, Uri: "urn:3gpp:video-orientation", PreferredId: 11},
		{Kind: MediaKind_Video, Uri: "urn:ietf:params:rtp-hdrext:toffset", PreferredId: 12},
	},
}

func videoFeedback() []RtcpFeedback {
	return []RtcpFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
		{Type: "transport-cc"},
	}
}

// GetSupportedRtpCapabilities returns a defensive copy of the built-in
// supported-capabilities table.
func GetSupportedRtpCapabilities() RtpCapabilities {
	out := RtpCapabilities{
		Codecs:           make([]RtpCodecCapability, len(supportedRtpCapabilities.Codecs)),
		HeaderExtensions: append([]RtpHeaderExtension(nil), supportedRtpCapabilities.HeaderExtensions...),
	}
	for i, c := range supportedRtpCapabilities.Codecs {
		cc := c
		if c.Parameters != nil {
			cc.Parameters = H{}
			for k, v := range c.Parameters {
				cc.Parameters[k] = v
			}
		}
		if c.RtcpFeedback != nil {
			cc.RtcpFeedback = append([]RtcpFeedback(nil), c.RtcpFeedback...)
		}
		out.Codecs[i] = cc
	}
	return out
}
