package mediasoup

import (
	"fmt"

	"github.com/pion/sctp"
)

// WebRtcMessage PPID values (spec.md §6): the SCTP payload-protocol
// identifier that distinguishes string from binary data, including the
// empty-payload special cases (SCTP cannot carry a zero-length DATA chunk,
// so empty strings/buffers are signalled by PPID alone with a one-byte
// placeholder payload). These reuse pion/sctp's own WebRTC PPID table
// rather than redeclaring the constants.
const (
	ppidString      = int(sctp.PayloadTypeWebRTCString)
	ppidBinary      = int(sctp.PayloadTypeWebRTCBinary)
	ppidEmptyString = int(sctp.PayloadTypeWebRTCStringEmpty)
	ppidEmptyBinary = int(sctp.PayloadTypeWebRTCBinaryEmpty)
)

// WebRtcMessageKind distinguishes the four WebRtcMessage variants.
type WebRtcMessageKind int

const (
	WebRtcMessageString WebRtcMessageKind = iota
	WebRtcMessageBinary
	WebRtcMessageEmptyString
	WebRtcMessageEmptyBinary
)

// WebRtcMessage is one message exchanged over a DirectTransport's in-process
// data path (spec.md §4.7, §6).
type WebRtcMessage struct {
	Kind   WebRtcMessageKind
	Text   string
	Binary []byte
}

// NewStringMessage builds a WebRtcMessage carrying UTF-8 text.
func NewStringMessage(text string) WebRtcMessage {
	if text == "" {
		return WebRtcMessage{Kind: WebRtcMessageEmptyString}
	}
	return WebRtcMessage{Kind: WebRtcMessageString, Text: text}
}

// NewBinaryMessage builds a WebRtcMessage carrying an arbitrary byte payload.
func NewBinaryMessage(data []byte) WebRtcMessage {
	if len(data) == 0 {
		return WebRtcMessage{Kind: WebRtcMessageEmptyBinary}
	}
	return WebRtcMessage{Kind: WebRtcMessageBinary, Binary: data}
}

// encode returns the PPID and wire payload for this message. Empty variants
// send a single zero byte, since SCTP cannot carry a zero-length chunk.
func (m WebRtcMessage) encode() (ppid int, payload []byte) {
	switch m.Kind {
	case WebRtcMessageString:
		return ppidString, []byte(m.Text)
	case WebRtcMessageBinary:
		return ppidBinary, m.Binary
	case WebRtcMessageEmptyString:
		return ppidEmptyString, []byte{0}
	case WebRtcMessageEmptyBinary:
		return ppidEmptyBinary, []byte{0}
	default:
		return ppidEmptyString, []byte{0}
	}
}

// decodeWebRtcMessage reconstructs a WebRtcMessage from its wire PPID and
// payload. Any PPID outside the four known values is an error.
func decodeWebRtcMessage(ppid int, payload []byte) (WebRtcMessage, error) {
	switch ppid {
	case ppidString:
		return WebRtcMessage{Kind: WebRtcMessageString, Text: string(payload)}, nil
	case ppidBinary:
		return WebRtcMessage{Kind: WebRtcMessageBinary, Binary: payload}, nil
	case ppidEmptyString:
		return WebRtcMessage{Kind: WebRtcMessageEmptyString}, nil
	case ppidEmptyBinary:
		return WebRtcMessage{Kind: WebRtcMessageEmptyBinary}, nil
	default:
		return WebRtcMessage{}, fmt.Errorf("mediasoup: unsupported webrtc message ppid %d", ppid)
	}
}
