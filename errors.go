package mediasoup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrChannelClosed is returned by any request made after the Channel (or its
// owning Worker) has been closed, and by pending requests whose Channel is
// closed while they wait for a reply.
var ErrChannelClosed = errors.New("mediasoup: channel closed")

// ErrMessageTooLong is returned when an outgoing request frame would exceed
// NS_PAYLOAD_MAX_LEN.
var ErrMessageTooLong = errors.New("mediasoup: message too long")

// ErrPayloadTooLong is returned when an outgoing payload-channel binary
// payload would exceed NS_PAYLOAD_MAX_LEN.
var ErrPayloadTooLong = errors.New("mediasoup: payload too long")

// ErrCannotAllocate is returned by the ORTC mapper when no payload type slot
// remains in either dynamic range.
var ErrCannotAllocate = errors.New("mediasoup: cannot allocate payload type")

// ErrBadConsumerRtpParameters is returned by Consume when the consuming
// endpoint's RTP capabilities share no codec with the producer.
var ErrBadConsumerRtpParameters = errors.New("mediasoup: no compatible media codec between producer and consumer")

// TimeoutError is returned when a request exceeds its deadline.
type TimeoutError struct {
	Method string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mediasoup: request timed out [method:%s]", e.Method)
}

// ResponseError wraps an error frame returned by the media engine verbatim
// (after soft-error handling has been ruled out).
type ResponseError struct {
	Method string
	Reason string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("mediasoup: request failed [method:%s]: %s", e.Method, e.Reason)
}

// FailedToParseError wraps a JSON decode failure of an accepted response's
// data field. It always indicates a bug: the engine accepted the request but
// returned a shape the controller did not expect.
type FailedToParseError struct {
	Method string
	Err    error
}

func (e *FailedToParseError) Error() string {
	return fmt.Sprintf("mediasoup: failed to parse response [method:%s]: %v", e.Method, e.Err)
}

func (e *FailedToParseError) Unwrap() error { return e.Err }

// BadRtpParametersError is returned by the ORTC mapper for structurally
// invalid RTP parameters (duplicate payload types, RTX without a matching
// apt, empty codec lists). A colliding MID is reported as a TypeError.
type BadRtpParametersError struct {
	Reason string
}

func (e *BadRtpParametersError) Error() string {
	return fmt.Sprintf("mediasoup: bad rtp parameters: %s", e.Reason)
}

// UnsupportedCodecError is returned by the ORTC mapper when a codec cannot be
// matched against the router's supported/finalized capabilities.
type UnsupportedCodecError struct {
	MimeType string
}

func (e *UnsupportedCodecError) Error() string {
	return fmt.Sprintf("mediasoup: unsupported codec %q", e.MimeType)
}

// InvalidStateError describes a method called while the object is in a state
// that forbids it. No function in this package returns it; for instance,
// WebRtcTransport.Connect makes no state check of its own.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("mediasoup: invalid state: %s", e.Reason)
}

// TypeError signals a programming error detected at the API boundary
// (malformed options, nil required fields).
type TypeError struct {
	Reason string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("mediasoup: %s", e.Reason)
}

// NewTypeError builds a *TypeError, mirroring the teacher's NewTypeError helper.
func NewTypeError(format string, args ...interface{}) *TypeError {
	return &TypeError{Reason: fmt.Sprintf(format, args...)}
}

// isSoftErrorReason reports whether an engine error reason string should be
// treated as a soft failure (the target object is already gone on the engine
// side), per spec.md §4.1 and §6.
func isSoftErrorReason(reason string) bool {
	return strings.Contains(strings.ToLower(reason), "not found")
}
