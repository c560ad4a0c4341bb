package mediasoup

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSoftErrorReason(t *testing.T) {
	assert.True(t, isSoftErrorReason("Producer not found"))
	assert.True(t, isSoftErrorReason("CONSUMER NOT FOUND"))
	assert.False(t, isSoftErrorReason("invalid dtls state"))
	assert.False(t, isSoftErrorReason(""))
}

func TestFailedToParseErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := &FailedToParseError{Method: "transport.dump", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "transport.dump")
}

func TestNewTypeErrorFormats(t *testing.T) {
	err := NewTypeError("producer with id %q not found", "abc")
	assert.Equal(t, `mediasoup: producer with id "abc" not found`, err.Error())
}

func TestResponseErrorMessage(t *testing.T) {
	err := &ResponseError{Method: "router.createPlainTransport", Reason: "wrong arguments"}
	assert.Equal(t, "mediasoup: request failed [method:router.createPlainTransport]: wrong arguments", err.Error())
}
