package mediasoup

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetstringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeNetstring(&buf, []byte("hello")))
	assert.Equal(t, "5:hello,", buf.String())

	got, err := readNetstring(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestReadNetstringRejectsOversizedFrame(t *testing.T) {
	oversized := strings.Repeat("a", NSPayloadMaxLen+1)
	r := bufio.NewReader(strings.NewReader(strconv.Itoa(len(oversized)) + ":" + oversized + ","))
	_, err := readNetstring(r)
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestWriteNetstringRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	err := writeNetstring(&buf, make([]byte, NSPayloadMaxLen+1))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestReadNetstringMalformedTerminator(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("3:abX"))
	_, err := readNetstring(r)
	assert.Error(t, err)
}
