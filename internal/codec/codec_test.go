package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpack(t *testing.T) {
	payload := []byte(strings.Repeat(`{"x": 1, "path": "/data/$RUN"}`, 20))
	packed, err := Pack(payload)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(payload))

	unpacked, err := Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, payload, unpacked)
}

func TestPackURLUsesURLAlphabet(t *testing.T) {
	packed, err := PackURL([]byte("flowchart TD\n    a --> b\n"))
	require.NoError(t, err)
	assert.NotContains(t, packed, "+")
	assert.NotContains(t, packed, "/")

	unpacked, err := UnpackURL(packed)
	require.NoError(t, err)
	assert.Equal(t, "flowchart TD\n    a --> b\n", string(unpacked))
}

func TestUnpackRejectsGarbage(t *testing.T) {
	_, err := Unpack("%%%")
	assert.Error(t, err)
	_, err = Unpack("aGVsbG8=")
	assert.Error(t, err)
}
