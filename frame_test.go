package zkteco

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope(t *testing.T, body []byte) []byte {
	t.Helper()
	packet, err := createHeader(CMD_ACK_OK, body, 1, 1)
	require.NoError(t, err)
	top, err := createTCPTop(packet)
	require.NoError(t, err)
	return top
}

func TestFramerWholeEnvelope(t *testing.T) {
	raw := testEnvelope(t, []byte("payload"))

	fr := &framer{}
	envs := fr.feed(raw)
	require.Len(t, envs, 1)
	assert.Equal(t, raw[envelopeHeaderSize:], envs[0].payload)
}

func TestFramerSplitDelivery(t *testing.T) {
	raw := testEnvelope(t, []byte("split across many reads"))

	fr := &framer{}
	var envs []envelope
	for i := range raw {
		envs = append(envs, fr.feed(raw[i:i+1])...)
	}
	require.Len(t, envs, 1)
	assert.Equal(t, raw[envelopeHeaderSize:], envs[0].payload)
}

func TestFramerMultipleEnvelopesInOneFeed(t *testing.T) {
	first := testEnvelope(t, []byte("first"))
	second := testEnvelope(t, []byte("second, longer payload"))

	fr := &framer{}
	envs := fr.feed(append(append([]byte{}, first...), second...))
	require.Len(t, envs, 2)
	assert.Equal(t, first[envelopeHeaderSize:], envs[0].payload)
	assert.Equal(t, second[envelopeHeaderSize:], envs[1].payload)
}

func TestFramerCorruptMagicClearsBuffer(t *testing.T) {
	valid := testEnvelope(t, []byte("trailing frame"))
	corrupt := append([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 0}, valid...)

	fr := &framer{}
	envs := fr.feed(corrupt)
	// The whole buffer is dropped, salvageable trailing frame included.
	assert.Empty(t, envs)
	assert.Nil(t, fr.buf)

	// A subsequent valid envelope parses from the clean state.
	envs = fr.feed(valid)
	require.Len(t, envs, 1)
	assert.Equal(t, valid[envelopeHeaderSize:], envs[0].payload)
}

func TestFramerResetDiscardsPartialFrame(t *testing.T) {
	raw := testEnvelope(t, []byte("stale"))

	fr := &framer{}
	fr.feed(raw[:10])
	fr.reset()

	envs := fr.feed(raw)
	require.Len(t, envs, 1)
	assert.Equal(t, raw[envelopeHeaderSize:], envs[0].payload)
}

func TestFramerWaitsForPartialHeader(t *testing.T) {
	raw := testEnvelope(t, []byte("abc"))

	fr := &framer{}
	assert.Empty(t, fr.feed(raw[:5]))
	envs := fr.feed(raw[5:])
	require.Len(t, envs, 1)
	assert.Equal(t, raw[envelopeHeaderSize:], envs[0].payload)
}
