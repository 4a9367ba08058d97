package zkteco

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noChunkDelay(t *testing.T) {
	t.Helper()
	old := ChunkReadDelay
	ChunkReadDelay = 0
	t.Cleanup(func() { ChunkReadDelay = old })
}

func makeDataset(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}

func bufferSizeBody(t *testing.T, size int) []byte {
	t.Helper()
	body, err := newBP().Pack([]string{"B", "I"}, []interface{}{0, size})
	require.NoError(t, err)
	return body
}

func parseChunkRequest(t *testing.T, body []byte) (start, size int) {
	t.Helper()
	fields, err := newBP().UnPack([]string{"i", "i"}, body)
	require.NoError(t, err)
	return fields[0].(int), fields[1].(int)
}

// The device serves each chunk a different legal way: an immediate data
// packet, a prepare-data reply followed by a separate data packet, and an
// ack-ok with the bytes embedded.
func TestReadWithBufferChunked(t *testing.T) {
	noChunkDelay(t)

	const size = MAX_CHUNK*2 + 100
	dataset := makeDataset(size)

	type chunkReq struct{ start, size int }
	requests := make(chan chunkReq, 8)
	freed := make(chan bool, 1)
	nthChunk := 0

	d := startFakeDevice(t, func(conn net.Conn, h *packetHeader, body []byte) {
		switch h.Command {
		case CMD_CONNECT:
			deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, nil)
		case CMD_PREPARE_BUFFER:
			deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, bufferSizeBody(t, size))
		case CMD_READ_BUFFER:
			start, length := parseChunkRequest(t, body)
			requests <- chunkReq{start, length}
			nthChunk++
			chunk := dataset[start : start+length]
			switch nthChunk {
			case 1:
				deviceReply(t, conn, CMD_DATA, 1, h.ReplyID, chunk)
			case 2:
				deviceReply(t, conn, CMD_PREPARE_DATA, 1, h.ReplyID, bufferSizeBody(t, length))
				// The payload follows as its own envelope, without a
				// usable reply id.
				deviceReply(t, conn, CMD_DATA, 1, 0, chunk)
			default:
				deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, chunk)
			}
		case CMD_FREE_DATA:
			freed <- true
			deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, nil)
		default:
			deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, nil)
		}
	})

	s := connectedSession(t, d)
	got, err := s.ReadWithBuffer(CMD_ATTLOG_RRQ, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, dataset, got)
	close(requests)
	var gotReqs []chunkReq
	for req := range requests {
		gotReqs = append(gotReqs, req)
	}
	assert.Equal(t, []chunkReq{
		{0, MAX_CHUNK},
		{MAX_CHUNK, MAX_CHUNK},
		{MAX_CHUNK * 2, 100},
	}, gotReqs)

	select {
	case <-freed:
	default:
		t.Fatal("device buffer must be freed")
	}
}

func TestReadWithBufferFastPath(t *testing.T) {
	payload := []byte("small dataset")
	seen := make(chan int, 16)

	d := startFakeDevice(t, func(conn net.Conn, h *packetHeader, body []byte) {
		seen <- h.Command
		switch h.Command {
		case CMD_CONNECT:
			deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, nil)
		case CMD_PREPARE_BUFFER:
			deviceReply(t, conn, CMD_DATA, 1, h.ReplyID, payload)
		default:
			deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, nil)
		}
	})

	s := connectedSession(t, d)
	got, err := s.ReadWithBuffer(CMD_USERTEMP_RRQ, FCT_USER, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The whole result was embedded; no chunk reads, no free.
	close(seen)
	for cmd := range seen {
		assert.NotEqual(t, CMD_READ_BUFFER, cmd)
		assert.NotEqual(t, CMD_FREE_DATA, cmd)
	}
}

func TestReadWithBufferZeroSize(t *testing.T) {
	d := startFakeDevice(t, func(conn net.Conn, h *packetHeader, body []byte) {
		switch h.Command {
		case CMD_PREPARE_BUFFER:
			deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, bufferSizeBody(t, 0))
		default:
			deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, nil)
		}
	})

	s := connectedSession(t, d)
	got, err := s.ReadWithBuffer(CMD_ATTLOG_RRQ, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadWithBufferChunkFailureFreesBuffer(t *testing.T) {
	noChunkDelay(t)
	seen := make(chan int, 16)

	d := startFakeDevice(t, func(conn net.Conn, h *packetHeader, body []byte) {
		seen <- h.Command
		switch h.Command {
		case CMD_PREPARE_BUFFER:
			deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, bufferSizeBody(t, 100))
		case CMD_READ_BUFFER:
			deviceReply(t, conn, CMD_ACK_ERROR, 1, h.ReplyID, nil)
		default:
			deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, nil)
		}
	})

	s := connectedSession(t, d)
	_, err := s.ReadWithBuffer(CMD_ATTLOG_RRQ, 0, 0)
	require.Error(t, err)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CMD_READ_BUFFER, perr.Cmd)

	close(seen)
	freed := false
	for cmd := range seen {
		if cmd == CMD_FREE_DATA {
			freed = true
		}
	}
	assert.True(t, freed, "free data must be attempted after a failed chunk")
}

func TestReadWithBufferRefused(t *testing.T) {
	d := startFakeDevice(t, func(conn net.Conn, h *packetHeader, body []byte) {
		switch h.Command {
		case CMD_PREPARE_BUFFER:
			deviceReply(t, conn, CMD_ACK_ERROR, 1, h.ReplyID, nil)
		default:
			deviceReply(t, conn, CMD_ACK_OK, 1, h.ReplyID, nil)
		}
	})

	s := connectedSession(t, d)
	_, err := s.ReadWithBuffer(CMD_ATTLOG_RRQ, 0, 0)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CMD_PREPARE_BUFFER, perr.Cmd)
}
