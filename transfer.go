package zkteco

import (
	"fmt"
	"time"
)

// ReadWithBuffer retrieves a dataset that may exceed one packet: it asks the
// device to stage the full result (CMD_PREPARE_BUFFER), pulls it down in
// MAX_CHUNK slices, and releases the device-side buffer afterwards. Small
// results come back embedded in the first reply and skip the chunk loop.
func (s *Session) ReadWithBuffer(command, fct, ext int) ([]byte, error) {
	payload, err := newBP().Pack([]string{"b", "h", "i", "i"},
		[]interface{}{1, command, fct, ext})
	if err != nil {
		return nil, err
	}

	res, err := s.SendCommand(CMD_PREPARE_BUFFER, payload)
	if err != nil {
		return nil, err
	}

	if res.Code == CMD_DATA {
		return res.Data, nil // whole result fit in one packet
	}
	if !res.Status {
		return nil, protoErr(CMD_PREPARE_BUFFER, res.Code, "read with buffer refused")
	}
	if len(res.Data) < 5 {
		return nil, protoErr(CMD_PREPARE_BUFFER, res.Code, "undersized buffer response")
	}

	sizeFields, err := newBP().UnPack([]string{"I"}, res.Data[1:5])
	if err != nil {
		return nil, err
	}
	size := sizeFields[0].(int)
	if size == 0 {
		return nil, nil
	}

	data, chunkErr := s.readChunks(size)
	if chunkErr != nil {
		// The device buffer must still be released or later reads wedge.
		if err := s.freeData(); err != nil {
			s.Log.Errorf("free data after failed transfer: %v", err)
		}
		return nil, chunkErr
	}
	if err := s.freeData(); err != nil {
		return nil, err
	}
	return data, nil
}

// readChunks pulls size bytes as full MAX_CHUNK slices plus one remainder.
// Any chunk failure aborts the whole transfer; no partial result is returned.
func (s *Session) readChunks(size int) ([]byte, error) {
	data := make([]byte, 0, size)
	packets := size / MAX_CHUNK
	remain := size % MAX_CHUNK

	start := 0
	for i := 0; i < packets; i++ {
		chunk, err := s.readChunk(start, MAX_CHUNK)
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
		start += MAX_CHUNK
		time.Sleep(ChunkReadDelay)
	}
	if remain > 0 {
		chunk, err := s.readChunk(start, remain)
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}
	return data, nil
}

// readChunk requests size bytes at offset start from the staged buffer.
//
// The device answers one of three ways: a CMD_DATA packet carrying the chunk,
// an ACK_OK with the bytes embedded, or CMD_PREPARE_DATA announcing that the
// chunk follows as a separate data packet. Data packets may arrive without a
// usable reply id, so the bulk slot is armed before the request goes out and
// the router steers any raw data packet into it.
func (s *Session) readChunk(start, size int) ([]byte, error) {
	payload, err := newBP().Pack([]string{"i", "i"}, []interface{}{start, size})
	if err != nil {
		return nil, err
	}

	bulkCh, err := s.router.armBulk()
	if err != nil {
		return nil, err
	}
	defer s.router.disarmBulk()

	s.cmdMu.Lock()
	replyID, w, err := s.issue(CMD_READ_BUFFER, payload, false)
	if err != nil {
		s.cmdMu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(s.Timeout)
	var res *Response
	select {
	case msg, ok := <-bulkCh:
		// The chunk came straight back as a data packet.
		timer.Stop()
		s.router.remove(replyID)
		s.cmdMu.Unlock()
		if !ok {
			return nil, fmt.Errorf("zkteco: chunk read at %d: connection closed", start)
		}
		return msg.Data, nil
	case got, ok := <-w:
		timer.Stop()
		s.cmdMu.Unlock()
		if !ok {
			return nil, fmt.Errorf("zkteco: chunk read at %d: connection closed", start)
		}
		res = got
	case <-timer.C:
		s.router.remove(replyID)
		s.cmdMu.Unlock()
		return nil, fmt.Errorf("zkteco: chunk read at %d: %w", start, ErrTimeout)
	}

	switch res.Code {
	case CMD_DATA, CMD_ACK_OK:
		return res.Data, nil
	case CMD_PREPARE_DATA:
		// The data packet follows in its own envelope, on its own clock.
		timer := time.NewTimer(s.DataTimeout)
		defer timer.Stop()
		select {
		case msg, ok := <-bulkCh:
			if !ok {
				return nil, fmt.Errorf("zkteco: chunk data at %d: connection closed", start)
			}
			return msg.Data, nil
		case <-timer.C:
			return nil, fmt.Errorf("zkteco: chunk data at %d: %w", start, ErrTimeout)
		}
	default:
		return nil, protoErr(CMD_READ_BUFFER, res.Code, fmt.Sprintf("chunk read at %d failed", start))
	}
}

// freeData releases the staged buffer on the device. Failing to free leaves
// the device stuck for subsequent reads, so a refusal is fatal.
func (s *Session) freeData() error {
	res, err := s.SendCommand(CMD_FREE_DATA, nil)
	if err != nil {
		return err
	}
	if !res.Status {
		return protoErr(CMD_FREE_DATA, res.Code, "failed to free device buffer")
	}
	return nil
}
