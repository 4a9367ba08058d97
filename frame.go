package zkteco

// envelope is one complete TCP transport frame: the 8-byte magic+length top
// followed by exactly payloadLength bytes of inner packet.
type envelope struct {
	payload []byte
}

// createTCPTop prepends the transport header to an inner packet.
func createTCPTop(packet []byte) ([]byte, error) {
	top, err := newBP().Pack([]string{"H", "H", "I"},
		[]interface{}{MACHINE_PREPARE_DATA_1, MACHINE_PREPARE_DATA_2, len(packet)})
	if err != nil {
		return nil, err
	}
	return append(top, packet...), nil
}

// framer reassembles complete envelopes out of an arbitrary TCP byte stream.
// TCP delivery boundaries carry no meaning: one read may hold half a frame or
// three frames back to back.
type framer struct {
	buf []byte
}

// feed appends raw bytes and returns every envelope that is now complete.
// A magic mismatch means the buffer lost sync; the whole buffer is dropped,
// trailing frames included. That is a lossy recovery, traded for never
// emitting a frame from a misaligned offset.
func (f *framer) feed(data []byte) []envelope {
	f.buf = append(f.buf, data...)

	var out []envelope
	for len(f.buf) >= envelopeHeaderSize {
		header, err := newBP().UnPack([]string{"H", "H", "I"}, f.buf[:envelopeHeaderSize])
		if err != nil {
			pkgLog().Errorf("undecodable envelope header (%v), dropping %d buffered bytes",
				err, len(f.buf))
			f.buf = nil
			return out
		}
		if header[0].(int) != MACHINE_PREPARE_DATA_1 || header[1].(int) != MACHINE_PREPARE_DATA_2 {
			pkgLog().Errorf("bad envelope magic %04x %04x, dropping %d buffered bytes",
				header[0].(int), header[1].(int), len(f.buf))
			f.buf = nil
			return out
		}

		payloadLen := header[2].(int)
		total := envelopeHeaderSize + payloadLen
		if len(f.buf) < total {
			break // wait for the rest of this frame
		}

		payload := make([]byte, payloadLen)
		copy(payload, f.buf[envelopeHeaderSize:total])
		out = append(out, envelope{payload: payload})
		f.buf = f.buf[total:]
	}

	if len(f.buf) == 0 {
		f.buf = nil
	}
	return out
}

// reset discards any partially buffered frame.
func (f *framer) reset() {
	f.buf = nil
}
