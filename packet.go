package zkteco

import (
	binarypack "github.com/canhlinh/go-binary-pack"
)

func newBP() *binarypack.BinaryPack {
	return &binarypack.BinaryPack{}
}

// packetHeader is the 8-byte inner header preceding every command body.
type packetHeader struct {
	Command   int
	CheckSum  int
	SessionID int
	ReplyID   int
}

// createCheckSum sums the packet as little-endian 16-bit words with
// end-around carry (subtract 65535 on overflow, the one's-complement wrap
// real firmware expects), adds a trailing odd byte as-is, then complements.
// Wire compatibility depends on this exact sequence.
func createCheckSum(p []byte) int {
	checksum := 0
	i := 0
	for ; i+1 < len(p); i += 2 {
		checksum += int(p[i]) | int(p[i+1])<<8
		if checksum > USHRT_MAX {
			checksum -= USHRT_MAX
		}
	}
	if i < len(p) {
		checksum += int(p[i])
	}
	for checksum > USHRT_MAX {
		checksum -= USHRT_MAX
	}
	checksum = ^checksum
	for checksum < 0 {
		checksum += USHRT_MAX
	}
	return checksum
}

// createHeader builds a full inner packet: header with a zeroed checksum
// slot, body appended, checksum computed over the whole buffer and written
// back. The reply id is assigned by the caller before building, so the
// checksum always verifies against the bytes that go on the wire.
func createHeader(command int, body []byte, sessionID, replyID int) ([]byte, error) {
	buf, err := newBP().Pack([]string{"H", "H", "H", "H"},
		[]interface{}{command, 0, sessionID, replyID})
	if err != nil {
		return nil, err
	}
	buf = append(buf, body...)

	checksum := createCheckSum(buf)
	buf[2] = byte(checksum)
	buf[3] = byte(checksum >> 8)
	return buf, nil
}

// verifyCheckSum recomputes the checksum of a full inner packet with its
// checksum slot zeroed and compares it to the transmitted value.
func verifyCheckSum(packet []byte) bool {
	if len(packet) < packetHeaderSize {
		return false
	}
	got := int(packet[2]) | int(packet[3])<<8
	scratch := make([]byte, len(packet))
	copy(scratch, packet)
	scratch[2], scratch[3] = 0, 0
	return createCheckSum(scratch) == got
}

// parseHeader splits an inner packet into header fields and body.
func parseHeader(packet []byte) (*packetHeader, []byte, error) {
	if len(packet) < packetHeaderSize {
		return nil, nil, protoErr(0, 0, "malformed header: short packet")
	}
	fields, err := newBP().UnPack([]string{"H", "H", "H", "H"}, packet[:packetHeaderSize])
	if err != nil {
		return nil, nil, err
	}
	h := &packetHeader{
		Command:   fields[0].(int),
		CheckSum:  fields[1].(int),
		SessionID: fields[2].(int),
		ReplyID:   fields[3].(int),
	}
	return h, packet[packetHeaderSize:], nil
}
