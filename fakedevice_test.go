package zkteco

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDevice is an in-process terminal speaking the wire protocol over a
// loopback listener. A test supplies a handler that sees each decoded
// command packet and writes replies through the reply helpers.
type fakeDevice struct {
	ln     net.Listener
	handle func(conn net.Conn, h *packetHeader, body []byte)
}

func startFakeDevice(t *testing.T, handle func(conn net.Conn, h *packetHeader, body []byte)) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &fakeDevice{ln: ln, handle: handle}
	go d.serve()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *fakeDevice) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			fr := &framer{}
			buf := make([]byte, 4096)
			for {
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				for _, env := range fr.feed(buf[:n]) {
					h, body, err := parseHeader(env.payload)
					if err != nil {
						continue
					}
					d.handle(conn, h, body)
				}
			}
		}()
	}
}

func (d *fakeDevice) hostPort(t *testing.T) (string, int) {
	t.Helper()
	addr := d.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// deviceReply frames and writes one packet from the fake device.
func deviceReply(t *testing.T, conn net.Conn, code, sessionID, replyID int, data []byte) {
	t.Helper()
	packet, err := createHeader(code, data, sessionID, replyID)
	require.NoError(t, err)
	top, err := createTCPTop(packet)
	require.NoError(t, err)
	_, err = conn.Write(top)
	require.NoError(t, err)
}

// okDevice answers every command with ACK_OK under the given session id.
// Commands are reported on seen when it is non-nil.
func okDevice(t *testing.T, sessionID int, seen chan<- int) func(conn net.Conn, h *packetHeader, body []byte) {
	return func(conn net.Conn, h *packetHeader, body []byte) {
		if seen != nil {
			seen <- h.Command
		}
		deviceReply(t, conn, CMD_ACK_OK, sessionID, h.ReplyID, nil)
	}
}

// connectedSession dials the fake device and completes the handshake.
func connectedSession(t *testing.T, d *fakeDevice) *Session {
	t.Helper()
	host, port := d.hostPort(t)
	s := NewSession(host, port, 0, DefaultTimezone)
	require.NoError(t, s.Connect())
	t.Cleanup(func() { s.teardown() })
	return s
}
