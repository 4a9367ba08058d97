package zkteco

import (
	"fmt"
	"net"
	"sync"
	"time"
)

const DefaultTimezone = "Asia/Shanghai"

var (
	KeepAlivePeriod = time.Second * 6

	// DefaultTimeout bounds the TCP dial and every command/reply exchange.
	DefaultTimeout = 3 * time.Second

	// DefaultDataTimeout bounds the wait for the separate data envelope that
	// follows a CMD_PREPARE_DATA reply during a bulk transfer.
	DefaultDataTimeout = 10 * time.Second

	// ChunkReadDelay is the pause between bulk chunk requests so the device's
	// internal buffer is not overrun.
	ChunkReadDelay = 50 * time.Millisecond
)

// Session is one persistent TCP connection to a terminal. All mutable
// protocol state (socket, session id, reply counter, in-flight waiters,
// capacity counters) lives here; the bulk-transfer and record-decoding logic
// are plain functions over the session's send primitives.
//
// The device echoes reply ids unreliably, so correlation falls back to the
// oldest waiter (see replyRouter). The protocol therefore admits at most one
// outstanding command at a time: cmdMu serializes issue-and-await.
type Session struct {
	host     string
	port     int
	password int
	loc      *time.Location

	Timeout     time.Duration
	DataTimeout time.Duration
	Log         logger

	// mu guards conn, connected, sessionID, replyID and the device
	// snapshot below (capacity, userPacketSize, disabled).
	mu             sync.Mutex
	conn           net.Conn
	connected      bool
	sessionID      int
	replyID        int
	capacity       DeviceCapacity
	userPacketSize int
	disabled       bool

	cmdMu  sync.Mutex // one in-flight command per session
	router *replyRouter
}

// NewSession prepares a client for the terminal at host:port. password is
// the device communication key (0 when none is set); timezone names the
// location the device clock runs in.
func NewSession(host string, port int, password int, timezone string) *Session {
	if Log == nil {
		Log = defaultLogger()
	}
	return &Session{
		host:           host,
		port:           port,
		password:       password,
		loc:            LoadLocation(timezone),
		Timeout:        DefaultTimeout,
		DataTimeout:    DefaultDataTimeout,
		replyID:        USHRT_MAX - 1,
		userPacketSize: userPacketSizeLegacy,
		Log:            Log,
	}
}

func LoadLocation(timezone string) *time.Location {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Local
	}
	return location
}

// IsConnected reports whether the handshake completed and the socket is up.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// IsDisabled reports whether the terminal was last put into the locked
// state by DisableDevice.
func (s *Session) IsDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// Connect dials the terminal and runs the CONNECT/AUTH handshake. It is a
// no-op when already connected. Any handshake failure tears the socket down
// and leaves the session disconnected.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", s.host, s.port), s.Timeout)
	if err != nil {
		return fmt.Errorf("zkteco: dial %s:%d: %w", s.host, s.port, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			conn.Close()
			return fmt.Errorf("zkteco: keepalive: %w", err)
		}
		if err := tcpConn.SetKeepAlivePeriod(KeepAlivePeriod); err != nil {
			conn.Close()
			return fmt.Errorf("zkteco: keepalive period: %w", err)
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.sessionID = 0
	s.replyID = USHRT_MAX - 1 // wrap-around begins on the first command
	s.router = newReplyRouter(s.Log)
	s.mu.Unlock()

	go s.readLoop(conn)

	// No session exists yet, so the handshake commands bypass the
	// connected check.
	res, err := s.sendCommand(CMD_CONNECT, nil, true)
	if err != nil {
		s.teardown()
		return err
	}
	s.mu.Lock()
	s.sessionID = res.SessionID
	s.mu.Unlock()

	switch {
	case res.Code == CMD_ACK_UNAUTH:
		if err := s.authenticate(); err != nil {
			s.teardown()
			return err
		}
	case !res.Status:
		s.teardown()
		return protoErr(CMD_CONNECT, res.Code, "connect refused")
	}

	s.mu.Lock()
	s.connected = true
	// Assume a current-generation device; GetUsers corrects this from the
	// actual parsed layout.
	s.userPacketSize = userPacketSizeCurrent
	s.mu.Unlock()

	s.Log.Infof("connected to %s:%d, session_id=%d", s.host, s.port, s.sessionID)
	return nil
}

func (s *Session) authenticate() error {
	key := makeCommKey(s.password, s.sessionID, commKeyTicks)
	res, err := s.sendCommand(CMD_AUTH, key, true)
	if err != nil {
		return err
	}
	if !res.Status {
		return protoErr(CMD_AUTH, res.Code, "unauthorized")
	}
	return nil
}

// makeCommKey derives the 4-byte AUTH payload from the device password and
// the session id. The bit-reversal, the 'ZKSO' XOR, the halfword swap and
// the ticks mixing must all match the firmware exactly.
func makeCommKey(password, sessionID, ticks int) []byte {
	key := uint32(password)
	var k uint32
	for i := 0; i < 32; i++ {
		if key&(1<<uint(i)) != 0 {
			k = k<<1 | 1
		} else {
			k <<= 1
		}
	}
	k += uint32(sessionID)

	k ^= 0x4f534b5a // bytes 0..3 ^= 'Z','K','S','O'
	k = k<<16 | k>>16

	t := uint32(byte(ticks))
	// bytes 0, 1 and 3 are XORed with the ticks byte; byte 2 carries it.
	k = (k & 0xFF00FFFF) ^ (t | t<<8 | t<<16 | t<<24)

	out, _ := newBP().Pack([]string{"I"}, []interface{}{int(k)})
	return out
}

// Disconnect sends a best-effort EXIT and tears the connection down. It is
// idempotent; concurrent failure callbacks can race into it safely.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	// Flip the flag first so re-entrant disconnects become no-ops.
	s.connected = false
	s.mu.Unlock()

	if _, err := s.sendCommand(CMD_EXIT, nil, true); err != nil {
		s.Log.Errorf("exit command failed: %v", err)
	}
	s.teardown()
	return nil
}

// teardown closes the socket and fails every pending waiter. Safe to call
// more than once.
func (s *Session) teardown() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.sessionID = 0
	router := s.router
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if router != nil {
		router.clear()
	}
}

// readLoop is the single reader of the socket. It reassembles envelopes from
// the raw byte stream and hands each to the router. A read error while the
// session is up means the device went away; the connection is dropped and
// pending callers are failed.
func (s *Session) readLoop(conn net.Conn) {
	fr := &framer{}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if s.IsConnected() {
				s.Log.Errorf("socket read failed: %v", err)
			}
			s.teardown()
			return
		}
		for _, env := range fr.feed(buf[:n]) {
			s.handleEnvelope(env)
		}
	}
}

func (s *Session) handleEnvelope(env envelope) {
	header, body, err := parseHeader(env.payload)
	if err != nil {
		s.Log.Errorf("dropping malformed packet: %v", err)
		return
	}
	s.Log.Debugf("recv code=%d session=%d reply=%d len=%d",
		header.Command, header.SessionID, header.ReplyID, len(body))
	s.router.dispatch(header, body)
}

// SendCommand runs one command/reply exchange and returns the parsed reply.
// It fails immediately when the session is not connected.
func (s *Session) SendCommand(command int, body []byte) (*Response, error) {
	return s.sendCommand(command, body, false)
}

func (s *Session) sendCommand(command int, body []byte, bypass bool) (*Response, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	replyID, w, err := s.issue(command, body, bypass)
	if err != nil {
		return nil, err
	}
	return s.await(command, replyID, w, s.Timeout)
}

// issue assigns the next reply id, registers a waiter under it, and writes
// the framed packet. The waiter is registered before the write so a fast
// reply cannot slip past, and removed again when the write fails.
func (s *Session) issue(command int, body []byte, bypass bool) (int, waiter, error) {
	s.mu.Lock()
	if !s.connected && !bypass {
		s.mu.Unlock()
		return 0, nil, ErrNotConnected
	}
	conn := s.conn
	router := s.router
	if conn == nil || router == nil {
		s.mu.Unlock()
		return 0, nil, ErrNotConnected
	}
	s.replyID = (s.replyID + 1) % (USHRT_MAX + 1)
	replyID := s.replyID
	sessionID := s.sessionID
	s.mu.Unlock()

	packet, err := createHeader(command, body, sessionID, replyID)
	if err != nil {
		return 0, nil, err
	}
	top, err := createTCPTop(packet)
	if err != nil {
		return 0, nil, err
	}

	s.Log.Debugf("send cmd=%d session=%d reply=%d len=%d", command, sessionID, replyID, len(body))

	w := router.register(replyID)
	if _, err := conn.Write(top); err != nil {
		router.remove(replyID)
		return 0, nil, fmt.Errorf("zkteco: write command %d: %w", command, err)
	}
	return replyID, w, nil
}

// await blocks until the waiter resolves or the timeout passes. A timeout
// removes the registration and fails only this caller; the socket stays up.
func (s *Session) await(command, replyID int, w waiter, timeout time.Duration) (*Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res, ok := <-w:
		if !ok {
			return nil, fmt.Errorf("zkteco: command %d: connection closed", command)
		}
		return res, nil
	case <-timer.C:
		s.mu.Lock()
		router := s.router
		s.mu.Unlock()
		if router != nil {
			router.remove(replyID)
		}
		return nil, fmt.Errorf("zkteco: command %d: %w", command, ErrTimeout)
	}
}
