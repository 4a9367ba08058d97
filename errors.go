package zkteco

import (
	"errors"
	"fmt"
)

// Connection-state errors. These mean the caller used the session wrong,
// not that the device or the network misbehaved.
var (
	ErrNotConnected     = errors.New("zkteco: not connected")
	ErrAlreadyConnected = errors.New("zkteco: already connected")
)

// ErrTimeout is wrapped into the error returned when a command or a bulk
// chunk does not complete within its deadline. The socket stays up.
var ErrTimeout = errors.New("zkteco: command timed out")

// ProtocolError reports an unexpected response code from the device.
type ProtocolError struct {
	Cmd  int // command that was sent
	Code int // response code received
	Msg  string
}

func (e *ProtocolError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("zkteco: %s (cmd=%d code=%d)", e.Msg, e.Cmd, e.Code)
	}
	return fmt.Sprintf("zkteco: unexpected response %d to command %d", e.Code, e.Cmd)
}

func protoErr(cmd, code int, msg string) error {
	return &ProtocolError{Cmd: cmd, Code: code, Msg: msg}
}
