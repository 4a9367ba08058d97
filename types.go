package zkteco

import (
	"fmt"
	"time"
)

// Response is the parsed reply to a single command.
type Response struct {
	Status    bool // true for ACK_OK, PREPARE_DATA and DATA
	Code      int
	SessionID int
	ReplyID   int
	Data      []byte
}

func (r Response) String() string {
	return fmt.Sprintf("Status %v Code %d DataLen %d", r.Status, r.Code, len(r.Data))
}

// User is one enrolled person on the terminal.
type User struct {
	UID       int    // internal slot number
	UserID    string // badge number shown on the device
	Name      string
	Privilege int
	Password  string
	GroupID   string
	Card      uint32
}

// Attendance is one punch record.
type Attendance struct {
	UID        int
	UserID     string
	AttendedAt time.Time
	Status     int // verify method (password/fingerprint/card)
	Punch      int // check-in/check-out/break codes
}

// DeviceCapacity is the counter snapshot returned by CMD_GET_FREE_SIZES.
// It is refreshed on demand and never auto-synchronized.
type DeviceCapacity struct {
	Users     int
	Fingers   int
	Records   int
	Passwords int
	Admins    int

	UsersCapacity   int
	FingersCapacity int
	RecordsCapacity int

	Faces         int
	FacesCapacity int
}
