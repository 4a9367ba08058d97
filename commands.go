package zkteco

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnableDevice takes the terminal out of the locked state so it accepts
// punches again.
func (s *Session) EnableDevice() error {
	if err := s.simpleCommand(CMD_ENABLEDEVICE, nil, "failed to enable device"); err != nil {
		return err
	}
	s.mu.Lock()
	s.disabled = false
	s.mu.Unlock()
	return nil
}

// DisableDevice locks the terminal UI, typically around bulk reads so the
// dataset cannot change mid-transfer.
func (s *Session) DisableDevice() error {
	if err := s.simpleCommand(CMD_DISABLEDEVICE, nil, "failed to disable device"); err != nil {
		return err
	}
	s.mu.Lock()
	s.disabled = true
	s.mu.Unlock()
	return nil
}

// Restart reboots the terminal. The connection does not survive it.
func (s *Session) Restart() error {
	return s.simpleCommand(CMD_RESTART, nil, "failed to restart device")
}

// PowerOff shuts the terminal down.
func (s *Session) PowerOff() error {
	return s.simpleCommand(CMD_POWEROFF, nil, "failed to power off device")
}

// GetFirmwareVersion returns the device firmware version string.
func (s *Session) GetFirmwareVersion() (string, error) {
	res, err := s.SendCommand(CMD_VERSION, nil)
	if err != nil {
		return "", err
	}
	if !res.Status {
		return "", protoErr(CMD_VERSION, res.Code, "failed to read firmware version")
	}
	return strings.TrimRight(string(res.Data), "\x00"), nil
}

// GetTime reads the device clock.
func (s *Session) GetTime() (time.Time, error) {
	res, err := s.SendCommand(CMD_GET_TIME, nil)
	if err != nil {
		return time.Time{}, err
	}
	if !res.Status || len(res.Data) < 4 {
		return time.Time{}, protoErr(CMD_GET_TIME, res.Code, "failed to read device time")
	}
	return decodeTime(res.Data[:4], s.loc)
}

// SetTime sets the device clock.
func (s *Session) SetTime(t time.Time) error {
	body, err := newBP().Pack([]string{"I"}, []interface{}{encodeTime(t.In(s.loc))})
	if err != nil {
		return err
	}
	return s.simpleCommand(CMD_SET_TIME, body, "failed to set device time")
}

// Unlock triggers the door relay for the given number of seconds. The device
// counts in tenths of a second.
func (s *Session) Unlock(seconds int) error {
	body, err := newBP().Pack([]string{"I"}, []interface{}{seconds * 10})
	if err != nil {
		return err
	}
	return s.simpleCommand(CMD_UNLOCK, body, "failed to unlock door")
}

// TestVoice plays the built-in voice prompt with the given index (0 is
// "Thank you").
func (s *Session) TestVoice(index int) error {
	body, err := newBP().Pack([]string{"I"}, []interface{}{index})
	if err != nil {
		return err
	}
	return s.simpleCommand(CMD_TESTVOICE, body, "failed to play voice")
}

// SetUser writes one user record. The layout follows the packet size the
// session learned from the device (GetUsers corrects it), defaulting to the
// current-generation 72-byte record. String fields wider than their wire
// slot are rejected, not truncated.
func (s *Session) SetUser(user User) error {
	s.mu.Lock()
	legacy := s.userPacketSize == userPacketSizeLegacy
	s.mu.Unlock()

	var body []byte
	var err error
	if legacy {
		if err := checkUserFields(user, 5, 8, -1, -1); err != nil {
			return err
		}
		groupID, _ := strconv.Atoi(user.GroupID)
		userID, _ := strconv.Atoi(user.UserID)
		body, err = newBP().Pack(
			[]string{"H", "B", "5s", "8s", "I", "B", "B", "H", "I"},
			[]interface{}{user.UID, user.Privilege, user.Password, user.Name,
				int(user.Card), 0, groupID, 0, userID})
	} else {
		if err := checkUserFields(user, 8, 24, 7, 24); err != nil {
			return err
		}
		body, err = newBP().Pack(
			[]string{"H", "B", "8s", "24s", "I", "B", "7s", "B", "24s"},
			[]interface{}{user.UID, user.Privilege, user.Password, user.Name,
				int(user.Card), 0, user.GroupID, 0, user.UserID})
	}
	if err != nil {
		return err
	}
	return s.simpleCommand(CMD_USER_WRQ, body, "failed to write user")
}

// checkUserFields rejects string fields that do not fit their fixed-width
// wire slots. A width of -1 means the layout does not carry that field as a
// string.
func checkUserFields(user User, password, name, groupID, userID int) error {
	checks := []struct {
		field string
		value string
		width int
	}{
		{"password", user.Password, password},
		{"name", user.Name, name},
		{"group id", user.GroupID, groupID},
		{"user id", user.UserID, userID},
	}
	for _, c := range checks {
		if c.width >= 0 && len(c.value) > c.width {
			return protoErr(CMD_USER_WRQ, 0,
				fmt.Sprintf("user %s is %d bytes, wire field holds %d", c.field, len(c.value), c.width))
		}
	}
	return nil
}

// DeleteUser removes the user in the given uid slot.
func (s *Session) DeleteUser(uid int) error {
	body, err := newBP().Pack([]string{"H"}, []interface{}{uid})
	if err != nil {
		return err
	}
	return s.simpleCommand(CMD_DELETE_USER, body, "failed to delete user")
}

// ClearData wipes all user data on the device.
func (s *Session) ClearData() error {
	return s.simpleCommand(CMD_CLEAR_DATA, nil, "failed to clear data")
}

// ClearAttendanceLog wipes the attendance log on the device.
func (s *Session) ClearAttendanceLog() error {
	return s.simpleCommand(CMD_CLEAR_ATTLOG, nil, "failed to clear attendance log")
}

func (s *Session) simpleCommand(command int, body []byte, msg string) error {
	res, err := s.SendCommand(command, body)
	if err != nil {
		return err
	}
	if !res.Status {
		return protoErr(command, res.Code, msg)
	}
	return nil
}

// GetUsers pulls and decodes the full user table. The record width is probed
// from the capacity counters, so the snapshot is refreshed first; the probed
// width becomes the session's user packet size for later writes.
func (s *Session) GetUsers() ([]*User, error) {
	capacity, err := s.ReadCapacity()
	if err != nil {
		return nil, err
	}

	data, err := s.ReadWithBuffer(CMD_USERTEMP_RRQ, FCT_USER, 0)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return []*User{}, nil
	}

	sizeFields, err := newBP().UnPack([]string{"I"}, data[:4])
	if err != nil {
		return nil, err
	}
	totalSize := sizeFields[0].(int)

	recordSize := probeRecordSize(totalSize, capacity.Users,
		[]int{userPacketSizeLegacy, userPacketSizeCurrent}, userPacketSizeCurrent)
	s.mu.Lock()
	s.userPacketSize = recordSize
	s.mu.Unlock()

	return parseUsers(data[4:], recordSize), nil
}

// AttendanceFilter narrows and orders a GetAttendances result. Zero From/To
// values leave that bound open; records sort newest first unless Ascending
// is set.
type AttendanceFilter struct {
	From      time.Time
	To        time.Time
	Ascending bool
}

// GetAttendances pulls and decodes the attendance log. A nil filter returns
// everything, newest first. From/To are normalized to whole days: From to
// 00:00:00 and To to the last instant of its day.
func (s *Session) GetAttendances(filter *AttendanceFilter) ([]*Attendance, error) {
	capacity, err := s.ReadCapacity()
	if err != nil {
		return nil, err
	}
	if capacity.Records == 0 {
		return []*Attendance{}, nil
	}

	users, err := s.GetUsers()
	if err != nil {
		return nil, err
	}
	uidToUserID := make(map[int]string, len(users))
	for _, u := range users {
		uidToUserID[u.UID] = u.UserID
	}

	data, err := s.ReadWithBuffer(CMD_ATTLOG_RRQ, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return []*Attendance{}, nil
	}

	sizeFields, err := newBP().UnPack([]string{"I"}, data[:4])
	if err != nil {
		return nil, err
	}
	totalSize := sizeFields[0].(int)

	recordSize := probeRecordSize(totalSize, capacity.Records,
		[]int{attRecordSizeSmall, attRecordSizeMid, attRecordSizeLarge}, attRecordSizeLarge)

	records := parseAttendances(data[4:], recordSize, uidToUserID, s.loc)
	return filterAttendances(records, filter), nil
}

func filterAttendances(records []*Attendance, filter *AttendanceFilter) []*Attendance {
	if filter == nil {
		filter = &AttendanceFilter{}
	}

	out := records
	if !filter.From.IsZero() || !filter.To.IsZero() {
		var from, to time.Time
		if !filter.From.IsZero() {
			from = startOfDay(filter.From)
		}
		if !filter.To.IsZero() {
			to = endOfDay(filter.To)
		}
		out = make([]*Attendance, 0, len(records))
		for _, r := range records {
			if !from.IsZero() && r.AttendedAt.Before(from) {
				continue
			}
			if !to.IsZero() && r.AttendedAt.After(to) {
				continue
			}
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if filter.Ascending {
			return out[i].AttendedAt.Before(out[j].AttendedAt)
		}
		return out[i].AttendedAt.After(out[j].AttendedAt)
	})
	return out
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
