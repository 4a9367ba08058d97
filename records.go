package zkteco

import (
	"math"
	"strconv"
	"strings"
	"time"

	iconv "github.com/djimenez/iconv-go"
)

// probeRecordSize infers the per-record width of a bulk buffer. The width is
// not on the wire: total size divided by the record count is matched against
// the known layout widths within a tolerance of one byte. An unrecognized
// quotient (or a zero count) falls back to the newest layout, which is the
// best guess for current firmware.
func probeRecordSize(totalSize, count int, known []int, fallback int) int {
	if count <= 0 {
		return fallback
	}
	quotient := float64(totalSize) / float64(count)
	for _, width := range known {
		if math.Abs(quotient-float64(width)) <= 1.0 {
			return width
		}
	}
	pkgLog().Debugf("record size %.1f matches no known layout, assuming %d", quotient, fallback)
	return fallback
}

// decodeDeviceString trims a NUL-padded field and converts it from the
// terminal's GB18030 firmware encoding. Unconvertible bytes are passed
// through unchanged rather than dropped.
func decodeDeviceString(raw string) string {
	if i := strings.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	converted, err := iconv.ConvertString(raw, "gb18030", "utf-8")
	if err != nil {
		return raw
	}
	return converted
}

// decodeTime expands a 32-bit device timestamp. The encoding uses a fixed
// 31-day/12-month radix, not calendar months; that quirk is the wire format
// and must not be corrected here.
func decodeTime(b []byte, loc *time.Location) (time.Time, error) {
	if len(b) < 4 {
		return time.Time{}, protoErr(0, 0, "short timestamp field")
	}
	fields, err := newBP().UnPack([]string{"I"}, b[:4])
	if err != nil {
		return time.Time{}, err
	}
	t := fields[0].(int)

	second := t % 60
	t /= 60
	minute := t % 60
	t /= 60
	hour := t % 24
	t /= 24
	day := t%31 + 1
	t /= 31
	month := t%12 + 1
	t /= 12
	year := t + 2000

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), nil
}

// encodeTime is the exact inverse of decodeTime, 31/12 radix and the
// year-2000 epoch included.
func encodeTime(t time.Time) int {
	return ((t.Year()-2000)*12*31+(int(t.Month())-1)*31+t.Day()-1)*24*60*60 +
		(t.Hour()*60+t.Minute())*60 + t.Second()
}

// parseUsers decodes a user-table buffer (size header already stripped) of
// fixed recordSize-byte records. A record that fails to decode is skipped;
// a truncated tail is ignored.
func parseUsers(data []byte, recordSize int) []*User {
	users := []*User{}
	for len(data) >= recordSize {
		record := data[:recordSize]
		data = data[recordSize:]

		var u *User
		var err error
		switch recordSize {
		case userPacketSizeLegacy:
			u, err = parseUserLegacy(record)
		default:
			u, err = parseUserCurrent(record)
		}
		if err != nil {
			pkgLog().Debugf("skipping undecodable user record: %v", err)
			continue
		}
		users = append(users, u)
	}
	return users
}

// Legacy 28-byte layout: uid u16, privilege u8, password 5s, name 8s,
// card u32, pad, group u8, timezone u16, user id u32.
func parseUserLegacy(record []byte) (*User, error) {
	v, err := newBP().UnPack(
		[]string{"H", "B", "5s", "8s", "I", "B", "B", "H", "I"}, record)
	if err != nil {
		return nil, err
	}
	return &User{
		UID:       v[0].(int),
		Privilege: v[1].(int),
		Password:  decodeDeviceString(v[2].(string)),
		Name:      decodeDeviceString(v[3].(string)),
		Card:      uint32(v[4].(int)),
		GroupID:   strconv.Itoa(v[6].(int)),
		UserID:    strconv.Itoa(v[8].(int)),
	}, nil
}

// Current 72-byte layout: uid u16, privilege u8, password 8s, name 24s,
// card u32, pad, group 7s, pad, user id 24s.
func parseUserCurrent(record []byte) (*User, error) {
	v, err := newBP().UnPack(
		[]string{"H", "B", "8s", "24s", "I", "B", "7s", "B", "24s"}, record)
	if err != nil {
		return nil, err
	}
	return &User{
		UID:       v[0].(int),
		Privilege: v[1].(int),
		Password:  decodeDeviceString(v[2].(string)),
		Name:      decodeDeviceString(v[3].(string)),
		Card:      uint32(v[4].(int)),
		GroupID:   decodeDeviceString(v[6].(string)),
		UserID:    decodeDeviceString(v[8].(string)),
	}, nil
}

// parseAttendances decodes an attendance-log buffer (size header stripped)
// of fixed recordSize-byte records. uidToUserID resolves internal slot
// numbers to badge numbers for the layouts that only carry the uid.
func parseAttendances(data []byte, recordSize int, uidToUserID map[int]string, loc *time.Location) []*Attendance {
	records := []*Attendance{}
	for len(data) >= recordSize {
		record := data[:recordSize]
		data = data[recordSize:]

		att, err := parseAttendance(record, recordSize, uidToUserID, loc)
		if err != nil {
			pkgLog().Debugf("skipping undecodable attendance record: %v", err)
			continue
		}
		records = append(records, att)
	}
	return records
}

func parseAttendance(record []byte, recordSize int, uidToUserID map[int]string, loc *time.Location) (*Attendance, error) {
	switch recordSize {
	case attRecordSizeSmall:
		// uid u16, status u8, timestamp u32, punch u8
		v, err := newBP().UnPack([]string{"H", "B", "4s", "B"}, record)
		if err != nil {
			return nil, err
		}
		ts, err := decodeTime([]byte(v[2].(string)), loc)
		if err != nil {
			return nil, err
		}
		uid := v[0].(int)
		return &Attendance{
			UID:        uid,
			UserID:     lookupUserID(uidToUserID, uid),
			Status:     v[1].(int),
			AttendedAt: ts,
			Punch:      v[3].(int),
		}, nil

	case attRecordSizeMid:
		// user id u32, timestamp u32, status u8, punch u8, reserved
		v, err := newBP().UnPack([]string{"I", "4s", "B", "B", "6s"}, record)
		if err != nil {
			return nil, err
		}
		ts, err := decodeTime([]byte(v[1].(string)), loc)
		if err != nil {
			return nil, err
		}
		return &Attendance{
			UserID:     strconv.Itoa(v[0].(int)),
			AttendedAt: ts,
			Status:     v[2].(int),
			Punch:      v[3].(int),
		}, nil

	default:
		// uid u16, user id 24s, status u8, timestamp u32, punch u8, reserved
		v, err := newBP().UnPack([]string{"H", "24s", "B", "4s", "B", "8s"}, record)
		if err != nil {
			return nil, err
		}
		ts, err := decodeTime([]byte(v[3].(string)), loc)
		if err != nil {
			return nil, err
		}
		uid := v[0].(int)
		userID := decodeDeviceString(v[1].(string))
		if userID == "" {
			userID = lookupUserID(uidToUserID, uid)
		}
		return &Attendance{
			UID:        uid,
			UserID:     userID,
			Status:     v[2].(int),
			AttendedAt: ts,
			Punch:      v[4].(int),
		}, nil
	}
}

func lookupUserID(uidToUserID map[int]string, uid int) string {
	if id, ok := uidToUserID[uid]; ok && id != "" {
		return id
	}
	return strconv.Itoa(uid)
}
