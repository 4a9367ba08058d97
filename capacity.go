package zkteco

// ReadCapacity queries CMD_GET_FREE_SIZES and refreshes the session's
// counter snapshot. The record decoders need these counts to probe record
// widths, so GetUsers and GetAttendances call this first.
func (s *Session) ReadCapacity() (DeviceCapacity, error) {
	res, err := s.SendCommand(CMD_GET_FREE_SIZES, nil)
	if err != nil {
		return DeviceCapacity{}, err
	}
	if !res.Status {
		return DeviceCapacity{}, protoErr(CMD_GET_FREE_SIZES, res.Code, "capacity query refused")
	}

	capacity, err := parseCapacity(res.Data)
	if err != nil {
		return DeviceCapacity{}, err
	}
	s.mu.Lock()
	s.capacity = capacity
	s.mu.Unlock()
	return capacity, nil
}

// Capacity returns the snapshot from the last ReadCapacity call.
func (s *Session) Capacity() DeviceCapacity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// parseCapacity decodes the CMD_GET_FREE_SIZES body: an 80-byte block of
// twenty little-endian 32-bit slots, optionally followed by a 12-byte face
// block on face-capable firmware.
func parseCapacity(data []byte) (DeviceCapacity, error) {
	if len(data) < 80 {
		return DeviceCapacity{}, protoErr(CMD_GET_FREE_SIZES, 0, "undersized capacity response")
	}

	format := make([]string, 20)
	for i := range format {
		format[i] = "i"
	}
	fields, err := newBP().UnPack(format, data[:80])
	if err != nil {
		return DeviceCapacity{}, err
	}

	capacity := DeviceCapacity{
		Users:           fields[4].(int),
		Fingers:         fields[6].(int),
		Records:         fields[8].(int),
		Passwords:       fields[10].(int),
		Admins:          fields[11].(int),
		FingersCapacity: fields[14].(int),
		UsersCapacity:   fields[15].(int),
		RecordsCapacity: fields[16].(int),
	}

	if len(data) >= 92 {
		faces, err := newBP().UnPack([]string{"i"}, data[80:84])
		if err == nil {
			capacity.Faces = faces[0].(int)
		}
		facesCap, err := newBP().UnPack([]string{"i"}, data[88:92])
		if err == nil {
			capacity.FacesCapacity = facesCap[0].(int)
		}
	}
	return capacity, nil
}
