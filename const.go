package zkteco

// Command codes
const (
	CMD_CONNECT       = 1000
	CMD_EXIT          = 1001
	CMD_ENABLEDEVICE  = 1002
	CMD_DISABLEDEVICE = 1003
	CMD_RESTART       = 1004
	CMD_POWEROFF      = 1005
	CMD_TESTVOICE     = 1017
	CMD_VERSION       = 1100
	CMD_AUTH          = 1102

	CMD_USER_WRQ       = 8
	CMD_USERTEMP_RRQ   = 9
	CMD_ATTLOG_RRQ     = 13
	CMD_CLEAR_DATA     = 14
	CMD_CLEAR_ATTLOG   = 15
	CMD_DELETE_USER    = 18
	CMD_UNLOCK         = 31
	CMD_GET_FREE_SIZES = 50

	CMD_GET_TIME = 201
	CMD_SET_TIME = 202

	CMD_PREPARE_DATA   = 1500
	CMD_DATA           = 1501
	CMD_FREE_DATA      = 1502
	CMD_PREPARE_BUFFER = 1503
	CMD_READ_BUFFER    = 1504
)

// Response codes
const (
	CMD_ACK_OK      = 2000
	CMD_ACK_ERROR   = 2001
	CMD_ACK_DATA    = 2002
	CMD_ACK_UNAUTH  = 2005
	CMD_ACK_UNKNOWN = 65535
)

// Function codes for CMD_USERTEMP_RRQ
const (
	FCT_ATTLOG    = 1
	FCT_FINGERTMP = 2
	FCT_OPLOG     = 4
	FCT_USER      = 5
	FCT_SMS       = 6
	FCT_UDATA     = 7
	FCT_WORKCODE  = 8
)

// User privilege levels
const (
	LEVEL_USER  = 0
	LEVEL_ADMIN = 14
)

// Envelope magic numbers. Every TCP frame starts with these two words.
const (
	MACHINE_PREPARE_DATA_1 = 20560 // 0x5050
	MACHINE_PREPARE_DATA_2 = 32130 // 0x7d82
)

const (
	USHRT_MAX = 65535

	// MAX_CHUNK is the largest slice the device will serve per
	// CMD_READ_BUFFER request.
	MAX_CHUNK = 65472

	envelopeHeaderSize = 8
	packetHeaderSize   = 8
)

// On-wire record widths. The user width varies by firmware generation and is
// probed at parse time; 72 is the current-generation default.
const (
	userPacketSizeLegacy  = 28
	userPacketSizeCurrent = 72

	attRecordSizeSmall = 8
	attRecordSizeMid   = 16
	attRecordSizeLarge = 40
)

// commKeyTicks is the fixed ticks value mixed into the auth key. Real
// firmware accepts any value as long as byte 2 of the key carries it.
const commKeyTicks = 50
