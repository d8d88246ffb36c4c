package networking

import "strconv"

// ErrorCode is the code carried by an ERROR packet
type ErrorCode uint16

const (
	ErrNotDefined       ErrorCode = iota // 0: see message
	ErrFileNotFound                      // 1
	ErrAccessViolation                   // 2
	ErrDiskFull                          // 3
	ErrIllegalOperation                  // 4
	ErrUnknownTID                        // 5
	ErrFileExists                        // 6
	ErrNoSuchUser                        // 7
)

// Messages sent by the server for specific failures.
const (
	MsgFileNotFound     = "File not found"
	MsgNoReadPermission = "Not enough access permission for file"
	MsgFileExists       = "File Already exists"
	MsgUnknownTID       = "Unknown transfer ID"
	MsgOctetOnly        = "Only octet mode is supported"
	MsgNoUpload         = "Write requests are not supported"
)

var errorMessages = [...]string{
	ErrNotDefined:       "Not defined, see error message (if any)",
	ErrFileNotFound:     "File not found",
	ErrAccessViolation:  "Access violation",
	ErrDiskFull:         "Disk full or allocation exceeded",
	ErrIllegalOperation: "Illegal TFTP operation",
	ErrUnknownTID:       "Unknown transfer ID",
	ErrFileExists:       "File already exists",
	ErrNoSuchUser:       "No such user",
}

// String returns the RFC 1350 description of the code
func (c ErrorCode) String() string {
	if int(c) < len(errorMessages) {
		return errorMessages[c]
	}
	return "Unknown error " + strconv.Itoa(int(c))
}
