package rylr896

import "fmt"

// result codes reported as +ERR=<code>
const (
	ErrNoEnter        = 1  // missing "\r\n" after command
	ErrNoAT           = 2  // head of command is not AT
	ErrNoEquals       = 3  // missing "=" in AT command
	ErrUnknownCommand = 4  // unknown command
	ErrTxOverTime     = 10 // transmit over time
	ErrRxOverTime     = 11 // receive over time
	ErrCRC            = 12 // CRC error
	ErrTxOverRun      = 13 // transmit over run (over 240 bytes)
	ErrUnknown        = 15 // unknown error
)

const maxPayload = 240

// AT+PARAMETER limits
const (
	minSpreadingFactor = 7
	minPreamble        = 4
	maxPreamble        = 7
)

// ModuleError is a +ERR reply from the module.
type ModuleError struct {
	Code    int
	Command string
}

func (e *ModuleError) Error() string {
	desc, ok := errorDescriptions[e.Code]
	if !ok {
		desc = "unrecognised error"
	}
	return fmt.Sprintf("%s: +ERR=%d (%s)", e.Command, e.Code, desc)
}

var errorDescriptions = map[int]string{
	ErrNoEnter:        "missing CRLF",
	ErrNoAT:           "command does not start with AT",
	ErrNoEquals:       "missing =",
	ErrUnknownCommand: "unknown command",
	ErrTxOverTime:     "transmit over time",
	ErrRxOverTime:     "receive over time",
	ErrCRC:            "CRC error",
	ErrTxOverRun:      "payload over 240 bytes",
	ErrUnknown:        "unknown error",
}
