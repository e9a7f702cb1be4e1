package protocol

import (
	"errors"
)

var (
	ErrConnectionClosed    = errors.New("Connection closed before a full field was read")
	ErrUnsupportedMessage  = errors.New("No decoder is registered for the message type")
	ErrTerminatorInField   = errors.New("Field content must not contain the record terminator")
	ErrUnsupportedWireType = errors.New("Value cannot be rendered as a wire field")
)
