package protocol

import "errors"

var (
	ErrUnknownKind     = errors.New("protocol: unknown message kind")
	ErrInvalidPayload  = errors.New("protocol: invalid payload")
	ErrMessageTooLarge = errors.New("protocol: message too large")
)
