package protocol

import "errors"

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown frame type")
	ErrInvalidPayload = errors.New("invalid payload")

	ErrPayloadTooLarge = errors.New("payload too large")
)
