package contract

import "errors"

var (
	ErrModelInvoke        = errors.New("model invoke failed")
	ErrSchemaViolation    = errors.New("model response violates schema")
	ErrValidation         = errors.New("validation failed")
	ErrTransport          = errors.New("transport failed")
	ErrMicrophoneDenied   = errors.New("microphone access denied")
	ErrInvalidTransition  = errors.New("invalid session transition")
	ErrConversationClosed = errors.New("conversation already finalized")
)
