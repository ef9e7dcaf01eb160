// Package bot implements the connection lifecycle of the bot account and the
// inbound message pipeline: normalization, command dispatch and auditing.
package bot

import "errors"

var (
	// ErrInvalidPhoneNumber rejects numbers outside ^[1-9]\d{6,14}$. No state changes.
	ErrInvalidPhoneNumber = errors.New("invalid phone number format")
	// ErrAlreadyConnected is returned when the number already has a connected session.
	ErrAlreadyConnected = errors.New("bot is already connected with this number")
	// ErrAuthExpired marks a close caused by revoked or expired credentials.
	ErrAuthExpired = errors.New("credentials expired or revoked")
	// ErrPolicyViolation marks a connection whose identity is not the allowed number.
	ErrPolicyViolation = errors.New("connected identity is not the allowed number")
	// ErrHandlerFailure wraps errors raised by command handlers.
	ErrHandlerFailure = errors.New("command handler failed")
	// ErrTransportFailure wraps failed send and logout calls. They are not retried.
	ErrTransportFailure = errors.New("transport call failed")
)
