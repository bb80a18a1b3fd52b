package whatsapp

import "errors"

var (
	// ErrCaptureUnavailable is returned when a scan code is shown but its
	// canvas could not be serialized.
	ErrCaptureUnavailable = errors.New("scan code capture unavailable")

	// ErrAuthTimeout is returned when nobody scanned the code in time.
	ErrAuthTimeout = errors.New("authentication timeout")

	// ErrPageUnusable is returned when the web client showed neither a chat
	// list nor a scan code.
	ErrPageUnusable = errors.New("unable to load web client")

	// ErrChatLoad is returned when the compose box of a chat never appeared.
	ErrChatLoad = errors.New("failed to load chat interface")

	// ErrTextSend is returned when the text message could not be typed or submitted.
	ErrTextSend = errors.New("failed to send text message")

	// ErrMediaSend is returned when an attachment could not be sent. Send never
	// returns it; media failures are logged and skipped.
	ErrMediaSend = errors.New("failed to send media")

	// ErrInvalidPhone is returned when a phone number has no digits.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidDeviceID is returned for device ids unsafe to use as a path.
	ErrInvalidDeviceID = errors.New("invalid device id")
)
