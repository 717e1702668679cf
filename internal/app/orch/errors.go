package orch

import (
	"errors"

	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/dkeye/callrelay/internal/transcription"
)

var (
	ErrBadPayload   = errors.New("bad payload")
	ErrUnknownEvent = errors.New("unknown event")
	ErrRateLimited  = errors.New("too many attempts, try again later")
	ErrNotInRoom    = errors.New("no room given and none joined")
	ErrNameMismatch = errors.New("participant name does not match the connection")
)

// Error codes reported to clients.
const (
	CodeRoomNotFound            = "RoomNotFound"
	CodeRoomFull                = "RoomFull"
	CodeRoomExpired             = "RoomExpired"
	CodeNotRoomHost             = "NotRoomHost"
	CodeInvalidName             = "InvalidName"
	CodeOffererNotFound         = "OffererNotFound"
	CodeAlreadyAnswered         = "AlreadyAnswered"
	CodeCandidateOriginMismatch = "CandidateOriginMismatch"
	CodeTooManyCandidates       = "TooManyCandidates"
	CodeUpstreamConnectFailed   = "UpstreamConnectFailed"
	CodeUpstreamTimeout         = "UpstreamTimeout"
	CodeUpstreamError           = "UpstreamError"
	CodeNotConnected            = "NotConnected"
	CodeRateLimited             = "RateLimited"
	CodeBadPayload              = "BadPayload"
	CodeUnknownEvent            = "UnknownEvent"
	CodeInternal                = "Internal"
)

var codes = []struct {
	err  error
	code string
}{
	{app.ErrRoomNotFound, CodeRoomNotFound},
	{app.ErrRoomFull, CodeRoomFull},
	{app.ErrRoomExpired, CodeRoomExpired},
	{app.ErrNotRoomHost, CodeNotRoomHost},
	{domain.ErrUsernameEmpty, CodeInvalidName},
	{domain.ErrUsernameTooLong, CodeInvalidName},
	{ErrNameMismatch, CodeInvalidName},
	{app.ErrOffererNotFound, CodeOffererNotFound},
	{app.ErrAlreadyAnswered, CodeAlreadyAnswered},
	{app.ErrCandidateOriginMismatch, CodeCandidateOriginMismatch},
	{app.ErrTooManyPending, CodeTooManyCandidates},
	{transcription.ErrUpstreamConnectFailed, CodeUpstreamConnectFailed},
	{transcription.ErrUpstreamTimeout, CodeUpstreamTimeout},
	{transcription.ErrUpstreamError, CodeUpstreamError},
	{transcription.ErrNotConnected, CodeNotConnected},
	{ErrRateLimited, CodeRateLimited},
	{ErrBadPayload, CodeBadPayload},
	{ErrNotInRoom, CodeBadPayload},
	{domain.ErrBadOffer, CodeBadPayload},
	{domain.ErrBadAnswer, CodeBadPayload},
	{ErrUnknownEvent, CodeUnknownEvent},
}

// Code maps a handler error to its client-facing code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// Failure is the ack payload of a rejected event.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// ErrorEvent reports a failure of an event sent without an ack id.
type ErrorEvent struct {
	Event string `json:"event"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func failure(err error) Failure {
	return Failure{Error: err.Error(), Code: Code(err)}
}
