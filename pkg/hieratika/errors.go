package hieratika

import (
	"errors"
	"fmt"
)

// Application level rejections. The server replies with a plain text code and
// Client returns the matching sentinel.
var (
	ErrInvalidToken      = errors.New("invalid session token")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrInUse             = errors.New("in use")
	ErrNotFound          = errors.New("not found")
	ErrUnknown           = errors.New("unknown server error")
	ErrLoginFailed       = errors.New("login failed")
	ErrEmptyReply        = errors.New("empty reply from server")
)

// TransportError reports a failure to reach the server or to make sense of
// its reply: dial errors, non-2xx statuses and undecodable bodies.
type TransportError struct {
	Path       string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server returned status %d: %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// codeError maps a reply code to its sentinel. Replies that are not one of
// the rejection codes map to nil.
func codeError(reply string) error {
	switch reply {
	case ReplyInvalidToken:
		return ErrInvalidToken
	case ReplyInvalidParameters:
		return ErrInvalidParameters
	case ReplyInUse:
		return ErrInUse
	case ReplyNotFound:
		return ErrNotFound
	case ReplyUnknownError:
		return ErrUnknown
	}
	return nil
}

// UserMessage renders err as the message an operator should see. subject
// names the object the failed operation was about (e.g. "Schedule 42") and
// may be empty.
func UserMessage(subject string, err error) string {
	if subject == "" {
		subject = "The item"
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidToken):
		return "Your session is no longer valid. Please log in again."
	case errors.Is(err, ErrInUse):
		return fmt.Sprintf("%s is being used in other schedules and thus cannot be changed.", subject)
	case errors.Is(err, ErrNotFound):
		return fmt.Sprintf("%s could not be found in the server!", subject)
	case errors.Is(err, ErrInvalidParameters):
		return "The server rejected the request parameters."
	case errors.Is(err, ErrLoginFailed):
		return "Invalid username or password."
	case IsTransport(err):
		return fmt.Sprintf("Critical error communicating with the server. %v", err)
	}
	return fmt.Sprintf("Unknown error in the server (%s).", subject)
}
