package gateway

import (
	"errors"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindConfigMissing   Kind = "config_missing"
	KindMalformedInput  Kind = "malformed_input"
	KindUpstreamEmpty   Kind = "upstream_empty"
	KindUpstreamError   Kind = "upstream_error"
	KindUpstreamTimeout Kind = "upstream_timeout"
	KindNetworkFailure  Kind = "network_failure"
	KindDownloadFailure Kind = "download_failure"
)

// Error is a generation failure with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of err, or KindUpstreamError when err is not an *Error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindUpstreamError
}
