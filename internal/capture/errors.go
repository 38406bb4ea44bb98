package capture

import (
	"errors"
	"strings"
)

// ErrorCategory classifies source failures for telemetry.
type ErrorCategory int

const (
	// ErrCategoryNetwork covers connection, timeout and DNS failures
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec covers decode and format negotiation failures
	ErrCategoryCodec
	// ErrCategoryAuth covers rejected credentials
	ErrCategoryAuth
	// ErrCategoryUnknown covers everything else
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// SourceError is a source failure already classified by the adapter that
// produced it (the GStreamer adapter knows more than a message string does).
type SourceError struct {
	Category ErrorCategory
	Err      error
}

func (e *SourceError) Error() string { return e.Err.Error() }

func (e *SourceError) Unwrap() error { return e.Err }

// Classify returns the category of a source failure.
//
// A wrapped *SourceError wins. Otherwise the message is matched against
// keyword lists, most specific first: auth, codec, network.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryUnknown
	}

	var se *SourceError
	if errors.As(err, &se) {
		return se.Category
	}

	return ClassifyMessage(err.Error())
}

// ClassifyMessage categorizes a free-form error message.
func ClassifyMessage(msg string) ErrorCategory {
	msg = strings.ToLower(msg)

	switch {
	case containsAny(msg, authKeywords):
		return ErrCategoryAuth
	case containsAny(msg, codecKeywords):
		return ErrCategoryCodec
	case containsAny(msg, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

var authKeywords = []string{
	"unauthorized",
	"401",
	"403",
	"forbidden",
	"authentication",
	"credentials",
}

var codecKeywords = []string{
	"codec",
	"decode",
	"format",
	"negotiation",
	"caps",
	"not negotiated",
	"no decoder",
	"missing plugin",
}

var networkKeywords = []string{
	"connection",
	"timeout",
	"unreachable",
	"network",
	"dns",
	"resolve",
	"socket",
	"tcp",
	"udp",
	"rtmp",
	"rtsp",
	"http",
	"could not connect",
	"failed to connect",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
