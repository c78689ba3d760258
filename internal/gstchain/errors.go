package gstchain

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies stage errors for telemetry.
type ErrorCategory int

const (
	// ErrCategoryCodec covers bitstream and decode/encode failures.
	ErrCategoryCodec ErrorCategory = iota
	// ErrCategoryNegotiation covers caps and format negotiation failures.
	ErrCategoryNegotiation
	// ErrCategoryResource covers allocation, device and plugin failures.
	ErrCategoryResource
	// ErrCategoryUnknown indicates unclassified errors.
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryNegotiation:
		return "negotiation"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

var (
	negotiationKeywords = []string{
		"not-negotiated",
		"not negotiated",
		"negotiation",
		"caps",
		"no common format",
		"could not link",
	}
	resourceKeywords = []string{
		"out of memory",
		"allocate",
		"resource",
		"device",
		"va error",
		"vaapi",
		"missing plugin",
		"no such element",
		"permission denied",
	}
	codecKeywords = []string{
		"decode",
		"encode",
		"codec",
		"h264",
		"jpeg",
		"bitstream",
		"corrupt",
		"stream error",
		"failed to parse",
	}
)

// ClassifyGError categorizes a GStreamer error.
//
// go-gst's GError does not expose the domain, so classification relies on
// keywords in the message and debug string.
func ClassifyGError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return Classify(gerr.Error(), gerr.DebugString())
}

// Classify categorizes an error from its message and debug string.
// Negotiation is checked first because negotiation failures usually also
// mention the codec.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, negotiationKeywords):
		return ErrCategoryNegotiation
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
