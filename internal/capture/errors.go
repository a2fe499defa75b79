package capture

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies pipeline failures for logs and reconnect decisions.
type ErrorCategory int

const (
	ErrCategoryUnknown ErrorCategory = iota
	// ErrCategoryNetwork covers connection, timeout and DNS failures.
	ErrCategoryNetwork
	// ErrCategoryCodec covers decode and caps negotiation failures.
	ErrCategoryCodec
	// ErrCategoryAuth covers credential failures.
	ErrCategoryAuth
	// ErrCategoryDevice covers local capture devices that are missing or busy.
	ErrCategoryDevice
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Retryable reports whether reconnecting may help.
func (e ErrorCategory) Retryable() bool {
	return e == ErrCategoryNetwork || e == ErrCategoryDevice || e == ErrCategoryUnknown
}

var categoryKeywords = []struct {
	category ErrorCategory
	keywords []string
}{
	// Most specific first.
	{ErrCategoryAuth, []string{"unauthorized", "401", "403", "forbidden", "authentication", "credentials", "password"}},
	{ErrCategoryCodec, []string{"codec", "decode", "not negotiated", "negotiation", "caps", "format", "no decoder", "missing plugin"}},
	{ErrCategoryDevice, []string{"/dev/video", "v4l2", "device", "busy", "permission denied"}},
	{ErrCategoryNetwork, []string{"connection", "timeout", "timed out", "unreachable", "network", "dns", "resolve", "socket", "rtsp", "could not connect"}},
}

// ClassifyError categorizes an error by its message and debug text.
// go-gst does not expose the GError domain, so matching is textual.
func ClassifyError(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(combined, kw) {
				return c.category
			}
		}
	}
	return ErrCategoryUnknown
}

func classifyGError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return ClassifyError(gerr.Error(), gerr.DebugString())
}

// PipelineError is a bus error reported by a running pipeline.
type PipelineError struct {
	Source   string
	Category ErrorCategory
	Message  string
	Debug    string
}

func (e *PipelineError) Error() string {
	return "capture: " + e.Source + ": pipeline error [" + e.Category.String() + "]: " + e.Message
}
