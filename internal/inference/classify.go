package inference

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/openai/openai-go/v3"
)

// transient reports whether err is worth retrying per spec.md §4.C:
// connection reset, 5xx, or a timeout that occurred before the outer
// deadline. Anything else (4xx, schema errors, context cancellation by the
// caller) is Fatal.
func transient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
