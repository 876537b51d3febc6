package checker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ProbeError describes a per-URL transport failure. It never escapes the
// prober; it is flattened into ProbeResult.ErrorDetail.
type ProbeError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *ProbeError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("probe %s: timed out: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("probe %s: %v", e.URL, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
