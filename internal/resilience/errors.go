package resilience

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/mgrinalds/wayguard/internal/types"
)

// Re-export for convenience within the resilience package.
var ErrCircuitOpen = types.ErrCircuitOpen

// IsCircuitOpen returns true if the error is a circuit open error.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, types.ErrCircuitOpen)
}

// Classify converts an error returned by a protected call into the
// taxonomy the executor propagates. Client-input errors pass through
// untouched; everything else becomes an UpstreamError with a failure kind.
// Unknown failures classify as upstream so real outages are never masked.
func Classify(service string, err error) error {
	if err == nil {
		return nil
	}

	var cie *types.ClientInputError
	if errors.As(err, &cie) {
		return cie
	}

	var ue *types.UpstreamError
	if errors.As(err, &ue) {
		return ue
	}

	return &types.UpstreamError{
		Service: service,
		Kind:    failureKind(err),
		Err:     err,
	}
}

// IsCounted reports whether a classified error advances the circuit
// failure count.
func IsCounted(err error) bool {
	if err == nil {
		return false
	}
	return !types.IsClientInput(err)
}

func failureKind(err error) types.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return types.KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return types.KindTimeout
		}
		return types.KindConnection
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return types.KindConnection
	}
	if errors.Is(err, syscall.ETIMEDOUT) {
		return types.KindTimeout
	}

	return types.KindUnknown
}
