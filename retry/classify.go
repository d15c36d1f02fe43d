package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Kind is the transient-failure class of an error.
type Kind int

const (
	Permanent Kind = iota
	Overloaded
	RateLimited
	Transient
)

func (k Kind) String() string {
	switch k {
	case Overloaded:
		return "overloaded"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	default:
		return "permanent"
	}
}

// Provider errors carrying a numeric HTTP-style status implement this.
type statusCoder interface {
	StatusCode() int
}

// Provider errors carrying a symbolic status (UNAVAILABLE, RESOURCE_EXHAUSTED) implement this.
type statusNamer interface {
	StatusName() string
}

// Classify inspects err in order: numeric status code, symbolic status,
// transport failure, then the message text. The first signal present decides.
// Cancellation is never retried; a deadline counts as a timeout, and Do
// still stops waiting once the caller's context is done.
func Classify(err error) Kind {
	if err == nil {
		return Permanent
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() != 0 {
		switch sc.StatusCode() {
		case 503:
			return Overloaded
		case 429:
			return RateLimited
		case 500:
			return Transient
		}
		return Permanent
	}

	var sn statusNamer
	if errors.As(err, &sn) && sn.StatusName() != "" {
		switch strings.ToUpper(sn.StatusName()) {
		case "UNAVAILABLE":
			return Overloaded
		case "RESOURCE_EXHAUSTED":
			return RateLimited
		}
		return Permanent
	}

	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	if isTransportFailure(err) {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "overloaded"), strings.Contains(msg, "unavailable"):
		return Overloaded
	case strings.Contains(msg, "network"), strings.Contains(msg, "timeout"):
		return Transient
	}
	return Permanent
}

// isTransportFailure matches the errors net/http returns when a request
// never got a response: refused or reset connections, DNS and timeouts.
func isTransportFailure(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// DefaultShouldRetry retries overloads, rate limits, internal errors and
// network or timeout failures.
func DefaultShouldRetry(err error) bool {
	return Classify(err) != Permanent
}
