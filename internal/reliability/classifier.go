// Package reliability labels collaborator failures so they can be counted and
// reported consistently. It never retries anything itself.
package reliability

import (
	"context"
	"errors"
	"net"
)

type Class string

const (
	ClassTimeout   Class = "timeout"
	ClassCanceled  Class = "canceled"
	ClassTransient Class = "transient"
	ClassRejected  Class = "rejected"
	ClassNetwork   Class = "network"
	ClassUnknown   Class = "unknown"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// IsTransientHTTPStatus reports statuses that usually clear up on their own.
func IsTransientHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify maps err to a small fixed set of labels.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		if IsTransientHTTPStatus(sc.StatusCode()) {
			return ClassTransient
		}
		return ClassRejected
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	return ClassUnknown
}
