package device

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"
)

var (
	// ErrUnreachable: connessione rifiutata, DNS, breaker aperto.
	ErrUnreachable = errors.New("device unreachable")
	// ErrTimeout: nessuna risposta entro il timeout fisso.
	ErrTimeout = errors.New("device timeout")
	// ErrBadStatus is returned by ReadSensors on a non-2xx answer.
	ErrBadStatus = errors.New("device bad status")
	// ErrMalformedResponse is returned by ReadSensors when the body is not a JSON object.
	ErrMalformedResponse = errors.New("device malformed response")
)

// classify maps a transport error onto ErrTimeout or ErrUnreachable.
func classify(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnreachable, err)
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnreachable, err)
}

// IsTransport reports whether err is a failure to reach the device at all.
func IsTransport(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout)
}
