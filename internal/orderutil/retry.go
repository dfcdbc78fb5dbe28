package orderutil

import (
	"context"
	"strings"
	"time"
)

// DefaultRetrySchedule is the literal backoff sequence spec.md §5/§7 names:
// three attempts beyond the first, at 0.5s, 1.0s, 2.0s.
var DefaultRetrySchedule = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

// transientPatterns mirrors the teacher's retry.Client.isTransientError
// string table: timeout/network/rate-limit signatures that justify a retry.
var transientPatterns = []string{
	"timeout",
	"i/o timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"temporarily unavailable",
	"server error",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"network",
	"dns",
	"tcp",
	"no such host",
	"deadline exceeded",
	"tls handshake",
	"broken pipe",
	"eof",
}

// IsTransient reports whether err's message matches a known transient
// exchange-error signature. A nil error is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Retry runs fn up to len(schedule)+1 times, sleeping schedule[attempt]
// between attempts, stopping early on a non-transient error or on ctx
// cancellation. It returns the last error if every attempt fails.
func Retry(ctx context.Context, schedule []time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(schedule); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || attempt == len(schedule) {
			return lastErr
		}

		select {
		case <-time.After(schedule[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
