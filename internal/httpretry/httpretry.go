// Package httpretry wraps cenkalti/backoff for the REST clients. A failed
// attempt may carry a server-supplied wait (Retry-After, rate-limit reset)
// which stretches the next backoff interval.
package httpretry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/storysync/storysync/internal/debug"
)

// DefaultMaxElapsed bounds the total time spent retrying one request.
const DefaultMaxElapsed = 2 * time.Minute

// maxHint caps server-supplied waits so a bogus header cannot park a run.
const maxHint = 5 * time.Minute

// Hinted is implemented by errors that know how long the server asked us to
// wait before trying again.
type Hinted interface {
	RetryAfter() time.Duration
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if h.hint > next {
		next = h.hint
	}
	h.hint = 0
	return next
}

// Do runs op until it succeeds, returns a Permanent error, the context ends,
// or maxElapsed passes. The last error is returned unwrapped.
func Do(ctx context.Context, maxElapsed time.Duration, label string, op func() error) error {
	if maxElapsed <= 0 {
		maxElapsed = DefaultMaxElapsed
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	hb := &hintedBackOff{BackOff: bo}

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var h Hinted
		if errors.As(err, &h) {
			hb.hint = min(h.RetryAfter(), maxHint)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		debug.Logf("%s: attempt %d failed, retrying in %s: %v", label, attempt, wait.Round(time.Millisecond), err)
	}
	return backoff.RetryNotify(wrapped, backoff.WithContext(hb, ctx), notify)
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form. Zero means no hint.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// ParseResetEpoch reads an epoch-seconds reset header such as
// X-RateLimit-Reset. Zero means no hint.
func ParseResetEpoch(value string, now time.Time) time.Duration {
	secs, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	if d := time.Unix(secs, 0).Sub(now); d > 0 {
		return d
	}
	return 0
}
