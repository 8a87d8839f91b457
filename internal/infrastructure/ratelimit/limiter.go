// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ratelimit implements the per-Account send-rate check, spec.md
// §4.2. It is a pure function over a send-count lookup; it holds no
// state of its own and performs no I/O beyond that lookup.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// SendCounter is the dependency the Limiter needs from the Store: how
// many sends an account has logged since some epoch.
type SendCounter interface {
	CountSendsSince(ctx context.Context, accountPK string, epoch time.Time) (int, error)
}

// window pairs a configured limit with its duration, keyed by name for
// error messages and log fields.
type window struct {
	name     string
	duration time.Duration
	limit    int
}

// Limiter evaluates Account send-rate limits against SendCounter.
type Limiter struct {
	counter SendCounter
}

func New(counter SendCounter) *Limiter {
	return &Limiter{counter: counter}
}

// Check implements spec.md §4.2 verbatim: for each non-zero configured
// window (minute/hour/day), count sends since now-window; if any count
// has reached its limit, compute that window's ceil-to-next-boundary
// defer_until and keep the maximum across all violated windows. Returns
// (zero time, false) when no limit is violated. The second return value
// is true when the account's LimitBehavior is "reject" (caller should
// fail the message rather than defer it) — still returning the most
// restrictive defer_until so callers can log it either way.
func (l *Limiter) Check(ctx context.Context, account models.Account, now time.Time) (time.Time, bool, error) {
	windows := []window{
		{"minute", time.Minute, account.LimitPerMinute},
		{"hour", time.Hour, account.LimitPerHour},
		{"day", 24 * time.Hour, account.LimitPerDay},
	}

	var deferUntil time.Time
	violated := false

	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		since := now.Add(-w.duration)
		count, err := l.counter.CountSendsSince(ctx, account.PK, since)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("count sends for account %s window %s: %w", account.ID, w.name, err)
		}
		if count < w.limit {
			continue
		}
		until := ceilToBoundary(now, w.duration)
		if !violated || until.After(deferUntil) {
			deferUntil = until
		}
		violated = true
	}

	if !violated {
		return time.Time{}, false, nil
	}
	return deferUntil, account.LimitBehavior == models.LimitBehaviorReject, nil
}

// ceilToBoundary computes ((now // window) + 1) * window in wall-clock
// terms: the start of the next window boundary strictly after now.
func ceilToBoundary(now time.Time, window time.Duration) time.Time {
	unix := now.Unix()
	secs := int64(window / time.Second)
	next := ((unix / secs) + 1) * secs
	return time.Unix(next, 0).UTC()
}
