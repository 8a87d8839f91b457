// SPDX-License-Identifier: AGPL-3.0-or-later
package smtp

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Classification categorizes an SMTP send failure, spec.md §4.4. Unlike
// the teacher's three-way EmailErrorType (retryable/permanent/rate-limited),
// the relay's contract collapses to two outcomes: Permanent never
// retries, Temporary always defers (subject to max_retries).
type Classification int

const (
	Temporary Classification = iota
	Permanent
)

var (
	tlsHandshakeRe = regexp.MustCompile(`(?i)(ssl|tls).*(version|handshake|verify)`)
	authFailedRe   = regexp.MustCompile(`(?i)auth(entication)? (failed|required)`)
	mailboxRe      = regexp.MustCompile(`(?i)550 mailbox (not found|unknown)`)
	throttleRe     = regexp.MustCompile(`(?i)throttl|rate.?limit|try again`)
	smtpCodeRe     = regexp.MustCompile(`\b([2-5]\d{2})\b`)
	enhancedCodeRe = regexp.MustCompile(`\b([2-5])\.(\d{1,3})\.(\d{1,3})\b`)
)

// DefaultMaxRetries is spec.md §4.4's max_retries; after this many
// attempts a temporary error is treated as permanent.
const DefaultMaxRetries = 5

// RetryDelays is spec.md §4.4's delay table, indexed by attempt number;
// attempts at or beyond len(RetryDelays) reuse the last entry.
var RetryDelays = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	1800 * time.Second,
	3600 * time.Second,
}

// RetryStrategy classifies SMTP send errors and computes defer delays.
type RetryStrategy struct {
	MaxRetries int
}

func NewRetryStrategy(maxRetries int) *RetryStrategy {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RetryStrategy{MaxRetries: maxRetries}
}

// Classify applies spec.md §4.4's first-match-wins rules to an error
// message and any SMTP reply code it can parse out of it.
func (s *RetryStrategy) Classify(err error) (Classification, string) {
	if err == nil {
		return Temporary, ""
	}
	msg := err.Error()
	code := extractSMTPCode(msg)
	enhanced := extractEnhancedCode(msg)

	if tlsHandshakeRe.MatchString(msg) || authFailedRe.MatchString(msg) || mailboxRe.MatchString(msg) {
		return Permanent, code
	}
	if code == "535" {
		return Permanent, code
	}
	if len(code) == 3 && code[0] == '5' && !strings.HasPrefix(enhanced, "5.4") {
		return Permanent, code
	}

	if strings.Contains(strings.ToLower(msg), "timeout") ||
		strings.Contains(strings.ToLower(msg), "connection") ||
		code == "421" ||
		(len(code) == 3 && code[0] == '4') ||
		throttleRe.MatchString(msg) {
		return Temporary, code
	}

	// Default: unknown -> temporary (retry-biased), spec.md §4.4.
	return Temporary, code
}

// ShouldRetry reports whether attempt (0-indexed, count of prior
// "deferred" events for this message) may still be retried.
func (s *RetryStrategy) ShouldRetry(class Classification, attempt int) bool {
	return class == Temporary && attempt < s.MaxRetries
}

// DelayFor returns the defer delay for attempt (0-indexed), clamping to
// the last table entry once attempt exceeds the table's length.
func (s *RetryStrategy) DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(RetryDelays) {
		return RetryDelays[len(RetryDelays)-1]
	}
	return RetryDelays[attempt]
}

func extractSMTPCode(msg string) string {
	m := smtpCodeRe.FindStringSubmatch(msg)
	if m == nil {
		return ""
	}
	if _, err := strconv.Atoi(m[1]); err != nil {
		return ""
	}
	return m[1]
}

// extractEnhancedCode pulls an RFC 3463 enhanced status code
// ("5.4.3") out of msg, distinct from the bare 3-digit reply code:
// the two never share a regex since "553 5.4.0 ..." must report code
// "553" but enhanced "5.4.0", not the dotted string matching as a
// 3-digit code.
func extractEnhancedCode(msg string) string {
	m := enhancedCodeRe.FindStringSubmatch(msg)
	if m == nil {
		return ""
	}
	return m[1] + "." + m[2] + "." + m[3]
}
