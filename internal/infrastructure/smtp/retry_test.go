// SPDX-License-Identifier: AGPL-3.0-or-later
package smtp

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryStrategy_Classify(t *testing.T) {
	s := NewRetryStrategy(5)

	cases := []struct {
		name string
		err  error
		want Classification
	}{
		{"tls handshake", errors.New("tls handshake verify failed"), Permanent},
		{"auth failed", errors.New("535 Authentication failed"), Permanent},
		{"mailbox unknown", errors.New("550 mailbox not found"), Permanent},
		{"5xx non 5.4", errors.New("553 mailbox name not allowed"), Permanent},
		{"5xx with 5.4.x enhanced code stays temporary", errors.New("553 5.4.0 network congestion, try later"), Temporary},
		{"4xx with unrelated enhanced code stays temporary via the 4xx rule", errors.New("454 5.4.3 relay access denied"), Temporary},
		{"421 service unavailable", errors.New("421 service not available"), Temporary},
		{"4xx", errors.New("450 mailbox busy"), Temporary},
		{"timeout", errors.New("i/o timeout"), Temporary},
		{"connection refused", errors.New("dial tcp: connection refused"), Temporary},
		{"throttle", errors.New("421 rate limit exceeded, try again later"), Temporary},
		{"unknown", errors.New("something went sideways"), Temporary},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := s.Classify(tc.err)
			assert.Equal(t, tc.want, got, tc.name)
		})
	}
}

func TestRetryStrategy_ShouldRetry(t *testing.T) {
	s := NewRetryStrategy(5)
	assert.True(t, s.ShouldRetry(Temporary, 0))
	assert.True(t, s.ShouldRetry(Temporary, 4))
	assert.False(t, s.ShouldRetry(Temporary, 5))
	assert.False(t, s.ShouldRetry(Permanent, 0))
}

func TestRetryStrategy_DelayFor(t *testing.T) {
	s := NewRetryStrategy(5)
	assert.Equal(t, 60*time.Second, s.DelayFor(0))
	assert.Equal(t, 300*time.Second, s.DelayFor(1))
	assert.Equal(t, 3600*time.Second, s.DelayFor(4))
	assert.Equal(t, 3600*time.Second, s.DelayFor(10))
	assert.Equal(t, 60*time.Second, s.DelayFor(-1))
}

func TestNewRetryStrategy_DefaultsWhenZero(t *testing.T) {
	s := NewRetryStrategy(0)
	assert.Equal(t, DefaultMaxRetries, s.MaxRetries)
}
