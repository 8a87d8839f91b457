// SPDX-License-Identifier: AGPL-3.0-or-later
package dispatch

import (
	"time"

	"github.com/btouchard/mailrelay/internal/infrastructure/smtp"
)

// retryAdapter lets *smtp.RetryStrategy satisfy RetryStrategy without
// leaking smtp.Classification into this package's public interface.
type retryAdapter struct {
	inner *smtp.RetryStrategy
}

func NewRetryAdapter(inner *smtp.RetryStrategy) RetryStrategy {
	return &retryAdapter{inner: inner}
}

func (a *retryAdapter) Classify(err error) (RetryClassification, string) {
	class, reason := a.inner.Classify(err)
	if class == smtp.Permanent {
		return ClassPermanent, reason
	}
	return ClassTemporary, reason
}

func (a *retryAdapter) ShouldRetry(class RetryClassification, attempt int) bool {
	var inner smtp.Classification
	if class == ClassPermanent {
		inner = smtp.Permanent
	} else {
		inner = smtp.Temporary
	}
	return a.inner.ShouldRetry(inner, attempt)
}

func (a *retryAdapter) DelayFor(attempt int) time.Duration {
	return a.inner.DelayFor(attempt)
}
