package domain

import (
	"fmt"
	"time"
)

// retryBase is the backoff unit: attempt n waits base * 3^(n-1).
const retryBase = 5 * time.Minute

// RetryBackoff returns the delay before the next delivery attempt after the
// given attempt number failed: 5m, 15m, 45m, ...
func RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := retryBase
	for i := 1; i < attempt; i++ {
		d *= 3
	}
	return d
}

// ConsolidationKey derives the default grouping key for an admission:
// type:recipient:bucket, where the bucket is the admission time truncated to
// the policy's consolidation window. Coarser windows produce coarser buckets,
// so entries admitted within the same window land in the same group.
func ConsolidationKey(t NotificationType, recipientID string, at time.Time, windowMinutes int) string {
	if windowMinutes < 1 {
		windowMinutes = DefaultWindowMinutes
	}
	bucket := at.UTC().Truncate(time.Duration(windowMinutes) * time.Minute)
	return fmt.Sprintf("%s:%s:%d", t, recipientID, bucket.Unix())
}
