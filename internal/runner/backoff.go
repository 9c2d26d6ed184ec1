package runner

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

// linearBackOff waits Delay*n before the n-th retry.
type linearBackOff struct {
	delay time.Duration
	n     int64
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.delay * time.Duration(b.n)
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// newBackOff converts a retry policy into a backoff that returns backoff.Stop
// once the attempt budget is spent.
func newBackOff(policy workflowv1.RetryPolicy) backoff.BackOff {
	var b backoff.BackOff
	switch policy.Backoff {
	case workflowv1.BackoffLinear:
		b = &linearBackOff{delay: policy.Delay}
	default:
		b = backoff.NewConstantBackOff(policy.Delay)
	}
	return backoff.WithMaxRetries(b, uint64(policy.Attempts()-1))
}
