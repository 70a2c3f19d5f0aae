// Package reliability provides the retry policies used around network
// operations: session start in the echo client and AMQP publishing in the
// bridge.
//
// Example usage:
//
//	policy := NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 5)
//	err := Retry(ctx, "publish", policy, func() error {
//	    return publish(ctx)
//	})
package reliability
