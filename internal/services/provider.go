// Package services tracks the backing services an instance depends on and
// reports whether each one is reachable.
package services

import (
	"context"
)

// Checker reports whether a backing service is reachable
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a ping function to Checker
type CheckFunc func(ctx context.Context) error

// HealthCheck calls f
func (f CheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}
