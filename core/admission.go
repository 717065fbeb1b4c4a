package core

import (
	"context"
	"sync"

	"explorviz/metrics"
)

// Admission gates request handling on one surface. Once closed it rejects
// new requests and lets callers wait for the in-flight ones to finish.
type Admission struct {
	surface string

	mu       sync.Mutex
	closed   bool
	inFlight int
	drained  chan struct{}
	signaled bool
}

func NewAdmission(surface string) *Admission {
	return &Admission{surface: surface, drained: make(chan struct{})}
}

// Enter admits one request. It returns false after Close; callers that get
// true must call Leave exactly once.
func (a *Admission) Enter() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		metrics.RejectedRequests.WithLabelValues(a.surface, "draining").Inc()
		return false
	}
	a.inFlight++
	metrics.InFlightRequests.WithLabelValues(a.surface).Inc()
	return true
}

// Leave marks an admitted request as finished.
func (a *Admission) Leave() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight--
	metrics.InFlightRequests.WithLabelValues(a.surface).Dec()
	a.signalIfDrained()
}

// Close stops admitting requests. It is idempotent.
func (a *Admission) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.signalIfDrained()
}

// Closed reports whether Close was called.
func (a *Admission) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// InFlight returns the number of admitted requests still running.
func (a *Admission) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

// Wait blocks until Close was called and no request is in flight, or ctx ends.
func (a *Admission) Wait(ctx context.Context) error {
	select {
	case <-a.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callers hold a.mu
func (a *Admission) signalIfDrained() {
	if a.closed && a.inFlight == 0 && !a.signaled {
		a.signaled = true
		close(a.drained)
	}
}
