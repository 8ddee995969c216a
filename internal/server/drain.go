package server

import (
	"context"
	"sync/atomic"
	"time"
)

// drainPollInterval is how often the shutdown wait re-checks the in-flight
// counter.
const drainPollInterval = 100 * time.Millisecond

// DrainController tracks in-flight requests and coordinates graceful
// shutdown: once draining, new requests are rejected while in-flight ones
// run to completion.
type DrainController struct {
	inflight atomic.Int64
	draining atomic.Bool
	ready    atomic.Bool

	timeout time.Duration
	start   time.Time
}

// NewDrainController builds a ready, non-draining controller.
func NewDrainController(timeout time.Duration) *DrainController {
	d := &DrainController{
		timeout: timeout,
		start:   time.Now(),
	}
	d.ready.Store(true)
	return d
}

// RequestStarted counts a request in. Returns false when draining, in which
// case the caller must reject the request and not call RequestCompleted.
func (d *DrainController) RequestStarted() bool {
	if d.draining.Load() {
		return false
	}
	d.inflight.Add(1)
	return true
}

// RequestCompleted counts a request out.
func (d *DrainController) RequestCompleted() {
	d.inflight.Add(-1)
}

// InFlight returns the current in-flight count.
func (d *DrainController) InFlight() int64 {
	return d.inflight.Load()
}

// Draining reports whether new work is being rejected.
func (d *DrainController) Draining() bool {
	return d.draining.Load()
}

// Ready reports whether the server should pass readiness probes.
func (d *DrainController) Ready() bool {
	return d.ready.Load() && !d.draining.Load()
}

// StartDrain flips the controller into drain mode. Idempotent.
func (d *DrainController) StartDrain() {
	d.draining.Store(true)
	d.ready.Store(false)
}

// Wait blocks until all in-flight requests finish, the drain timeout
// elapses, or ctx ends. It returns the number of requests still in flight
// (zero on a clean drain).
func (d *DrainController) Wait(ctx context.Context) int64 {
	deadline := time.NewTimer(d.timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		n := d.inflight.Load()
		if n <= 0 {
			return 0
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return d.inflight.Load()
		case <-ctx.Done():
			return d.inflight.Load()
		}
	}
}

// DrainStatus is the JSON snapshot served by the drain admin endpoint.
type DrainStatus struct {
	Draining      bool  `json:"draining"`
	Ready         bool  `json:"ready"`
	InFlight      int64 `json:"in_flight"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// Status snapshots the controller.
func (d *DrainController) Status() DrainStatus {
	return DrainStatus{
		Draining:      d.draining.Load(),
		Ready:         d.Ready(),
		InFlight:      d.inflight.Load(),
		UptimeSeconds: int64(time.Since(d.start).Seconds()),
	}
}
