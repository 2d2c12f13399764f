// Package liveness implements the Liveness Detector (C4, §4.4): it tracks
// the last heartbeat/message timestamp observed from the engine and raises
// an up/down transition callback when the timeout elapses, the same
// two-state-plus-callback shape as the teacher's circuitbreaker package
// (State enum, mutex-guarded transitions, OnStateChange hook) collapsed from
// three states to two since there is no half-open probe here: liveness is a
// direct function of "have we heard from the engine within timeout", not a
// request-counting trip mechanism.
package liveness

import (
	"sync"
	"time"
)

// State is whether the engine connection is currently considered alive.
type State int

const (
	StateUp State = iota
	StateDown
)

func (s State) String() string {
	if s == StateUp {
		return "UP"
	}
	return "DOWN"
}

// OnTransition is invoked synchronously on the poller thread whenever
// liveness flips; implementations must not block.
type OnTransition func(from, to State)

// Detector tracks liveness for a single connection (one per Session).
type Detector struct {
	mu sync.Mutex

	timeout      time.Duration
	state        State
	lastHeardAt  time.Time
	onTransition OnTransition
}

func NewDetector(timeout time.Duration, onTransition OnTransition) *Detector {
	return &Detector{
		timeout:      timeout,
		state:        StateUp,
		lastHeardAt:  time.Now(),
		onTransition: onTransition,
	}
}

// OnHeartbeat records that a heartbeat or any application message arrived
// (§4.4: any inbound traffic resets the timer, not only heartbeats), and
// transitions DOWN->UP if the connection had been considered dead.
func (d *Detector) OnHeartbeat(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastHeardAt = now
	d.transitionTo(StateUp)
}

// Poll checks elapsed time since the last heartbeat and transitions UP->DOWN
// if the timeout has been exceeded. Called once per tick from the poller.
func (d *Detector) Poll(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateUp && now.Sub(d.lastHeardAt) > d.timeout {
		d.transitionTo(StateDown)
	}
}

// transitionTo must be called with mu held.
func (d *Detector) transitionTo(to State) {
	if d.state == to {
		return
	}
	from := d.state
	d.state = to
	if d.onTransition != nil {
		d.onTransition(from, to)
	}
}

func (d *Detector) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateUp
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
