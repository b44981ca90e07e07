package executor

import (
	"context"
	"sync/atomic"
	"time"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is actively running an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated client looping over iterations.
//
// A stop request lets the current iteration finish; only the pause between
// iterations is cut short.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	state     atomic.Int32
	iteration atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewVirtualUser creates an idle VU.
func NewVirtualUser(id int) *VirtualUser {
	return &VirtualUser{
		ID:     id,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// stopping reports whether a stop was requested or completed.
func (vu *VirtualUser) stopping() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}

// beginIteration moves an idle VU to running. It fails if the VU is stopping.
func (vu *VirtualUser) beginIteration() bool {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return false
	}
	vu.iteration.Add(1)
	return true
}

// endIteration moves a running VU back to idle unless a stop arrived meanwhile.
func (vu *VirtualUser) endIteration() {
	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
}

// Pause waits for d, returning false early if the VU is stopped or ctx ends.
func (vu *VirtualUser) Pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !vu.stopping() && ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
// Called by the executor when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateStopped {
		return
	}
	if prev != VUStateStopping {
		close(vu.stopCh)
	}
	close(vu.doneCh)
}
