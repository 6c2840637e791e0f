package tsg

import "errors"

var (
	// ErrInvalidArgument indicates a malformed request such as an out of
	// range subcontext id or power gating unit count
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState indicates the channel or group is in the wrong state
	// for the operation
	ErrInvalidState = errors.New("invalid state")

	// ErrMismatch indicates the channel targets a different runlist than
	// the group
	ErrMismatch = errors.New("runlist mismatch")

	// ErrResourceExhausted indicates no free group slot or a failed
	// allocation
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrPreemptTimeout indicates the hardware did not acknowledge
	// preemption in time
	ErrPreemptTimeout = errors.New("preempt timeout")

	// ErrNotAbortable indicates abort was requested on a group that has
	// abort disabled
	ErrNotAbortable = errors.New("group not abortable")

	// ErrNotFound indicates the id or handle names no live group
	ErrNotFound = errors.New("group not found")

	// ErrControlLocked indicates scheduler control is held by another
	// client
	ErrControlLocked = errors.New("scheduler control locked")

	// ErrHardware indicates a runlist submission, power or register access
	// failed
	ErrHardware = errors.New("hardware error")
)
