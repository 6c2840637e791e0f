// Package vgpu carries BindChannelEx between a guest that does not own the
// GPU and the host scheduler that does.
package vgpu

import (
	"errors"
	"fmt"

	"github.com/tsgd/tsgd/internal/channel"
	"github.com/tsgd/tsgd/internal/tsg"
)

// Status is the errno-style result code of a remote call. Zero is success.
type Status int32

// Status codes
const (
	StatusOK           Status = 0
	StatusPermission   Status = -1   // EPERM
	StatusNotFound     Status = -2   // ENOENT
	StatusIO           Status = -5   // EIO
	StatusNoMemory     Status = -12  // ENOMEM
	StatusBusy         Status = -16  // EBUSY
	StatusCrossRunlist Status = -18  // EXDEV
	StatusInvalid      Status = -22  // EINVAL
	StatusNotSupported Status = -95  // EOPNOTSUPP
	StatusTimedOut     Status = -110 // ETIMEDOUT
)

var statusErrors = []struct {
	status Status
	err    error
}{
	{StatusInvalid, tsg.ErrInvalidArgument},
	{StatusBusy, tsg.ErrInvalidState},
	{StatusCrossRunlist, tsg.ErrMismatch},
	{StatusNoMemory, tsg.ErrResourceExhausted},
	{StatusTimedOut, tsg.ErrPreemptTimeout},
	{StatusNotSupported, tsg.ErrNotAbortable},
	{StatusNotFound, tsg.ErrNotFound},
	{StatusPermission, tsg.ErrControlLocked},
	{StatusIO, tsg.ErrHardware},
}

// StatusFromError maps an error from the group manager onto a status code
func StatusFromError(err error) Status {
	if err == nil {
		return StatusOK
	}
	for _, se := range statusErrors {
		if errors.Is(err, se.err) {
			return se.status
		}
	}
	switch {
	case errors.Is(err, channel.ErrChannelNotFound):
		return StatusNotFound
	case errors.Is(err, channel.ErrChannelBound):
		return StatusBusy
	case errors.Is(err, channel.ErrInvalidRunlist):
		return StatusInvalid
	case errors.Is(err, channel.ErrNoFreeChannel):
		return StatusNoMemory
	}
	return StatusIO
}

// Err converts a status code back into the matching sentinel error, so a
// remote failure can be tested with errors.Is like a local one.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	for _, se := range statusErrors {
		if se.status == s {
			return fmt.Errorf("remote status %d: %w", int32(s), se.err)
		}
	}
	return fmt.Errorf("remote status %d: %w", int32(s), tsg.ErrHardware)
}

// Response is the reply to a remote bind or unbind
type Response struct {
	Ret Status `json:"ret"`
}
