package reaper

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ExitStatus is the status a child reported when it was reaped.
type ExitStatus struct {
	ws unix.WaitStatus
}

func NewExitStatus(ws unix.WaitStatus) ExitStatus {
	return ExitStatus{ws: ws}
}

// ExitedWith builds the status of a child that called exit(code). The encoding is the
// traditional Unix wait status layout used by Linux and the BSDs.
func ExitedWith(code int) ExitStatus {
	return ExitStatus{ws: unix.WaitStatus((code & 0xff) << 8)}
}

// SignaledWith builds the status of a child terminated by sig.
func SignaledWith(sig unix.Signal) ExitStatus {
	return ExitStatus{ws: unix.WaitStatus(sig & 0x7f)}
}

// Success is true if the child exited normally with code 0.
func (s ExitStatus) Success() bool {
	return s.ws.Exited() && s.ws.ExitStatus() == 0
}

// Code returns the exit code if the child exited normally.
func (s ExitStatus) Code() (int, bool) {
	if !s.ws.Exited() {
		return 0, false
	}
	return s.ws.ExitStatus(), true
}

// Signal returns the terminating signal if the child was killed by one.
func (s ExitStatus) Signal() (unix.Signal, bool) {
	if !s.ws.Signaled() {
		return 0, false
	}
	return s.ws.Signal(), true
}

func (s ExitStatus) String() string {
	if code, ok := s.Code(); ok {
		return fmt.Sprintf("exit status %d", code)
	}
	if sig, ok := s.Signal(); ok {
		if s.ws.CoreDump() {
			return fmt.Sprintf("signal: %s (core dumped)", sig)
		}
		return fmt.Sprintf("signal: %s", sig)
	}
	return fmt.Sprintf("wait status %#x", uint32(s.ws))
}
