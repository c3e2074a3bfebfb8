// Package reaper observes the exit of child processes using only the process-wide,
// coalescing SIGCHLD notification.
//
// Unix offers no way to be woken for the exit of one particular child. All a process
// gets is SIGCHLD, and several exits may be folded into a single delivery. A Reaper
// therefore re-probes its own child every time any notification arrives, and on the same
// occasion drains the OrphanQueue, which holds children whose Reaper was closed before
// they exited. This is O(children) work per notification, which is fine for the number
// of processes a single program usually spawns.
package reaper

import (
	"github.com/pkg/errors"
)

// Wait is the exit-status probe of one child process.
type Wait interface {
	// Pid returns the child's process id.
	Pid() int
	// TryWait asks the OS, without blocking, whether the child has exited. The first
	// call that reports ok consumes the exit status; the child must not be probed
	// again afterwards.
	TryWait() (status ExitStatus, ok bool, err error)
}

// Kill is implemented by probes that can also terminate their child.
type Kill interface {
	Kill() error
}

// Notifications is one subscription to the SIGCHLD notification sequence. Chan yields
// a value per coalesced batch of deliveries and is closed when the sequence ends.
type Notifications interface {
	Chan() <-chan struct{}
	Unsubscribe()
}

var (
	// ErrSignalStreamEnded is returned once the SIGCHLD sequence has ended. No child
	// exit can be discovered after that point.
	ErrSignalStreamEnded = errors.New("SIGCHLD notification stream ended, child exit status can no longer be observed")

	// ErrProcessDone is returned when killing a child whose exit was already observed.
	ErrProcessDone = errors.New("process already finished")

	// ErrReaperClosed is returned when using a Reaper after Close handed its child to
	// the orphan queue.
	ErrReaperClosed = errors.New("reaper was closed")

	// ErrKillUnsupported is returned by Reaper.Kill when its probe cannot kill.
	ErrKillUnsupported = errors.New("process handle does not support kill")
)
