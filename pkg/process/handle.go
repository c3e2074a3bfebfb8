package process

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/square/childwait/pkg/reaper"
)

// ErrProcessDone is returned by Kill once the child's exit status has been collected.
// Its pid may already belong to another process.
var ErrProcessDone = reaper.ErrProcessDone

// Handle probes and kills one child started by this process. Once the exit status has
// been collected the handle never touches the pid again.
type Handle struct {
	pid     int
	process *os.Process

	mu     sync.Mutex
	reaped bool
	status reaper.ExitStatus
}

var _ reaper.Wait = &Handle{}
var _ reaper.Kill = &Handle{}

func newHandle(process *os.Process) *Handle {
	return &Handle{pid: process.Pid, process: process}
}

func (h *Handle) Pid() int {
	return h.pid
}

// TryWait collects the child's exit status if it has exited, without blocking.
func (h *Handle) TryWait() (reaper.ExitStatus, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reaped {
		return h.status, true, nil
	}

	var ws unix.WaitStatus
	for {
		pid, err := unix.Wait4(h.pid, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return reaper.ExitStatus{}, false, errors.Wrapf(err, "wait4 on pid %d", h.pid)
		}
		if pid == 0 {
			return reaper.ExitStatus{}, false, nil
		}
		break
	}

	h.reaped = true
	h.status = reaper.NewExitStatus(ws)
	// The pid is gone; make sure os.Process never signals it.
	_ = h.process.Release()
	return h.status, true, nil
}

// Kill sends SIGKILL. It does not collect the exit status.
func (h *Handle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reaped {
		return ErrProcessDone
	}
	if err := unix.Kill(h.pid, unix.SIGKILL); err != nil {
		return errors.Wrapf(err, "could not kill pid %d", h.pid)
	}
	return nil
}
