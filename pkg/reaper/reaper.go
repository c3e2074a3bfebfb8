package reaper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/square/childwait/pkg/logging"
	"github.com/square/childwait/pkg/metrics"
)

type state int

const (
	active state = iota
	exited
)

// Reaper waits for one child to exit. It owns the child's probe until the exit is
// observed or until Close hands the child to the orphan queue.
//
// Poll is the state machine step and never blocks. Wait drives Poll, blocking only
// until the next SIGCHLD notification or until its context is done.
type Reaper struct {
	pid           int
	queue         OrphanQueue
	notifications Notifications
	logger        logging.Logger
	started       time.Time

	mu     sync.Mutex
	inner  Wait // nil once exited or closed
	state  state
	status ExitStatus
	err    error // a failed probe is the final result

	// set by Wait when it received from the notification channel on Poll's behalf
	pending bool
	ended   bool

	exitCh    chan struct{} // closed when the exit is observed
	closeOnce sync.Once
	closed    chan struct{}
}

// New returns a Reaper for the child behind inner. notifications must be a
// subscription of its own; the Reaper releases it on exit or Close.
func New(inner Wait, queue OrphanQueue, notifications Notifications, logger logging.Logger) *Reaper {
	return &Reaper{
		pid:           inner.Pid(),
		inner:         inner,
		queue:         queue,
		notifications: notifications,
		logger:        logger.SubLogger(logrus.Fields{"pid": inner.Pid()}),
		started:       time.Now(),
		exitCh:        make(chan struct{}),
		closed:        make(chan struct{}),
	}
}

// Pid returns the child's process id. It stays valid after the child exits.
func (r *Reaper) Pid() int {
	return r.pid
}

// Kill sends SIGKILL to the child if its probe supports it. It does not reap the child:
// the exit is still observed through Poll or Wait.
func (r *Reaper) Kill() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == exited {
		return ErrProcessDone
	}
	if r.inner == nil {
		return ErrReaperClosed
	}
	killer, ok := r.inner.(Kill)
	if !ok {
		return ErrKillUnsupported
	}
	return killer.Kill()
}

// Poll advances the reaper without blocking. It returns done once the child's exit
// status is known; after that it keeps returning the same status without touching the
// OS again. When it returns neither done nor an error, the caller should wait for the
// next notification and poll again.
func (r *Reaper) Poll() (ExitStatus, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == exited {
		return r.status, true, nil
	}
	if r.inner == nil {
		return ExitStatus{}, false, ErrReaperClosed
	}
	if r.err != nil {
		return ExitStatus{}, false, r.err
	}

	for {
		// The child may have exited before the first poll, or its notification may
		// have been folded into one that another reaper already consumed, so always
		// probe before looking at notifications.
		status, ok, err := r.inner.TryWait()
		if err != nil {
			r.err = errors.Wrapf(err, "could not probe exit status of pid %d", r.pid)
			return ExitStatus{}, false, r.err
		}
		if ok {
			r.exit(status)
			return status, true, nil
		}

		if !r.takeNotification() {
			if r.ended {
				return ExitStatus{}, false, ErrSignalStreamEnded
			}
			return ExitStatus{}, false, nil
		}

		metrics.Counter("reaper.notifications").Inc(1)
		r.queue.ReapOrphans()
	}
}

// takeNotification consumes one notification if one is immediately available.
// Must be called with r.mu held.
func (r *Reaper) takeNotification() bool {
	if r.pending {
		r.pending = false
		return true
	}
	if r.ended {
		return false
	}
	select {
	case _, ok := <-r.notifications.Chan():
		if !ok {
			r.ended = true
			return false
		}
		return true
	default:
		return false
	}
}

// Must be called with r.mu held.
func (r *Reaper) exit(status ExitStatus) {
	r.state = exited
	r.status = status
	r.inner = nil
	r.notifications.Unsubscribe()
	close(r.exitCh)

	metrics.Counter("reaper.exits").Inc(1)
	metrics.Timer("reaper.wait").UpdateSince(r.started)
	r.logger.WithField("status", status.String()).Debugln("Child exited")
}

// Wait blocks until the child exits, the notification sequence ends, or ctx is done.
// A done context leaves the reaper active, so Wait may be called again; use Close to
// give up on the child for good.
func (r *Reaper) Wait(ctx context.Context) (ExitStatus, error) {
	for {
		status, done, err := r.Poll()
		if err != nil {
			return ExitStatus{}, err
		}
		if done {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return ExitStatus{}, ctx.Err()
		case <-r.exitCh:
			// another caller observed the exit
		case <-r.closed:
			return ExitStatus{}, ErrReaperClosed
		case _, ok := <-r.notifications.Chan():
			r.mu.Lock()
			if ok {
				r.pending = true
			} else {
				r.ended = true
			}
			r.mu.Unlock()
		}
	}
}

// Close discards the reaper. If the child has not been observed to exit it is pushed
// onto the orphan queue, to be reaped by whichever reaper sees a later notification.
// Close never kills the child, never fails, and only acts the first time it is called.
func (r *Reaper) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		close(r.closed)
		if r.state == exited {
			return
		}
		orphan := r.inner
		r.inner = nil
		r.notifications.Unsubscribe()
		r.queue.PushOrphan(orphan)
	})
	return nil
}

func (r *Reaper) String() string {
	return fmt.Sprintf("Reaper{pid: %d}", r.pid)
}
