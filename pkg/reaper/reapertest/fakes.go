// Package reapertest provides in-memory stand-ins for child processes, the orphan queue
// and the SIGCHLD notification sequence.
package reapertest

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/square/childwait/pkg/reaper"
)

// FakeWait is a child process that exists only in memory. It records how it was
// probed so tests can check that no child is reaped twice.
type FakeWait struct {
	pid int

	mu              sync.Mutex
	exited          bool
	status          reaper.ExitStatus
	exitAfterProbes int
	err             error
	reaped          bool
	probes          int
	probesAfterReap int
}

var _ reaper.Wait = &FakeWait{}
var _ reaper.Kill = &FakeWait{}

func NewFakeWait(pid int) *FakeWait {
	return &FakeWait{pid: pid}
}

// Exit makes the child exit with status; the next probe reports it.
func (f *FakeWait) Exit(status reaper.ExitStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited = true
	f.status = status
}

// ExitAfterProbes makes the child exit with status right before its n-th probe.
func (f *FakeWait) ExitAfterProbes(n int, status reaper.ExitStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exitAfterProbes = n
	f.status = status
}

// FailWith makes every following probe fail with err.
func (f *FakeWait) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeWait) Pid() int {
	return f.pid
}

func (f *FakeWait) TryWait() (reaper.ExitStatus, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.reaped {
		f.probesAfterReap++
		return reaper.ExitStatus{}, false, unix.ECHILD
	}
	if f.err != nil {
		return reaper.ExitStatus{}, false, f.err
	}
	if f.exitAfterProbes > 0 && f.probes >= f.exitAfterProbes {
		f.exited = true
	}
	if !f.exited {
		return reaper.ExitStatus{}, false, nil
	}
	f.reaped = true
	return f.status, true, nil
}

// Kill terminates the child as if by SIGKILL. The exit still has to be probed.
func (f *FakeWait) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reaped {
		return reaper.ErrProcessDone
	}
	if !f.exited {
		f.exited = true
		f.status = reaper.SignaledWith(unix.SIGKILL)
	}
	return nil
}

func (f *FakeWait) Probes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

func (f *FakeWait) Reaped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reaped
}

// ProbesAfterReap counts probes that happened after the exit status was consumed.
// Anything other than zero means the child was reaped twice.
func (f *FakeWait) ProbesAfterReap() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probesAfterReap
}

// FakeNotifications is a SIGCHLD subscription driven by the test.
type FakeNotifications struct {
	ch chan struct{}

	mu           sync.Mutex
	unsubscribed int
	ended        bool
}

var _ reaper.Notifications = &FakeNotifications{}

// NewFakeNotifications returns a subscription that holds up to buffer undelivered
// notifications. Real subscriptions hold one.
func NewFakeNotifications(buffer int) *FakeNotifications {
	return &FakeNotifications{ch: make(chan struct{}, buffer)}
}

// Notify delivers a notification, dropping it if the buffer is full.
func (n *FakeNotifications) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// End closes the notification sequence.
func (n *FakeNotifications) End() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ended {
		n.ended = true
		close(n.ch)
	}
}

func (n *FakeNotifications) Chan() <-chan struct{} {
	return n.ch
}

func (n *FakeNotifications) Unsubscribe() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unsubscribed++
}

func (n *FakeNotifications) Unsubscribed() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unsubscribed
}

// RecordingQueue is an OrphanQueue that only records what it was asked to do.
type RecordingQueue struct {
	mu     sync.Mutex
	pushed []reaper.Wait
	drains int
}

var _ reaper.OrphanQueue = &RecordingQueue{}

func (q *RecordingQueue) PushOrphan(orphan reaper.Wait) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushed = append(q.pushed, orphan)
}

func (q *RecordingQueue) ReapOrphans() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drains++
}

func (q *RecordingQueue) Pushed() []reaper.Wait {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]reaper.Wait(nil), q.pushed...)
}

func (q *RecordingQueue) Drains() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drains
}
