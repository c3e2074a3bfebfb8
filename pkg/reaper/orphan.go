package reaper

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/square/childwait/pkg/logging"
	"github.com/square/childwait/pkg/metrics"
	"github.com/square/childwait/pkg/util/param"
)

// A warning is logged whenever a drain leaves at least this many orphans queued.
var orphanQueueWarnSize = param.Int("orphan_queue_warn_size", 128)

// OrphanQueue holds children whose Reaper was closed before the child exited. Being in
// the queue is the only remaining way such a child gets reaped.
type OrphanQueue interface {
	// PushOrphan takes ownership of a child that has not been observed to exit.
	PushOrphan(orphan Wait)
	// ReapOrphans probes every queued child once, without blocking, and forgets the
	// ones that exited.
	ReapOrphans()
}

// ReapObserver is told about every orphan reaped by an AtomicOrphanQueue.
type ReapObserver func(pid int, status ExitStatus)

// AtomicOrphanQueue is an OrphanQueue safe for concurrent use. A drain takes every
// queued orphan out under the lock before probing, so concurrent drains never probe the
// same child, and the ones still running are put back afterwards.
type AtomicOrphanQueue struct {
	mu       sync.Mutex
	orphans  []Wait
	observer ReapObserver
	logger   logging.Logger
}

func NewAtomicOrphanQueue(logger logging.Logger) *AtomicOrphanQueue {
	return &AtomicOrphanQueue{
		logger: logger.SubLogger(logrus.Fields{"component": "orphan_queue"}),
	}
}

var (
	globalQueue     *AtomicOrphanQueue
	globalQueueOnce sync.Once
)

// GlobalOrphanQueue returns the process-wide orphan queue, creating it on first use.
// Every child started by this process must share it, since any Reaper may be the one
// that sees the notification for an orphan's exit.
func GlobalOrphanQueue() *AtomicOrphanQueue {
	globalQueueOnce.Do(func() {
		globalQueue = NewAtomicOrphanQueue(logging.DefaultLogger)
	})
	return globalQueue
}

// SetReapObserver installs fn to be called, outside the queue lock, for each orphan
// that is reaped. Pass nil to remove it.
func (q *AtomicOrphanQueue) SetReapObserver(fn ReapObserver) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = fn
}

func (q *AtomicOrphanQueue) PushOrphan(orphan Wait) {
	q.mu.Lock()
	q.orphans = append(q.orphans, orphan)
	queued := len(q.orphans)
	q.mu.Unlock()

	metrics.Counter("reaper.orphans.pushed").Inc(1)
	metrics.Gauge("reaper.orphans.queued").Update(int64(queued))
	q.logger.WithFields(logrus.Fields{
		"pid":    orphan.Pid(),
		"queued": queued,
	}).Debugln("Child abandoned before exit, queued as orphan")
}

func (q *AtomicOrphanQueue) ReapOrphans() {
	q.mu.Lock()
	orphans := q.orphans
	q.orphans = nil
	observer := q.observer
	q.mu.Unlock()

	if len(orphans) == 0 {
		return
	}

	var running []Wait
	for _, orphan := range orphans {
		status, exited, err := orphan.TryWait()
		switch {
		case err != nil:
			// Nobody is left to report this to; give up on the orphan.
			metrics.Counter("reaper.orphans.dropped").Inc(1)
			q.logger.WithErrorAndFields(err, logrus.Fields{
				"pid": orphan.Pid(),
			}).Warnln("Could not probe orphan, dropping it")
		case exited:
			metrics.Counter("reaper.orphans.reaped").Inc(1)
			q.logger.WithFields(logrus.Fields{
				"pid":    orphan.Pid(),
				"status": status.String(),
			}).Debugln("Reaped orphan")
			if observer != nil {
				observer(orphan.Pid(), status)
			}
		default:
			running = append(running, orphan)
		}
	}

	q.mu.Lock()
	q.orphans = append(q.orphans, running...)
	queued := len(q.orphans)
	q.mu.Unlock()

	metrics.Gauge("reaper.orphans.queued").Update(int64(queued))
	if queued >= *orphanQueueWarnSize {
		q.logger.WithField("queued", queued).Warnln("Orphan queue is large, children may be leaking")
	}
}

// Len returns the number of orphans currently queued. Orphans being probed by an
// in-flight ReapOrphans are not counted.
func (q *AtomicOrphanQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.orphans)
}

// Contains reports whether an orphan with the given pid is queued.
func (q *AtomicOrphanQueue) Contains(pid int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, orphan := range q.orphans {
		if orphan.Pid() == pid {
			return true
		}
	}
	return false
}

func (q *AtomicOrphanQueue) String() string {
	return fmt.Sprintf("AtomicOrphanQueue{orphans: %d}", q.Len())
}
