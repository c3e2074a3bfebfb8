package reaper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/anthonybishopric/gotcha"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/square/childwait/pkg/logging"
	"github.com/square/childwait/pkg/reaper"
	"github.com/square/childwait/pkg/reaper/reapertest"
)

type fixture struct {
	child         *reapertest.FakeWait
	queue         *reapertest.RecordingQueue
	notifications *reapertest.FakeNotifications
	reaper        *reaper.Reaper
}

func newFixture(buffer int) fixture {
	f := fixture{
		child:         reapertest.NewFakeWait(4242),
		queue:         &reapertest.RecordingQueue{},
		notifications: reapertest.NewFakeNotifications(buffer),
	}
	f.reaper = reaper.New(f.child, f.queue, f.notifications, logging.DefaultLogger)
	return f
}

func TestPollReturnsImmediatelyWhenChildAlreadyExited(t *testing.T) {
	f := newFixture(1)
	f.child.Exit(reaper.ExitedWith(0))

	status, done, err := f.reaper.Poll()
	Assert(t).IsNil(err, "poll should not fail")
	Assert(t).IsTrue(done, "poll should be done without any notification")
	Assert(t).IsTrue(status.Success(), "status should be exit 0")
	Assert(t).AreEqual(0, f.queue.Drains(), "orphans are only drained when a notification is consumed")
	Assert(t).AreEqual(1, f.notifications.Unsubscribed(), "the subscription should be released on exit")
}

func TestPollIsPendingWithoutNotification(t *testing.T) {
	f := newFixture(1)

	_, done, err := f.reaper.Poll()
	Assert(t).IsNil(err, "poll should not fail")
	Assert(t).IsFalse(done, "poll should be pending while the child runs")
	Assert(t).AreEqual(1, f.child.Probes(), "the child should have been probed once")
	Assert(t).AreEqual(0, f.queue.Drains(), "no notification means no drain")
}

func TestPollConsumesEveryAvailableNotification(t *testing.T) {
	f := newFixture(2)
	f.child.ExitAfterProbes(3, reaper.ExitedWith(7))
	f.notifications.Notify()
	f.notifications.Notify()

	status, done, err := f.reaper.Poll()
	Assert(t).IsNil(err, "poll should not fail")
	Assert(t).IsTrue(done, "the child exits on the third probe")
	code, ok := status.Code()
	Assert(t).IsTrue(ok, "the child exited normally")
	Assert(t).AreEqual(7, code, "the exit code should be reported")
	Assert(t).AreEqual(3, f.child.Probes(), "the child is probed once up front and once per notification")
	Assert(t).AreEqual(2, f.queue.Drains(), "each notification drains the orphan queue")
}

func TestSpuriousNotificationReturnsToPending(t *testing.T) {
	f := newFixture(1)
	f.notifications.Notify()

	_, done, err := f.reaper.Poll()
	Assert(t).IsNil(err, "a spurious notification is not an error")
	Assert(t).IsFalse(done, "the child is still running")
	Assert(t).AreEqual(2, f.child.Probes(), "the notification should have triggered a re-probe")
	Assert(t).AreEqual(1, f.queue.Drains(), "the notification should have drained the orphan queue")
	Assert(t).AreEqual(0, len(f.queue.Pushed()), "nothing should have been orphaned")
}

func TestPollFailsWhenNotificationsEnd(t *testing.T) {
	f := newFixture(1)
	f.notifications.End()

	_, done, err := f.reaper.Poll()
	Assert(t).IsFalse(done, "the child never exited")
	Assert(t).AreEqual(reaper.ErrSignalStreamEnded, err, "an ended stream should be fatal")

	_, _, err = f.reaper.Poll()
	Assert(t).AreEqual(reaper.ErrSignalStreamEnded, err, "the failure should persist")
}

func TestPollStillReportsExitAfterNotificationsEnd(t *testing.T) {
	f := newFixture(1)
	f.notifications.End()
	f.child.Exit(reaper.ExitedWith(1))

	_, done, err := f.reaper.Poll()
	Assert(t).IsNil(err, "an exit observed by the up-front probe wins")
	Assert(t).IsTrue(done, "the child exited")
}

func TestPollPropagatesProbeFailure(t *testing.T) {
	f := newFixture(1)
	f.child.FailWith(unix.ECHILD)

	_, done, err := f.reaper.Poll()
	Assert(t).IsFalse(done, "a failed probe does not complete the wait")
	Assert(t).IsNotNil(err, "the probe failure should be returned")
	Assert(t).AreEqual(unix.ECHILD, pkgerrors.Cause(err), "the OS error should be the cause")
	Assert(t).AreEqual(1, f.child.Probes(), "a failing probe should not be retried")

	_, _, again := f.reaper.Poll()
	Assert(t).AreEqual(err, again, "the failure is the final result")
	Assert(t).AreEqual(1, f.child.Probes(), "a failed reaper should not probe again")
}

func TestPollAfterExitNeverProbesAgain(t *testing.T) {
	f := newFixture(1)
	f.child.Exit(reaper.SignaledWith(unix.SIGTERM))

	first, done, err := f.reaper.Poll()
	Assert(t).IsNil(err, "poll should not fail")
	Assert(t).IsTrue(done, "the child exited")

	f.notifications.Notify()
	second, done, err := f.reaper.Poll()
	Assert(t).IsNil(err, "polling a finished reaper should not fail")
	Assert(t).IsTrue(done, "a finished reaper stays finished")
	Assert(t).AreEqual(first, second, "the result should never change")
	Assert(t).AreEqual(1, f.child.Probes(), "the OS should not be asked again")
	Assert(t).AreEqual(0, f.child.ProbesAfterReap(), "the child should not be reaped twice")
}

func TestCloseHandsRunningChildToOrphanQueue(t *testing.T) {
	f := newFixture(1)

	Assert(t).IsNil(f.reaper.Close(), "close never fails")
	Assert(t).IsNil(f.reaper.Close(), "close never fails")

	pushed := f.queue.Pushed()
	Assert(t).AreEqual(1, len(pushed), "the child should have been orphaned exactly once")
	Assert(t).AreEqual(f.child.Pid(), pushed[0].Pid(), "the orphan should be our child")
	Assert(t).AreEqual(1, f.notifications.Unsubscribed(), "the subscription should be released")
	Assert(t).IsFalse(f.child.Reaped(), "closing must not reap the child")

	_, _, err := f.reaper.Poll()
	Assert(t).AreEqual(reaper.ErrReaperClosed, err, "a closed reaper no longer owns its child")
	Assert(t).AreEqual(reaper.ErrReaperClosed, f.reaper.Kill(), "a closed reaper cannot kill")
}

func TestCloseAfterExitOrphansNothing(t *testing.T) {
	f := newFixture(1)
	f.child.Exit(reaper.ExitedWith(0))
	_, done, _ := f.reaper.Poll()
	Assert(t).IsTrue(done, "the child exited")

	f.reaper.Close()
	Assert(t).AreEqual(0, len(f.queue.Pushed()), "an exited child is never orphaned")

	_, done, err := f.reaper.Poll()
	Assert(t).IsNil(err, "the result survives close")
	Assert(t).IsTrue(done, "the result survives close")
}

func TestKillThenWait(t *testing.T) {
	f := newFixture(1)

	Assert(t).IsNil(f.reaper.Kill(), "kill should succeed")
	Assert(t).IsFalse(f.child.Reaped(), "kill must not reap")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := f.reaper.Wait(ctx)
	Assert(t).IsNil(err, "waiting on a killed child is not an error")
	sig, ok := status.Signal()
	Assert(t).IsTrue(ok, "the child should have been killed by a signal")
	Assert(t).AreEqual(unix.SIGKILL, sig, "the child should have been killed by SIGKILL")
	Assert(t).AreEqual(reaper.ErrProcessDone, f.reaper.Kill(), "killing a reaped child should fail")
}

func TestWaitResolvesOnNotification(t *testing.T) {
	f := newFixture(1)

	result := make(chan error, 1)
	var status reaper.ExitStatus
	go func() {
		var err error
		status, err = f.reaper.Wait(context.Background())
		result <- err
	}()

	// a notification without an exit is a spurious wakeup
	f.notifications.Notify()
	time.Sleep(10 * time.Millisecond)
	f.child.Exit(reaper.ExitedWith(5))
	f.notifications.Notify()

	select {
	case err := <-result:
		Assert(t).IsNil(err, "wait should succeed")
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after the exit notification")
	}
	code, _ := status.Code()
	Assert(t).AreEqual(5, code, "wait should return the exit code")
}

func TestWaitFailsWhenNotificationsEnd(t *testing.T) {
	f := newFixture(1)

	result := make(chan error, 1)
	go func() {
		_, err := f.reaper.Wait(context.Background())
		result <- err
	}()
	f.notifications.End()

	select {
	case err := <-result:
		Assert(t).AreEqual(reaper.ErrSignalStreamEnded, err, "an ended stream should fail the wait instead of hanging")
	case <-time.After(2 * time.Second):
		t.Fatal("wait hung after the notification stream ended")
	}
}

func TestWaitReturnsWhenContextIsDone(t *testing.T) {
	f := newFixture(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.reaper.Wait(ctx)
	Assert(t).IsTrue(errors.Is(err, context.DeadlineExceeded), "wait should stop at the deadline")
	Assert(t).AreEqual(0, len(f.queue.Pushed()), "a timed out wait keeps its child")

	f.child.Exit(reaper.ExitedWith(0))
	status, err := f.reaper.Wait(context.Background())
	Assert(t).IsNil(err, "the reaper can be waited on again")
	Assert(t).IsTrue(status.Success(), "the second wait sees the exit")
}

func TestWaitReturnsWhenClosed(t *testing.T) {
	f := newFixture(1)

	result := make(chan error, 1)
	go func() {
		_, err := f.reaper.Wait(context.Background())
		result <- err
	}()
	time.Sleep(10 * time.Millisecond)
	f.reaper.Close()

	select {
	case err := <-result:
		Assert(t).AreEqual(reaper.ErrReaperClosed, err, "closing should end a pending wait")
	case <-time.After(2 * time.Second):
		t.Fatal("wait hung after close")
	}
	Assert(t).AreEqual(1, len(f.queue.Pushed()), "the child should have been orphaned")
}

func TestReaperString(t *testing.T) {
	f := newFixture(1)
	Assert(t).AreEqual("Reaper{pid: 4242}", f.reaper.String(), "the reaper should print its pid")
}
