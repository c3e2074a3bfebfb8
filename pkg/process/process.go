// Package process starts child processes whose exit is observed through SIGCHLD
// instead of a blocking wait. A Child that is closed before it exits is handed to an
// orphan queue, so it is still reaped without anyone waiting on it.
package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/square/childwait/pkg/logging"
	"github.com/square/childwait/pkg/metrics"
	"github.com/square/childwait/pkg/reaper"
	"github.com/square/childwait/pkg/sigchld"
	"github.com/square/childwait/pkg/util"
)

// NotificationSource hands out SIGCHLD subscriptions. *sigchld.Source is the real one.
type NotificationSource interface {
	Subscribe() reaper.Notifications
}

// Spawner starts children and wires each to a Reaper.
type Spawner struct {
	Queue  reaper.OrphanQueue
	Source NotificationSource
	Logger logging.Logger
}

var (
	defaultSpawner     *Spawner
	defaultSpawnerOnce sync.Once
)

// DefaultSpawner returns a Spawner using the process-wide orphan queue and SIGCHLD
// source.
func DefaultSpawner() *Spawner {
	defaultSpawnerOnce.Do(func() {
		defaultSpawner = &Spawner{
			Queue:  reaper.GlobalOrphanQueue(),
			Source: sigchld.Global(),
			Logger: logging.DefaultLogger,
		}
	})
	return defaultSpawner
}

// Start starts cmd with the default Spawner.
func Start(cmd *exec.Cmd) (*Child, error) {
	return DefaultSpawner().Start(cmd)
}

// Status starts cmd, waits for it to exit and returns its exit status. If ctx is done
// first the child keeps running and is left to the orphan queue.
func Status(ctx context.Context, cmd *exec.Cmd) (reaper.ExitStatus, error) {
	child, err := Start(cmd)
	if err != nil {
		return reaper.ExitStatus{}, err
	}
	defer child.Close()
	return child.Wait(ctx)
}

// Start starts cmd. cmd.Wait must never be called on it; use the returned Child.
//
// Standard streams must be nil or *os.File. Anything else makes os/exec copy data in
// goroutines that only cmd.Wait would finish. For the same reason, pipes from
// cmd.StdinPipe, cmd.StdoutPipe and cmd.StderrPipe are never closed for the caller:
// the caller owns the parent ends and must close them.
func (s *Spawner) Start(cmd *exec.Cmd) (*Child, error) {
	if err := checkStdio(cmd); err != nil {
		return nil, err
	}

	// Subscribe first: a child that exits right away must not slip between Start and
	// the subscription.
	notifications := s.Source.Subscribe()
	if err := cmd.Start(); err != nil {
		notifications.Unsubscribe()
		return nil, util.Errorf("could not start %s: %w", cmd.Path, err)
	}

	handle := newHandle(cmd.Process)
	child := &Child{
		handle: handle,
		reaper: reaper.New(handle, s.Queue, notifications, s.Logger),
	}
	// Dropping a Child without Close must not leak a zombie.
	runtime.SetFinalizer(child, (*Child).Close)

	metrics.Counter("process.started").Inc(1)
	s.Logger.WithFields(logrus.Fields{
		"pid":  handle.Pid(),
		"path": cmd.Path,
	}).Debugln("Started child")
	return child, nil
}

func checkStdio(cmd *exec.Cmd) error {
	streams := []struct {
		name   string
		stream interface{}
	}{
		{"stdin", cmd.Stdin},
		{"stdout", cmd.Stdout},
		{"stderr", cmd.Stderr},
	}
	for _, s := range streams {
		if s.stream == nil {
			continue
		}
		if _, ok := s.stream.(*os.File); !ok {
			return util.Errorf("%s of %s must be nil or an *os.File, got %T", s.name, cmd.Path, s.stream)
		}
	}
	return nil
}

// Child is a running child process. Wait for it, or Close it to stop caring; either
// way it is reaped exactly once.
type Child struct {
	handle *Handle
	reaper *reaper.Reaper
}

func (c *Child) Pid() int {
	return c.handle.Pid()
}

// Kill sends SIGKILL to the child. It works after Close as long as the child has not
// been reaped, and returns ErrProcessDone afterwards.
func (c *Child) Kill() error {
	return c.handle.Kill()
}

// Poll reports the child's exit status without blocking.
func (c *Child) Poll() (reaper.ExitStatus, bool, error) {
	status, done, err := c.reaper.Poll()
	runtime.KeepAlive(c)
	return status, done, err
}

// Wait blocks until the child exits or ctx is done. A done context leaves the child
// running and the Child usable.
func (c *Child) Wait(ctx context.Context) (reaper.ExitStatus, error) {
	status, err := c.reaper.Wait(ctx)
	// the finalizer must not close the reaper under a running Wait
	runtime.KeepAlive(c)
	return status, err
}

// Close releases the Child. A child still running is reaped later by the orphan queue.
func (c *Child) Close() error {
	runtime.SetFinalizer(c, nil)
	return c.reaper.Close()
}

func (c *Child) String() string {
	return fmt.Sprintf("Child{pid: %d}", c.Pid())
}
