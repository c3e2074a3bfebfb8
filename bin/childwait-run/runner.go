package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/square/childwait/pkg/exitjournal"
	"github.com/square/childwait/pkg/logging"
	"github.com/square/childwait/pkg/process"
	"github.com/square/childwait/pkg/reaper"
)

type runner struct {
	spawner       *process.Spawner
	journal       exitjournal.Journal // nil when disabled
	timeout       time.Duration
	killOnTimeout bool
	logger        logging.Logger

	// commands of started children, so orphans can be journaled by name
	commands sync.Map
}

type result struct {
	command   string
	pid       int
	status    reaper.ExitStatus
	err       error
	killed    bool
	abandoned bool
}

func (r result) ok() bool {
	return r.err == nil && !r.abandoned && !r.killed && r.status.Success()
}

func (r result) String() string {
	switch {
	case r.err != nil:
		return fmt.Sprintf("%q: error: %s", r.command, r.err)
	case r.abandoned:
		return fmt.Sprintf("%q (pid %d): still running, abandoned", r.command, r.pid)
	case r.killed:
		return fmt.Sprintf("%q (pid %d): timed out, %s", r.command, r.pid, r.status)
	default:
		return fmt.Sprintf("%q (pid %d): %s", r.command, r.pid, r.status)
	}
}

func (r *runner) run(command string) result {
	res := result{command: command}

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	child, err := r.spawner.Start(cmd)
	if err != nil {
		res.err = err
		return res
	}
	defer child.Close()
	res.pid = child.Pid()
	r.commands.Store(res.pid, command)

	logger := r.logger.SubLogger(logrus.Fields{"pid": res.pid, "command": command})
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	res.status, res.err = child.Wait(ctx)
	if res.err == context.DeadlineExceeded {
		res.err = nil
		if !r.killOnTimeout {
			// Close hands the child to the orphan queue
			logger.NoFields().Warnln("Timed out, abandoning child")
			res.abandoned = true
			return res
		}
		logger.NoFields().Warnln("Timed out, killing child")
		res.killed = true
		if err = child.Kill(); err != nil && err != process.ErrProcessDone {
			res.err = err
			return res
		}
		res.status, res.err = child.Wait(context.Background())
	}
	if res.err != nil {
		logger.WithError(res.err).Errorln("Could not wait for child")
		return res
	}

	r.commands.Delete(res.pid)
	logger.WithField("status", res.status.String()).Infoln("Child exited")
	r.record(exitjournal.RecordFromStatus(res.pid, command, false, res.status))
	return res
}

// recordOrphan is the orphan queue's reap observer.
func (r *runner) recordOrphan(pid int, status reaper.ExitStatus) {
	command := ""
	if c, ok := r.commands.Load(pid); ok {
		command = c.(string)
		r.commands.Delete(pid)
	}
	r.logger.WithFields(logrus.Fields{
		"pid":     pid,
		"command": command,
		"status":  status.String(),
	}).Infoln("Reaped orphan")
	r.record(exitjournal.RecordFromStatus(pid, command, true, status))
}

func (r *runner) record(exit exitjournal.ExitRecord) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Insert(exit); err != nil {
		r.logger.WithError(err).Errorln("Could not record exit")
	}
}
