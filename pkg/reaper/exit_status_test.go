package reaper

import (
	"testing"

	. "github.com/anthonybishopric/gotcha"
	"golang.org/x/sys/unix"
)

func TestExitedWith(t *testing.T) {
	status := ExitedWith(3)
	code, ok := status.Code()
	Assert(t).IsTrue(ok, "a normal exit should have a code")
	Assert(t).AreEqual(3, code, "the exit code should round trip")
	_, signaled := status.Signal()
	Assert(t).IsFalse(signaled, "a normal exit has no signal")
	Assert(t).IsFalse(status.Success(), "exit 3 is not a success")
	Assert(t).AreEqual("exit status 3", status.String(), "wrong description")

	Assert(t).IsTrue(ExitedWith(0).Success(), "exit 0 is a success")
}

func TestSignaledWith(t *testing.T) {
	status := SignaledWith(unix.SIGKILL)
	sig, ok := status.Signal()
	Assert(t).IsTrue(ok, "a killed child should report its signal")
	Assert(t).AreEqual(unix.SIGKILL, sig, "the signal should round trip")
	_, exited := status.Code()
	Assert(t).IsFalse(exited, "a killed child has no exit code")
	Assert(t).IsFalse(status.Success(), "being killed is not a success")
	Assert(t).AreEqual("signal: killed", status.String(), "wrong description")
}
