package util

import (
	"errors"
	"strings"
	"testing"

	. "github.com/anthonybishopric/gotcha"
)

var errSentinel = errors.New("sentinel")

func TestErrorfPrefixesCallsite(t *testing.T) {
	err := Errorf("could not reap %d", 42)
	Assert(t).IsTrue(strings.HasPrefix(err.Error(), "stackError_test.go:"), "error should have been prefixed with the file name: "+err.Error())
	Assert(t).IsTrue(strings.HasSuffix(err.Error(), "could not reap 42"), "error should have kept the formatted message: "+err.Error())
}

func TestErrorfKeepsWrappedError(t *testing.T) {
	err := Errorf("loading config: %w", errSentinel)
	Assert(t).IsTrue(errors.Is(err, errSentinel), "wrapped error should be reachable with errors.Is")

	plain := Errorf("loading config: %s", errSentinel)
	Assert(t).IsFalse(errors.Is(plain, errSentinel), "%s should not wrap")
}

func TestErrorfCarriesStack(t *testing.T) {
	err := Errorf("boom")
	stackErr, ok := err.(StackError)
	Assert(t).IsTrue(ok, "Errorf should return a StackError")
	Assert(t).IsTrue(strings.Contains(string(stackErr.Stack()), "TestErrorfCarriesStack"), "stack should include the calling test")
	Assert(t).IsFalse(strings.Contains(string(stackErr.Stack()), "util.stack("), "stack should not include the stack helper")
}
