package util

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
)

const fileLinePrefixFormat string = "%s:%d: "

// StackError represents an error with an associated stack trace.
type StackError interface {
	error
	Stack() []byte
}

type stackError struct {
	message string
	cause   error
	stack   []byte
}

func (e *stackError) Error() string {
	return e.message
}

func (e *stackError) Stack() []byte {
	return e.stack
}

// Unwrap returns the error wrapped with %w, if any, so that errors.Is and
// errors.As see through util errors.
func (e *stackError) Unwrap() error {
	return e.cause
}

// Errorf formats according to fmt.Errorf, but prefixes the error
// message with filename and line number. An operand formatted with %w
// remains reachable through Unwrap.
func Errorf(format string, a ...interface{}) error {
	// Skip one stack frame to get the file & line number of caller.
	if _, file, line, ok := runtime.Caller(1); ok {
		format = fmt.Sprintf(fileLinePrefixFormat, filepath.Base(file), line) + format
	}
	formatted := fmt.Errorf(format, a...)
	var cause error
	if u, ok := formatted.(interface{ Unwrap() error }); ok {
		cause = u.Unwrap()
	}
	return &stackError{
		message: formatted.Error(),
		cause:   cause,
		stack:   stack(1),
	}
}

// trimLine returns a subslice of b by slicing off the bytes up to and
// including the first newline. Returns nil if b does not contain a
// newline. This method is safe to call with b==nil.
func trimLine(b []byte) []byte {
	index := bytes.IndexByte(b, '\n')
	if index == -1 {
		return nil
	}
	return b[index+1:]
}

// stack formats the stack trace of the calling goroutine. The
// argument skip is the number of stack frames to skip before recoding
// the stack trace, with 0 identifying the caller of stack.
func stack(skip int) []byte {
	buf := make([]byte, 1024)
	var n int
	for {
		n = runtime.Stack(buf, false)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, len(buf)*2)
	}

	// runtime.Stack output is one goroutine header line followed by a
	// pair of lines per frame. Keep the header and drop skip+1 frames.
	start := trimLine(buf)
	end := start
	for i := 0; i <= skip; i++ {
		end = trimLine(trimLine(end))
	}

	copy(start, end)
	n -= (len(start) - len(end))
	return buf[:n]
}
