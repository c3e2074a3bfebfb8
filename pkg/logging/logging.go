// Package logging wraps logrus with a set of base fields that every entry logged
// through a Logger carries.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/square/childwait/pkg/util"
)

// OutType names a destination that log entries can be copied to, in addition to the
// logger's own output.
type OutType string

const (
	// OutSocket sends every entry, JSON formatted, to a unix socket.
	OutSocket = OutType("socket")
	// OutStderr is the default destination and needs no hook.
	OutStderr = OutType("stderr")
)

// DefaultLogger is used by packages whose callers did not supply a Logger.
var DefaultLogger Logger

func init() {
	DefaultLogger = NewLogger(logrus.Fields{})
}

type Logger struct {
	Logger     *logrus.Logger
	baseFields logrus.Fields
}

// NewLogger returns a Logger writing text to stderr at info level. Every entry has
// baseFields attached, plus the sequence counter and pid fields from ProcessCounter.
func NewLogger(baseFields logrus.Fields) Logger {
	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Hooks.Add(&ProcessCounter{})
	return Logger{
		Logger:     logger,
		baseFields: Merge(logrus.Fields{}, baseFields),
	}
}

// Merge returns a new map containing the fields of template overridden by the fields
// of addition. Neither argument is modified.
func Merge(template logrus.Fields, addition logrus.Fields) logrus.Fields {
	merged := make(logrus.Fields, len(template)+len(addition))
	for k, v := range template {
		merged[k] = v
	}
	for k, v := range addition {
		merged[k] = v
	}
	return merged
}

// SubLogger returns a Logger sharing this logger's output and level, with fields
// merged on top of the current base fields.
func (l Logger) SubLogger(fields logrus.Fields) Logger {
	return Logger{
		Logger:     l.Logger,
		baseFields: Merge(l.baseFields, fields),
	}
}

func (l Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(Merge(l.baseFields, fields))
}

func (l Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.WithFields(logrus.Fields{key: value})
}

func (l Logger) WithError(err error) *logrus.Entry {
	return l.WithFields(logrus.Fields{"err": err.Error()})
}

func (l Logger) WithErrorAndFields(err error, fields logrus.Fields) *logrus.Entry {
	return l.WithFields(Merge(fields, logrus.Fields{"err": err.Error()}))
}

func (l Logger) NoFields() *logrus.Entry {
	return l.Logger.WithFields(l.baseFields)
}

// SetLevel parses a logrus level name ("debug", "info", ...) and applies it.
func (l Logger) SetLevel(level string) error {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return util.Errorf("Received invalid log level %q", level)
	}
	l.Logger.SetLevel(lv)
	return nil
}

// AddHook copies every entry to an extra destination.
func (l Logger) AddHook(outType OutType, dest string) error {
	switch outType {
	case OutSocket:
		if dest == "" {
			return util.Errorf("a socket log destination needs a path")
		}
		l.Logger.Hooks.Add(SocketHook{socketPath: dest})
	case OutStderr:
	default:
		return util.Errorf("Unsupported log output type %q", outType)
	}
	return nil
}
