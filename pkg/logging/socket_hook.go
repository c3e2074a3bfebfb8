package logging

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
)

// SocketHook writes each entry as JSON to a fresh connection on a unix socket. Failing
// to reach the socket never fails the log call.
type SocketHook struct {
	socketPath string
}

var socketFormatter = &logrus.JSONFormatter{}

func (SocketHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s SocketHook) Fire(entry *logrus.Entry) error {
	c, err := net.Dial("unix", s.socketPath)
	if err != nil {
		fmt.Println("Unable to dial socket:", err)
		return nil
	}
	defer c.Close()

	logMessage, err := socketFormatter.Format(entry)
	if err != nil {
		return nil
	}
	_, err = c.Write(logMessage)
	if err != nil {
		fmt.Println("Unable to write to socket:", err)
	}
	return nil
}
