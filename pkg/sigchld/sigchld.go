// Package sigchld turns SIGCHLD deliveries into a broadcast sequence of notifications.
// Deliveries that arrive before a subscriber reads are coalesced, the same way the
// kernel coalesces the signal itself.
package sigchld

import (
	"os"
	"os/signal"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/square/childwait/pkg/logging"
	"github.com/square/childwait/pkg/reaper"
	"github.com/square/childwait/pkg/util/stream"
)

// Source receives SIGCHLD and publishes one event per delivery to every subscriber.
type Source struct {
	signals   chan os.Signal
	events    chan struct{}
	publisher *stream.EventPublisher
	logger    logging.Logger

	closeOnce sync.Once
	quit      chan struct{}
}

// New starts listening for SIGCHLD. Several Sources may coexist; each gets every
// delivery.
func New(logger logging.Logger) *Source {
	s := &Source{
		signals: make(chan os.Signal, 1),
		events:  make(chan struct{}),
		logger:  logger.SubLogger(logrus.Fields{"component": "sigchld"}),
		quit:    make(chan struct{}),
	}
	s.publisher = stream.NewEventPublisher(s.events)
	signal.Notify(s.signals, unix.SIGCHLD)
	go s.forward()
	return s
}

func (s *Source) forward() {
	defer close(s.events)
	for {
		select {
		case <-s.quit:
			return
		case <-s.signals:
		}
		select {
		case <-s.quit:
			return
		case s.events <- struct{}{}:
		}
	}
}

// Subscribe returns a new subscription. Only deliveries after Subscribe returns are
// guaranteed to be seen.
func (s *Source) Subscribe() reaper.Notifications {
	return s.publisher.Subscribe()
}

// Subscribers returns the number of live subscriptions.
func (s *Source) Subscribers() int {
	return s.publisher.Subscribers()
}

// Close stops listening for SIGCHLD and ends every subscription. Reapers still waiting
// on this source fail with reaper.ErrSignalStreamEnded.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		signal.Stop(s.signals)
		close(s.quit)
		s.logger.NoFields().Infoln("Stopped listening for SIGCHLD")
	})
	return nil
}

var (
	globalSource *Source
	globalOnce   sync.Once
)

// Global returns the process-wide Source, starting it on first use. It is never closed.
func Global() *Source {
	globalOnce.Do(func() {
		globalSource = New(logging.DefaultLogger)
	})
	return globalSource
}
