package actuator

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Simulated stands in for the relay on machines without GPIO.
type Simulated struct {
	log   logrus.FieldLogger
	count atomic.Int64
}

func NewSimulated(log logrus.FieldLogger) *Simulated {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Simulated{log: log}
}

func (s *Simulated) Hardware() bool { return false }

func (s *Simulated) Trigger(_ context.Context) error {
	n := s.count.Add(1)
	s.log.WithField("trigger", n).Info("gate opened (simulated relay)")
	return nil
}

// Count returns how many times Trigger has run.
func (s *Simulated) Count() int64 { return s.count.Load() }
