// README: Post-commit notifications; every sink is best effort and never fails the caller's transition.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PearlPath/pearlpath-api/internal/types"
)

// Event describes something that happened to a booking or ride.
type Event struct {
	Type       string     `json:"type"`
	BookingID  types.ID   `json:"booking_id"`
	Recipients []types.ID `json:"recipients"`
	// Topics are broadcast channels such as SafetyTopic.
	Topics []string          `json:"topics,omitempty"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
	At     time.Time         `json:"at"`
}

// SafetyTopic is the channel staff devices subscribe to for SOS alerts.
const SafetyTopic = "staff_safety"

type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Dispatcher fans an event out to every sink in the background and logs failures.
type Dispatcher struct {
	sinks   []Sink
	log     logrus.FieldLogger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(log logrus.FieldLogger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, log: log, timeout: 5 * time.Second}
}

// Publish never returns an error and never waits on a sink; it is called
// after a transition commits.
func (d *Dispatcher) Publish(ctx context.Context, e Event) {
	if d == nil || len(d.sinks) == 0 {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	// the request context may already be cancelled once the response is written
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.send(ctx, e)
	}()
}

// Wait blocks until every published event has been handed to the sinks.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var errs []error
	for _, s := range d.sinks {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{"booking_id": e.BookingID, "event": e.Type}).Warn("notification dispatch failed")
	}
}
