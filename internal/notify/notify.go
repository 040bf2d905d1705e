// Package notify wakes the scheduler when work may be available, so it does
// not have to wait out its polling interval.
package notify

import "context"

// Notifier signals that a plan was queued or a worker was freed.
type Notifier interface {
	// Notify requests a scheduler pass. It never blocks.
	Notify(ctx context.Context)
	// Wake delivers coalesced wake-ups.
	Wake() <-chan struct{}
	Close() error
}

// Local is an in-process notifier. Bursts of Notify collapse into one pending wake-up.
type Local struct {
	ch chan struct{}
}

// NewLocal creates an in-process notifier.
func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

func (l *Local) Notify(context.Context) {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

func (l *Local) Wake() <-chan struct{} {
	return l.ch
}

func (l *Local) Close() error {
	return nil
}
