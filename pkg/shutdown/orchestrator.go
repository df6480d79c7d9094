package shutdown

import (
	"errors"
	"sync"
	"time"
)

// Orchestrator asks every subscribed background loop to stop, and collects the error each one reports back.
// A subscriber receives a reply channel on its subscription, and must send exactly one value on it.
type Orchestrator struct {
	mu          sync.Mutex
	subscribers []chan chan error
}

var ErrTimeout = errors.New("timed out waiting for shutdown")

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{}
}

func (o *Orchestrator) Subscribe() chan chan error {
	ch := make(chan chan error)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.subscribers = append(o.subscribers, ch)
	return ch
}

// Await signals every subscriber and waits up to timeout for all of them to reply. Subscribers that have not
// replied by then are abandoned, and ErrTimeout is joined to whatever errors were collected.
func (o *Orchestrator) Await(timeout time.Duration) error {
	o.mu.Lock()
	subscribers := o.subscribers
	o.subscribers = nil
	o.mu.Unlock()

	if len(subscribers) == 0 {
		return nil
	}

	// Buffered, so late replies after a timeout never block the subscriber
	replies := make(chan error, len(subscribers))
	go func() {
		for _, subscriber := range subscribers {
			subscriber <- replies
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var errs []error
	for received := 0; received < len(subscribers); received++ {
		select {
		case err := <-replies:
			errs = append(errs, err)
		case <-timer.C:
			return errors.Join(append(errs, ErrTimeout)...)
		}
	}

	return errors.Join(errs...)
}
