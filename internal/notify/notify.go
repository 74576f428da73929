// Package notify carries alert text to its recipients. Delivery failures
// are reported to the caller and never retried here.
package notify

import "context"

// Sink delivers one alert message.
type Sink interface {
	Deliver(ctx context.Context, text string) error
}

// Multi fans a message out to several sinks; the first failure is returned
// after all sinks were attempted.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, text string) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.Deliver(ctx, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
