package notify

import (
	"context"
	"errors"
)

// Message is a single push notification.
type Message struct {
	Title    string
	Body     string
	Url      string
	UrlTitle string
}

// Transport delivers a message, a nil error means the transport accepted it.
//
// note: fault injection point
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Fanout sends every message through each of its transports in order, it fails if any of them
// fails. Transports after a failed one are still attempted.
type Fanout []Transport

func (f Fanout) Send(ctx context.Context, msg Message) error {
	var errlist []error
	for _, t := range f {
		err := t.Send(ctx, msg)
		if err != nil {
			errlist = append(errlist, err)
		}
	}
	return errors.Join(errlist...)
}
