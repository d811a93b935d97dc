package agent

import (
	"context"
	"errors"
)

type multiSink []EventSink

// Sinks fans events out to every non-nil sink. All sinks receive the event
// even when an earlier one fails; the errors are joined.
func Sinks(sinks ...EventSink) EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, event Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
