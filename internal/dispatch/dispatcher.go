// Package dispatch delivers device-control commands from structured
// assistant responses to target peripherals.
package dispatch

import (
	"context"
	"errors"

	"github.com/aria-voice/aria/internal/assistant"
)

// ErrNoTarget means the response named no device to deliver to.
var ErrNoTarget = errors.New("dispatch: response has no target device")

// ErrNoCommand means the response carried no command string.
var ErrNoCommand = errors.New("dispatch: response has no command")

// Dispatcher routes one device-control response to its target.
type Dispatcher interface {
	Route(ctx context.Context, resp *assistant.Response) error
	Close()
}

// Disabled is used when no broker is configured; every route fails.
type Disabled struct{}

func (Disabled) Route(context.Context, *assistant.Response) error {
	return errors.New("dispatch: no broker configured")
}

func (Disabled) Close() {}

// New picks a dispatcher from the broker setting. An empty broker
// yields Disabled.
func New(opts MQTTOptions) Dispatcher {
	if opts.Broker == "" {
		return Disabled{}
	}
	return NewMQTTDispatcher(opts)
}
