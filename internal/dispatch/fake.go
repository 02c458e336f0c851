package dispatch

import (
	"context"
	"sync"

	"github.com/aria-voice/aria/internal/assistant"
)

// FakeDispatcher records routed responses for tests.
type FakeDispatcher struct {
	mu     sync.Mutex
	Routed []*assistant.Response
	Err    error
}

func (f *FakeDispatcher) Route(ctx context.Context, resp *assistant.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Routed = append(f.Routed, resp)
	return nil
}

func (f *FakeDispatcher) Close() {}

func (f *FakeDispatcher) RoutedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Routed)
}
