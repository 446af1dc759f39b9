package notify

import (
	"context"
	"sync"
)

// Recorder is a Notifier that remembers every handler it was called with.
// It is meant for tests and demos.
type Recorder struct {
	mu  sync.Mutex
	ids []string
}

// Notify records handlerID.
func (r *Recorder) Notify(_ context.Context, handlerID string) {
	r.mu.Lock()
	r.ids = append(r.ids, handlerID)
	r.mu.Unlock()
}

// Calls returns the recorded handler IDs in call order.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// Count returns how many times handlerID was notified.
func (r *Recorder) Count(handlerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.ids {
		if id == handlerID {
			n++
		}
	}
	return n
}
