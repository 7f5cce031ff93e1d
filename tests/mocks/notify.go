package mocks

import (
	"context"
	"sync"

	"github.com/daylend/emi-engine/internal/notify"
)

// RecordingEmitter captures emitted events for assertions. Emit is called
// from request goroutines, hence the lock.
type RecordingEmitter struct {
	mu     sync.Mutex
	Events []notify.Event
}

func (e *RecordingEmitter) Emit(_ context.Context, event notify.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Events = append(e.Events, event)
}

func (e *RecordingEmitter) ByType(eventType string) []notify.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []notify.Event
	for _, ev := range e.Events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
