package memory

import (
	"context"
	"sync"

	"github.com/MrEthical07/orgauth/audit"
)

// AuditSink keeps written events in order.
type AuditSink struct {
	mu     sync.Mutex
	events []audit.Event
}

var _ audit.Sink = (*AuditSink)(nil)

func (s *AuditSink) Write(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

// Events returns a copy of everything written so far.
func (s *AuditSink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

// Types returns the event types written so far.
func (s *AuditSink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}
