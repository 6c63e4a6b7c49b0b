package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Severity ranks an event. Events at [SeverityMedium] and above also land in
// the security-events sink.
type Severity uint8

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity maps a stored severity name back to its value.
func ParseSeverity(name string) (Severity, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s, v := range severityNames {
		if v == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// Category groups events by the subsystem that produced them.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryDataAccess     Category = "data_access"
	CategoryRBAC           Category = "rbac"
	CategorySession        Category = "session"
)

// Event is an append-only audit record. Once emitted it is never mutated.
type Event struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	OrganizationID string            `json:"organization_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	EventType      string            `json:"event_type"`
	Category       Category          `json:"category"`
	Severity       Severity          `json:"severity"`
	IPAddress      string            `json:"ip_address,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	Details        map[string]string `json:"details,omitempty"`
}

// Sink persists events. A returned error makes the dispatcher retry the write.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Write(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Write(context.Context, Event) error { return nil }

// ChannelSink writes events into a buffered channel. Mostly useful in tests.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Write(ctx context.Context, event Event) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Write(_ context.Context, event Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.writer.Write(data)
	return err
}
