package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Config controls dispatcher buffering and retry behavior.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	BufferSize   int           `yaml:"buffer_size"`
	DropIfFull   bool          `yaml:"drop_if_full"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		BufferSize:   1024,
		DropIfFull:   true,
		MaxAttempts:  3,
		RetryBackoff: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

// Sinks names the two destinations. AuditLog receives every event;
// SecurityEvents receives events at medium severity or above.
type Sinks struct {
	AuditLog       Sink
	SecurityEvents Sink
}

// Dispatcher asynchronously forwards events to the audit and security sinks.
// Emit never blocks when DropIfFull is set and never reports an error; sink
// failures are retried a bounded number of times and then written to the
// fallback logger.
type Dispatcher struct {
	cfg       Config
	sinks     Sinks
	log       zerolog.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the worker goroutine. A disabled config returns nil;
// every method on a nil *Dispatcher is a no-op.
func NewDispatcher(cfg Config, sinks Sinks, log zerolog.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if sinks.AuditLog == nil {
		sinks.AuditLog = NoOpSink{}
	}
	if sinks.SecurityEvents == nil {
		sinks.SecurityEvents = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sinks: sinks,
		log:   log.With().Str("component", "audit").Logger(),
		ch:    make(chan Event, cfg.BufferSize),
		done:  make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.write("audit_logs", d.sinks.AuditLog, event)
	if event.Severity >= SeverityMedium {
		d.write("security_events", d.sinks.SecurityEvents, event)
	}
}

func (d *Dispatcher) write(target string, sink Sink, event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryBackoff
	b.MaxInterval = 20 * d.cfg.RetryBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, sink.Write(ctx, event)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)),
	)
	if err != nil {
		d.failed.Add(1)
		d.log.Error().
			Err(err).
			Str("sink", target).
			Str("event_id", event.ID).
			Str("event_type", event.EventType).
			Str("severity", event.Severity.String()).
			Str("user_id", event.UserID).
			Str("organization_id", event.OrganizationID).
			Msg("audit write failed after retries")
	}
}

// Emit queues an event. It returns immediately when the queue is full and
// DropIfFull is set, counting the event as dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
			d.log.Warn().Str("event_type", event.EventType).Msg("audit queue full, event dropped")
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting events and drains the queue.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped is the number of events discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed is the number of sink writes that exhausted their retries.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
