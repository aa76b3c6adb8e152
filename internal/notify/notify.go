package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

// Event describes a deployment lifecycle change worth telling someone
// about.
type Event struct {
	DeploymentID entity.ID
	Name         string
	Status       entity.DeploymentStatus
	Message      string
	At           time.Time
}

// Sink delivers a single event. Implementations may be slow; the notifier
// shields callers from that.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// LogSink writes events to the structured log. It is the default sink when
// nothing external is configured.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Deliver(_ context.Context, event Event) error {
	s.log.Info().
		Str("deployment", event.Name).
		Str("status", string(event.Status)).
		Str("message", event.Message).
		Msg("deployment event")
	return nil
}

// Notifier fans events out to sinks from a drain goroutine. Notify never
// blocks: when the buffer is full the event is dropped and counted.
type Notifier struct {
	ch      chan Event
	sinks   []Sink
	log     zerolog.Logger
	dropped int64
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func NewNotifier(buffer int, log zerolog.Logger, sinks ...Sink) *Notifier {
	if buffer <= 0 {
		buffer = 64
	}
	n := &Notifier{
		ch:    make(chan Event, buffer),
		sinks: sinks,
		log:   log,
		done:  make(chan struct{}),
	}
	go n.drain()
	return n
}

// Notify enqueues an event, fire-and-forget.
func (n *Notifier) Notify(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	select {
	case n.ch <- event:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		n.log.Warn().Str("deployment", event.Name).Msg("notification dropped, buffer full")
	}
}

// Dropped reports how many events were discarded under saturation.
func (n *Notifier) Dropped() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Close stops the drain goroutine after the buffer empties.
func (n *Notifier) Close() {
	n.once.Do(func() { close(n.ch) })
	<-n.done
}

func (n *Notifier) drain() {
	defer close(n.done)
	for event := range n.ch {
		for _, sink := range n.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := sink.Deliver(ctx, event); err != nil {
				n.log.Warn().Err(err).Str("deployment", event.Name).Msg("notification delivery failed")
			}
			cancel()
		}
	}
}
