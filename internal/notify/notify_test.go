package notify

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *captureSink) Deliver(_ context.Context, event Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestNotifier(t *testing.T) {
	log := zerolog.New(io.Discard)

	t.Run("delivers in order", func(t *testing.T) {
		sink := &captureSink{}
		n := NewNotifier(8, log, sink)
		for i := range 3 {
			n.Notify(Event{Name: "app", Status: entity.DeploymentStatusRunning, Message: string(rune('a' + i))})
		}
		n.Close()
		if sink.count() != 3 {
			t.Fatalf("got %d events, want 3", sink.count())
		}
		if sink.events[0].Message != "a" || sink.events[2].Message != "c" {
			t.Errorf("out of order: %+v", sink.events)
		}
		if sink.events[0].At.IsZero() {
			t.Error("timestamp not filled")
		}
	})

	t.Run("drops when saturated instead of blocking", func(t *testing.T) {
		sink := &captureSink{block: make(chan struct{})}
		n := NewNotifier(1, log, sink)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for range 10 {
				n.Notify(Event{Name: "app"})
			}
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Notify blocked on a saturated buffer")
		}
		close(sink.block)
		n.Close()
		if n.Dropped() == 0 {
			t.Error("expected dropped events to be counted")
		}
	})
}
