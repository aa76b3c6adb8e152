package task

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/config"
	"github.com/DagiiM/webops-sub005/internal/entity"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

func TestInProcessSubmitAndResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["value"], nil
	})
	p := NewInProcess(reg, testLogger())

	handle, err := p.Submit(context.Background(), "echo", map[string]any{"value": "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	result, err := p.Result(context.Background(), handle, 5*time.Second)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result != "hello" {
		t.Fatalf("result = %v; want hello", result)
	}
	if status := p.Status(handle); status != StatusSuccess {
		t.Fatalf("status = %s; want SUCCESS", status)
	}
}

func TestInProcessTaskFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("exploded")
	})
	p := NewInProcess(reg, testLogger())

	handle, err := p.Submit(context.Background(), "boom", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err = p.Result(context.Background(), handle, 5*time.Second)
	if !errors.Is(err, entity.ErrTaskExecution) {
		t.Fatalf("expected task execution error, got %v", err)
	}
	if errors.Is(err, entity.ErrTimeout) {
		t.Fatalf("failure must not look like a timeout: %v", err)
	}
}

func TestInProcessResultTimeoutDistinctFromFailure(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	reg := NewRegistry()
	reg.Register("slow", func(ctx context.Context, args map[string]any) (any, error) {
		<-block
		return nil, nil
	})
	p := NewInProcess(reg, testLogger())

	handle, err := p.Submit(context.Background(), "slow", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err = p.Result(context.Background(), handle, 20*time.Millisecond)
	if !errors.Is(err, entity.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestInProcessUnknownTask(t *testing.T) {
	p := NewInProcess(NewRegistry(), testLogger())
	_, err := p.Submit(context.Background(), "nope", nil)
	if !errors.Is(err, entity.ErrTaskSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
}

func TestInProcessRevokeUnsupported(t *testing.T) {
	reg := NewRegistry()
	reg.Register("noop", func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	p := NewInProcess(reg, testLogger())
	handle, _ := p.Submit(context.Background(), "noop", nil)
	if p.Revoke(handle, true) {
		t.Fatal("in-process revoke must report false")
	}
}

func TestInitFallsOverToInProcess(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	cfg := &config.Config{TaskBackend: "definitely-not-a-backend"}
	p := Init(cfg, NewRegistry(), testLogger())
	if _, ok := p.(*InProcess); !ok {
		t.Fatalf("expected in-process fallback, got %T", p)
	}
	if Default() != p {
		t.Fatal("Default must return the processor selected by Init")
	}
}

func TestInitCachesSelection(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	cfg := &config.Config{TaskBackend: "inprocess"}
	first := Init(cfg, NewRegistry(), testLogger())
	second := Init(&config.Config{TaskBackend: "redis"}, NewRegistry(), testLogger())
	if first != second {
		t.Fatal("Init must cache the first selection for the process lifetime")
	}
}
