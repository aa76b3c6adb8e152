package logtail

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastConfig() Config {
	return Config{
		QueueSize:        4096,
		ChunkMaxLines:    10,
		ChunkMaxBytes:    64 * 1024,
		MaxLineBytes:     256,
		FlushInterval:    50 * time.Millisecond,
		RateChunksPerSec: 1000,
		RateBurst:        1000,
		PollInterval:     10 * time.Millisecond,
		ReaderBackoff:    10 * time.Millisecond,
	}
}

func collect(ch <-chan Chunk, want int, deadline time.Duration) []Chunk {
	var chunks []Chunk
	timeout := time.After(deadline)
	for {
		select {
		case c := <-ch:
			chunks = append(chunks, c)
			total := 0
			for _, cc := range chunks {
				total += len(cc.Lines)
			}
			if total >= want {
				return chunks
			}
		case <-timeout:
			return chunks
		}
	}
}

func TestTailNoLossUnderNormalLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("create log: %v", err)
	}

	hub := NewHub()
	tailer := NewTailer(hub, zerolog.New(io.Discard))
	ch, unsub := hub.Subscribe("dep-1", 256)
	defer unsub()

	session, err := tailer.Tail(context.Background(), "dep-1", []string{path}, fastConfig())
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	defer session.Stop()

	const n = 250
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(f, "line-%03d\n", i)
	}
	f.Close()

	chunks := collect(ch, n, 5*time.Second)
	var lines []string
	for _, c := range chunks {
		lines = append(lines, c.Lines...)
	}
	if len(lines) != n {
		t.Fatalf("observed %d lines; want %d", len(lines), n)
	}
	for i, line := range lines {
		if line != fmt.Sprintf("line-%03d", i) {
			t.Fatalf("line %d = %q, order broken", i, line)
		}
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Seq <= chunks[i-1].Seq {
			t.Fatalf("chunk sequence not increasing: %d then %d", chunks[i-1].Seq, chunks[i].Seq)
		}
	}
}

func TestTailChunkBoundsRespected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("create log: %v", err)
	}

	hub := NewHub()
	tailer := NewTailer(hub, zerolog.New(io.Discard))
	ch, unsub := hub.Subscribe("dep-2", 256)
	defer unsub()

	cfg := fastConfig()
	cfg.ChunkMaxLines = 5
	session, err := tailer.Tail(context.Background(), "dep-2", []string{path}, cfg)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	defer session.Stop()

	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	for i := 0; i < 42; i++ {
		fmt.Fprintf(f, "x-%d\n", i)
	}
	f.Close()

	chunks := collect(ch, 42, 5*time.Second)
	for _, c := range chunks {
		if len(c.Lines) > cfg.ChunkMaxLines {
			t.Fatalf("chunk has %d lines; max %d", len(c.Lines), cfg.ChunkMaxLines)
		}
		for _, line := range c.Lines {
			if strings.Contains(line, "\n") {
				t.Fatalf("chunk boundary split a line: %q", line)
			}
		}
	}
}

func TestTailSurvivesRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("before-1\nbefore-2\n"), 0o644); err != nil {
		t.Fatalf("create log: %v", err)
	}

	hub := NewHub()
	tailer := NewTailer(hub, zerolog.New(io.Discard))
	ch, unsub := hub.Subscribe("dep-3", 256)
	defer unsub()

	session, err := tailer.Tail(context.Background(), "dep-3", []string{path}, fastConfig())
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	defer session.Stop()

	collect(ch, 2, 3*time.Second)

	// Rotate: replace the file; the reader must pick up the new one from
	// its start.
	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := os.WriteFile(path, []byte("after-1\nafter-2\n"), 0o644); err != nil {
		t.Fatalf("write rotated: %v", err)
	}

	chunks := collect(ch, 2, 5*time.Second)
	var lines []string
	for _, c := range chunks {
		lines = append(lines, c.Lines...)
	}
	joined := strings.Join(lines, ",")
	if !strings.Contains(joined, "after-1") || !strings.Contains(joined, "after-2") {
		t.Fatalf("post-rotation lines missing: %q", joined)
	}
}

func TestTailTruncatesLongLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	long := strings.Repeat("a", 5000)
	if err := os.WriteFile(path, []byte(long+"\nshort\n"), 0o644); err != nil {
		t.Fatalf("create log: %v", err)
	}

	hub := NewHub()
	tailer := NewTailer(hub, zerolog.New(io.Discard))
	ch, unsub := hub.Subscribe("dep-4", 256)
	defer unsub()

	cfg := fastConfig()
	cfg.MaxLineBytes = 100
	session, err := tailer.Tail(context.Background(), "dep-4", []string{path}, cfg)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	defer session.Stop()

	chunks := collect(ch, 2, 5*time.Second)
	var lines []string
	for _, c := range chunks {
		lines = append(lines, c.Lines...)
	}
	if len(lines) != 2 {
		t.Fatalf("observed %d lines; want 2: %q", len(lines), lines)
	}
	if len(lines[0]) > cfg.MaxLineBytes+len(truncationMarker) {
		t.Fatalf("line not truncated: %d bytes", len(lines[0]))
	}
	if !strings.HasSuffix(lines[0], truncationMarker) {
		t.Fatalf("missing truncation marker: %q", lines[0][len(lines[0])-30:])
	}
	if lines[1] != "short" {
		t.Fatalf("line after truncation = %q; want short", lines[1])
	}
}

func TestTailCancellationFlushesPartial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("only-line\n"), 0o644); err != nil {
		t.Fatalf("create log: %v", err)
	}

	hub := NewHub()
	tailer := NewTailer(hub, zerolog.New(io.Discard))
	ch, unsub := hub.Subscribe("dep-5", 256)
	defer unsub()

	cfg := fastConfig()
	cfg.FlushInterval = time.Hour // only a cancellation can flush
	session, err := tailer.Tail(context.Background(), "dep-5", []string{path}, cfg)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	session.Stop()

	select {
	case c := <-ch:
		if len(c.Lines) != 1 || c.Lines[0] != "only-line" {
			t.Fatalf("unexpected final chunk: %+v", c)
		}
	default:
		t.Fatal("cancellation lost the buffered partial chunk")
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, unsub := hub.Subscribe("dep-6", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(Chunk{DeploymentID: "dep-6", Seq: uint64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber queue")
	}
}
