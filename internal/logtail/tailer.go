package logtail

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const truncationMarker = " [truncated]"

// Config bounds every buffer in the pipeline.
type Config struct {
	QueueSize        int
	ChunkMaxLines    int
	ChunkMaxBytes    int
	MaxLineBytes     int
	FlushInterval    time.Duration
	RateChunksPerSec float64
	RateBurst        int
	PollInterval     time.Duration
	ReaderBackoff    time.Duration
}

func (c *Config) withDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.ChunkMaxLines <= 0 {
		c.ChunkMaxLines = 100
	}
	if c.ChunkMaxBytes <= 0 {
		c.ChunkMaxBytes = 64 * 1024
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = 8 * 1024
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	if c.RateChunksPerSec <= 0 {
		c.RateChunksPerSec = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.ReaderBackoff <= 0 {
		c.ReaderBackoff = time.Second
	}
}

// Tailer streams service log files to hub subscribers.
type Tailer struct {
	hub *Hub
	log zerolog.Logger
}

func NewTailer(hub *Hub, log zerolog.Logger) *Tailer {
	return &Tailer{hub: hub, log: log}
}

// Session is one cancellable tail operation covering all watched files and
// the aggregator.
type Session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the session and waits for readers and aggregator to wind
// down. A best-effort partial flush of buffered lines happens on the way out.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed once the session has fully wound down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Tail starts one reader per path plus an aggregator. Reader errors restart
// that reader after a backoff; they never abort the session.
func (t *Tailer) Tail(ctx context.Context, deploymentID string, paths []string, cfg Config) (*Session, error) {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	lines := make(chan string, cfg.QueueSize)
	var readers sync.WaitGroup
	for _, path := range paths {
		readers.Add(1)
		go func(path string) {
			defer readers.Done()
			t.readLoop(ctx, deploymentID, path, cfg, lines)
		}(path)
	}

	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		t.aggregate(ctx, deploymentID, cfg, lines)
	}()

	done := make(chan struct{})
	go func() {
		readers.Wait()
		close(lines)
		<-aggDone
		close(done)
	}()

	return &Session{cancel: cancel, done: done}, nil
}

// enqueue pushes a line with drop-oldest backpressure: the tailer must never
// stall the process it is observing.
func enqueue(lines chan string, line string) {
	select {
	case lines <- line:
	default:
		select {
		case <-lines:
		default:
		}
		select {
		case lines <- line:
		default:
		}
	}
}

func (t *Tailer) readLoop(ctx context.Context, deploymentID, path string, cfg Config, lines chan string) {
	for {
		if err := t.readFile(ctx, deploymentID, path, cfg, lines); err != nil {
			t.log.Debug().Err(err).Str("path", path).Msg("log reader restarting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.ReaderBackoff):
		}
	}
}

// readFile follows one file until ctx is cancelled, reopening transparently
// on truncation or rotation and continuing from the new file's start.
func (t *Tailer) readFile(ctx context.Context, deploymentID, path string, cfg Config, lines chan string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if werr := watcher.Add(path); werr != nil {
			watcher = nil // fall back to polling only
		}
	} else {
		watcher = nil
	}

	openInfo, err := file.Stat()
	if err != nil {
		return err
	}
	lr := &lineReader{r: bufio.NewReader(file), maxLine: cfg.MaxLineBytes}

	poll := time.NewTicker(cfg.PollInterval)
	defer poll.Stop()

	for {
		if err := lr.drain(lines); err != nil && err != io.EOF {
			return err
		}

		// Offset of the last byte actually consumed from the fd.
		pos, serr := file.Seek(0, io.SeekCurrent)
		if serr != nil {
			return serr
		}
		offset := pos - int64(lr.r.Buffered())

		rotated, serr := fileRotated(path, openInfo, offset)
		if serr == nil && rotated {
			return nil // readLoop reopens from the new file's start
		}

		if watcher != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-watcher.Events:
			case werr := <-watcher.Errors:
				if werr != nil {
					watcher = nil
				}
			case <-poll.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return nil
			case <-poll.C:
			}
		}
	}
}

// lineReader cuts a byte stream into lines, keeping partial-line state
// between drains. Lines longer than maxLine are cut and marked; the
// remainder is discarded rather than buffered unbounded.
type lineReader struct {
	r          *bufio.Reader
	maxLine    int
	partial    []byte
	truncating bool
}

// drain reads every complete line currently available and enqueues it.
// Returns io.EOF when the file has no more data for now.
func (lr *lineReader) drain(lines chan string) error {
	for {
		slice, err := lr.r.ReadSlice('\n')

		if lr.truncating {
			// Discarding the tail of an over-long line.
			switch err {
			case nil:
				lr.truncating = false
			case bufio.ErrBufferFull:
			default:
				return err
			}
			continue
		}

		lr.partial = append(lr.partial, slice...)
		switch err {
		case nil:
			line := string(trimEOL(lr.partial))
			if len(line) > lr.maxLine {
				line = line[:lr.maxLine] + truncationMarker
			}
			enqueue(lines, line)
			lr.partial = lr.partial[:0]
		case bufio.ErrBufferFull:
			if len(lr.partial) > lr.maxLine {
				enqueue(lines, string(lr.partial[:lr.maxLine])+truncationMarker)
				lr.partial = lr.partial[:0]
				lr.truncating = true
			}
		case io.EOF:
			return io.EOF
		default:
			return err
		}
	}
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
		if n := len(b); n > 0 && b[n-1] == '\r' {
			b = b[:n-1]
		}
	}
	return b
}

// fileRotated reports whether path now names a different file than the one
// opened (inode change) or the file shrank below the read offset.
func fileRotated(path string, openInfo os.FileInfo, offset int64) (bool, error) {
	current, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if !os.SameFile(openInfo, current) {
		return true, nil
	}
	return current.Size() < offset, nil
}
