package logtail

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// aggregate batches queued lines into chunks bounded by line count OR byte
// size, whichever trips first, and flushes after FlushInterval of quiet so
// end-to-end latency stays bounded under low log volume. Chunks pass a
// token bucket before publication.
func (t *Tailer) aggregate(ctx context.Context, deploymentID string, cfg Config, lines <-chan string) {
	limiter := rate.NewLimiter(rate.Limit(cfg.RateChunksPerSec), cfg.RateBurst)

	var (
		batch    []string
		batchLen int
		seq      uint64
	)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		// A cancelled wait still emits the chunk: the final partial flush
		// must not be lost to the limiter.
		_ = limiter.Wait(ctx)
		seq++
		t.hub.Publish(Chunk{
			DeploymentID: deploymentID,
			Seq:          seq,
			Lines:        batch,
			Bytes:        batchLen,
			Timestamp:    time.Now(),
		})
		batch = nil
		batchLen = 0
	}

	idle := time.NewTimer(cfg.FlushInterval)
	defer idle.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				flush(context.Background())
				return
			}
			batch = append(batch, line)
			batchLen += len(line)
			if len(batch) >= cfg.ChunkMaxLines || batchLen >= cfg.ChunkMaxBytes {
				flush(ctx)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.FlushInterval)
		case <-idle.C:
			flush(ctx)
			idle.Reset(cfg.FlushInterval)
		case <-ctx.Done():
			// Final partial flush on cancellation, best effort.
			drainRemaining(lines, &batch, &batchLen, cfg)
			flush(context.Background())
			return
		}
	}
}

// drainRemaining pulls whatever is already queued without waiting, so
// cancellation loses nothing beyond the in-flight buffer.
func drainRemaining(lines <-chan string, batch *[]string, batchLen *int, cfg Config) {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			*batch = append(*batch, line)
			*batchLen += len(line)
			if len(*batch) >= cfg.ChunkMaxLines {
				return
			}
		default:
			return
		}
	}
}
