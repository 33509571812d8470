package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"tradeengine/internal/model"
)

// pendingWrite is a trade event held back while the circuit is open.
type pendingWrite struct {
	create *model.TradeRecord
	finish *model.TradeFinish
}

// BufferedWriter wraps a trade store with a circuit breaker. While the
// circuit is open, events are buffered in order and replayed ahead of the
// next event once the breaker lets a write through, so a finish never
// lands before its create.
type BufferedWriter struct {
	store model.TradeStore
	cb    *CircuitBreaker

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // drop oldest beyond this (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after replaying buffered writes
	OnDrop   func()          // called when the buffer overflows
}

// NewBufferedWriter creates a BufferedWriter wrapping store.
func NewBufferedWriter(store model.TradeStore, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	return &BufferedWriter{
		store:  store,
		cb:     cb,
		buffer: make([]pendingWrite, 0, 64),
		maxBuf: maxBufferSize,
	}
}

func (bw *BufferedWriter) Name() string { return bw.store.Name() }

// CreateTrade writes rec through the breaker, buffering it while open.
func (bw *BufferedWriter) CreateTrade(ctx context.Context, rec model.TradeRecord) error {
	return bw.write(ctx, pendingWrite{create: &rec})
}

// FinishTrade writes f through the breaker, buffering it while open.
func (bw *BufferedWriter) FinishTrade(ctx context.Context, f model.TradeFinish) error {
	return bw.write(ctx, pendingWrite{finish: &f})
}

func (bw *BufferedWriter) write(ctx context.Context, pw pendingWrite) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
		if bw.OnDrop != nil {
			bw.OnDrop()
		}
	}
	bw.buffer = append(bw.buffer, pw)
	return bw.drainLocked(ctx, 1)
}

// Flush replays buffered writes if the breaker allows it.
func (bw *BufferedWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.drainLocked(ctx, 0)
}

// drainLocked applies buffered writes in order. A write rejected by the open
// breaker stays buffered and nil is returned; a write that reaches the store
// and fails is dropped and its error returned. fresh is the number of writes
// at the tail that were never buffered before.
func (bw *BufferedWriter) drainLocked(ctx context.Context, fresh int) error {
	backlog := len(bw.buffer) - fresh
	replayed := 0
	defer func() {
		if n := min(replayed, backlog); n > 0 && bw.OnFlush != nil {
			bw.OnFlush(n)
		}
	}()

	for len(bw.buffer) > 0 {
		pw := bw.buffer[0]
		err := bw.cb.Execute(func() error { return bw.apply(ctx, pw) })
		if errors.Is(err, ErrCircuitOpen) {
			if bw.OnBuffer != nil {
				bw.OnBuffer()
			}
			return nil
		}
		bw.buffer[0] = pendingWrite{}
		bw.buffer = bw.buffer[1:]
		replayed++
		if err != nil {
			if len(bw.buffer) > 0 {
				slog.Warn("dropping buffered trade write", "component", "redis", "error", err, "pending", len(bw.buffer))
			}
			return err
		}
	}
	return nil
}

func (bw *BufferedWriter) apply(ctx context.Context, pw pendingWrite) error {
	if pw.create != nil {
		return bw.store.CreateTrade(ctx, *pw.create)
	}
	return bw.store.FinishTrade(ctx, *pw.finish)
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
