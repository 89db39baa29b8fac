package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// touchTimeout bounds a single last-used write.
const touchTimeout = 5 * time.Second

// KeyToucher records when an API key was last used.
type KeyToucher interface {
	TouchAPIKey(ctx context.Context, id int64, at time.Time) error
}

// LastUsedRecorder writes API key last-used timestamps in the background.
//
// Each Record starts a goroutine with its own context, so a client hanging
// up does not cancel the write. Drain waits for writes in flight; after
// Drain has begun, Record writes synchronously so nothing is dropped during
// shutdown. Writes for the same key may race; the last one wins.
type LastUsedRecorder struct {
	toucher KeyToucher
	logger  *slog.Logger
	onError func(error)

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func NewLastUsedRecorder(t KeyToucher, logger *slog.Logger) *LastUsedRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LastUsedRecorder{toucher: t, logger: logger}
}

// Record schedules a last-used update for keyID. It never blocks on the
// database unless the recorder is draining.
func (r *LastUsedRecorder) Record(keyID int64, at time.Time) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		r.touch(keyID, at)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.touch(keyID, at)
	}()
}

func (r *LastUsedRecorder) touch(keyID int64, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if err := r.toucher.TouchAPIKey(ctx, keyID, at); err != nil {
		r.logger.Warn("failed to record api key use", "key_id", keyID, "error", err)
		if r.onError != nil {
			r.onError(err)
		}
	}
}

// OnError registers a hook called after each failed write. It must be set
// before the first Record.
func (r *LastUsedRecorder) OnError(fn func(error)) {
	r.onError = fn
}

// Drain waits until every scheduled write has finished or ctx is done.
func (r *LastUsedRecorder) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
