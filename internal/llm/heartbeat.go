package llm

import (
	"context"
	"sync"
	"time"
)

// Heartbeat calls beat with the elapsed time every interval until stop is
// called or ctx ends. stop blocks until the heartbeat goroutine has exited.
func Heartbeat(ctx context.Context, interval time.Duration, beat func(elapsed time.Duration)) (stop func()) {
	if interval <= 0 || beat == nil {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	start := time.Now()

	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				beat(time.Since(start))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}

// WithHeartbeat runs fn while reporting liveness every interval.
func WithHeartbeat(ctx context.Context, interval time.Duration, beat func(time.Duration), fn func(context.Context) error) error {
	stop := Heartbeat(ctx, interval, beat)
	defer stop()
	return fn(ctx)
}
