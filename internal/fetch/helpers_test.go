package fetch

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// handleFunc adapts a function to Handle.
type handleFunc func(ctx context.Context) error

func (f handleFunc) Perform(ctx context.Context) error { return f(ctx) }

// instant returns a handle that finishes immediately and counts calls.
func instant(calls *atomic.Int64) Handle {
	return handleFunc(func(ctx context.Context) error {
		if calls != nil {
			calls.Add(1)
		}
		return nil
	})
}

// stalled returns a handle that blocks until cancelled and reports when it starts.
func stalled(started chan<- struct{}) Handle {
	return handleFunc(func(ctx context.Context) error {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return ctx.Err()
	})
}

// deadlineHandle is a stalled handle carrying a deadline.
type deadlineHandle struct {
	at time.Time
}

func (h deadlineHandle) Perform(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (h deadlineHandle) Deadline() (time.Time, bool) { return h.at, true }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startEngine acquires a fresh engine and releases it at cleanup.
func startEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{
		WithLogger(quietLogger()),
		WithMaxPollInterval(50 * time.Millisecond),
		WithIDGenerator(NewSequentialGenerator("req")),
	}, opts...)
	e := New(opts...)
	require.NoError(t, e.Acquire(context.Background()))
	t.Cleanup(func() {
		for e.Stats().Refs > 0 {
			_ = e.Release()
		}
	})
	return e
}

// submitAsync runs Submit on a goroutine and returns its outcome channel.
func submitAsync(e *Engine, ctx context.Context, req *Request) <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		res, err := e.Submit(ctx, req)
		ch <- outcome{res: res, err: err}
	}()
	return ch
}

type outcome struct {
	res Result
	err error
}

func waitOutcome(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("submission was never resolved")
		return outcome{}
	}
}

func waitStarted(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer never started")
	}
}
