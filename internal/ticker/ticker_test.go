package ticker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

type countingResyncer struct {
	calls atomic.Int64
	err   error
}

func (c *countingResyncer) Resync(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

type monthWatcher struct {
	mu     sync.Mutex
	months map[string]int
}

func (w *monthWatcher) Watch(monthID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.months == nil {
		w.months = make(map[string]int)
	}
	w.months[monthID]++
}

func TestNewTicker(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	syncer := &countingResyncer{}
	ticker := NewTicker(syncer, nil, 1*time.Second, logger)

	if ticker == nil {
		t.Fatal("expected ticker to be created")
	}
	if ticker.syncer != syncer {
		t.Error("ticker syncer not set correctly")
	}
	if ticker.interval != 1*time.Second {
		t.Errorf("expected interval 1s, got %v", ticker.interval)
	}
}

func TestTickerResyncsPeriodically(t *testing.T) {
	syncer := &countingResyncer{}
	watcher := &monthWatcher{}
	ticker := NewTicker(syncer, watcher, 20*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan bool)
	go func() {
		ticker.Start(ctx)
		done <- true
	}()
	<-done

	if n := syncer.calls.Load(); n < 2 {
		t.Errorf("expected several resyncs, got %d", n)
	}

	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	for month := range watcher.months {
		if !types.IsMonthID(month) {
			t.Errorf("unexpected watched month %q", month)
		}
	}
	if len(watcher.months) == 0 {
		t.Error("expected the current month to be watched")
	}
}

func TestTickerKeepsRunningAfterErrors(t *testing.T) {
	syncer := &countingResyncer{err: errors.New("store unavailable")}
	ticker := NewTicker(syncer, nil, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ticker.Start(ctx)

	if n := syncer.calls.Load(); n < 2 {
		t.Errorf("expected resyncs to continue after a failure, got %d", n)
	}
}

func TestTickerStopsOnContextCancel(t *testing.T) {
	ticker := NewTicker(&countingResyncer{}, nil, 100*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		ticker.Start(ctx)
		done <- true
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("ticker did not stop within timeout after context cancel")
	}
}
