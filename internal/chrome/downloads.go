package chrome

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kdocs2pdf/internal/domain"
)

type downloadResult struct {
	guid string
	name string
	err  error
}

// downloadTracker collects browser download events, which arrive on the
// event goroutine, for a single waiter.
type downloadTracker struct {
	mu    sync.Mutex
	names map[string]string
	done  chan downloadResult
}

func newDownloadTracker() *downloadTracker {
	return &downloadTracker{
		names: make(map[string]string),
		done:  make(chan downloadResult, 4),
	}
}

func (t *downloadTracker) begin(guid, suggested string) {
	t.mu.Lock()
	t.names[guid] = suggested
	t.mu.Unlock()
}

// finish never blocks: results beyond the buffer are dropped.
func (t *downloadTracker) finish(guid string, err error) {
	t.mu.Lock()
	name := t.names[guid]
	t.mu.Unlock()

	select {
	case t.done <- downloadResult{guid: guid, name: name, err: err}:
	default:
	}
}

func (t *downloadTracker) wait(ctx context.Context, timeout time.Duration) (string, string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-t.done:
		if r.err != nil {
			return "", "", fmt.Errorf("%w: %v", domain.ErrDownload, r.err)
		}
		return r.guid, r.name, nil
	case <-timer.C:
		return "", "", fmt.Errorf("%w: no download completed within %s", domain.ErrTimeout, timeout)
	case <-ctx.Done():
		return "", "", fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	}
}
