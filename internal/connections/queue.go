// Package connections implements C6 (the discovery queue) and C7 (the
// connection engine) from SPEC_FULL.md §4.6/§4.7: async, deduplicated
// discovery scheduling and the full candidate-fetch → similarity →
// smart-triage → LLM-classify → persist pipeline.
package connections

import (
	"context"
	"sync"
	"time"
)

// Task identifies one memory whose connections should be (re)discovered.
type Task struct {
	UserID   string
	AgentID  string
	MemoryID string
}

func (t Task) key() string { return t.UserID + "|" + t.AgentID + "|" + t.MemoryID }

// Queue is a single-consumer, deduplicating discovery scheduler. Enqueuing
// the same (user, agent, memory) while a task for it is still pending is a
// no-op; enqueuing while it is in flight is also absorbed, matching the
// teacher's dedup-by-key pattern for in-flight work. A short debounce
// between processed tasks avoids bursting the embedding/LLM APIs.
type Queue struct {
	mu       sync.Mutex
	pending  map[string]Task
	order    []string
	inFlight map[string]bool
	notify   chan struct{}
	debounce time.Duration
	process  func(ctx context.Context, t Task)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(process func(ctx context.Context, t Task), debounce time.Duration) *Queue {
	if debounce <= 0 {
		debounce = 10 * time.Millisecond
	}
	return &Queue{
		pending:  map[string]Task{},
		inFlight: map[string]bool{},
		notify:   make(chan struct{}, 1),
		debounce: debounce,
		process:  process,
	}
}

// Enqueue schedules t for discovery unless it is already pending or
// currently being processed.
func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	k := t.key()
	if q.inFlight[k] {
		q.mu.Unlock()
		return
	}
	if _, exists := q.pending[k]; !exists {
		q.pending[k] = t
		q.order = append(q.order, k)
	}
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Start runs the single consumer goroutine until Stop is called or ctx ends.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go q.run(ctx)
}

// Stop cancels the consumer and waits for it to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.debounce)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		case <-ticker.C:
		}
		for {
			t, ok := q.popNext()
			if !ok {
				break
			}
			q.process(ctx, t)
			q.markDone(t.key())
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.debounce):
			}
		}
	}
}

func (q *Queue) popNext() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return Task{}, false
	}
	k := q.order[0]
	q.order = q.order[1:]
	t, ok := q.pending[k]
	delete(q.pending, k)
	if ok {
		q.inFlight[k] = true
	}
	return t, ok
}

func (q *Queue) markDone(k string) {
	q.mu.Lock()
	delete(q.inFlight, k)
	q.mu.Unlock()
}

// PendingCount exposes queue depth for diagnostics/tests.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
