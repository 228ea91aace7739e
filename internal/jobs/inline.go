package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const inlineTimeout = time.Minute

// InlineQueue runs each task on its own goroutine right after Enqueue. There
// are no retries and pending work is lost on exit.
type InlineQueue struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	wg       sync.WaitGroup
	log      *logrus.Entry
}

var _ Queue = (*InlineQueue)(nil)

func NewInline(log *logrus.Entry) *InlineQueue {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &InlineQueue{handlers: make(map[string]Handler), log: log.WithField("component", "jobs")}
}

func (q *InlineQueue) Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (string, error) {
	q.mu.RLock()
	h, ok := q.handlers[t.Type]
	q.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("jobs: no handler for %q", t.Type)
	}

	id := uuid.NewString()
	var delay time.Duration
	for _, op := range opts {
		delay = op.ProcessIn
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		runCtx, cancel := context.WithTimeout(context.Background(), inlineTimeout)
		defer cancel()
		if err := h(runCtx, t.Payload); err != nil {
			q.log.WithError(err).WithFields(logrus.Fields{"task": t.Type, "task_id": id}).Warn("task failed")
		}
	}()
	return id, nil
}

func (q *InlineQueue) Register(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Run blocks until ctx is canceled; work starts at Enqueue.
func (q *InlineQueue) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Wait blocks until every enqueued task has finished.
func (q *InlineQueue) Wait() {
	q.wg.Wait()
}

func (q *InlineQueue) Close() error {
	q.wg.Wait()
	return nil
}
