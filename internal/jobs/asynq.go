package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// AsynqQueue implements Queue on hibiken/asynq.
type AsynqQueue struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logrus.Entry
}

var _ Queue = (*AsynqQueue)(nil)

// NewAsynq builds a queue on the Redis at redisURL.
func NewAsynq(redisURL string, concurrency int, log *logrus.Entry) (*AsynqQueue, error) {
	if redisURL == "" {
		return nil, errors.New("asynq: redis url is empty")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "jobs")

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.WithError(err).WithField("task", task.Type()).Warn("task failed")
		}),
	})
	return &AsynqQueue{
		client: asynq.NewClient(opt),
		server: srv,
		mux:    asynq.NewServeMux(),
		log:    log,
	}, nil
}

func (a *AsynqQueue) Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (string, error) {
	if t.Type == "" {
		return "", errors.New("asynq: task type is required")
	}
	var asynqOpts []asynq.Option
	for _, op := range opts {
		if op.ProcessIn > 0 {
			asynqOpts = append(asynqOpts, asynq.ProcessIn(op.ProcessIn))
		}
		if op.Queue != "" {
			asynqOpts = append(asynqOpts, asynq.Queue(op.Queue))
		}
		if op.MaxRetry > 0 {
			asynqOpts = append(asynqOpts, asynq.MaxRetry(op.MaxRetry))
		}
		if op.UniqueTTL > 0 {
			asynqOpts = append(asynqOpts, asynq.Unique(op.UniqueTTL))
		}
	}
	info, err := a.client.EnqueueContext(ctx, asynq.NewTask(t.Type, t.Payload), asynqOpts...)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (a *AsynqQueue) Register(taskType string, h Handler) {
	a.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, t.Payload())
	})
}

// Run starts the worker server and blocks until ctx is canceled.
func (a *AsynqQueue) Run(ctx context.Context) error {
	if err := a.server.Start(a.mux); err != nil {
		return err
	}
	a.log.Info("job worker started")
	<-ctx.Done()
	a.server.Shutdown()
	return nil
}

func (a *AsynqQueue) Close() error {
	return a.client.Close()
}
