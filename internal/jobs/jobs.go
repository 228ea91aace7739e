// Package jobs runs background tasks. The asynq adapter needs Redis; without
// it tasks run inline on a goroutine.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TaskPurgeUser removes a deleted account from its peers' relationship arrays.
const TaskPurgeUser = "relations:purge_user"

// Task is a background job with an opaque payload.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a task. Handlers must be idempotent; a non-nil error asks
// the backend to retry when it supports retries.
type Handler func(ctx context.Context, payload []byte) error

// EnqueueOption tunes a single enqueue. Zero values mean unspecified.
type EnqueueOption struct {
	Queue     string
	ProcessIn time.Duration
	MaxRetry  int
	UniqueTTL time.Duration
}

// Queue enqueues tasks and dispatches them to registered handlers.
type Queue interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (string, error)
	Register(taskType string, h Handler)
	// Run processes tasks until ctx is canceled.
	Run(ctx context.Context) error
	Close() error
}

// PurgeUserPayload is the payload of TaskPurgeUser.
type PurgeUserPayload struct {
	UserID string `json:"user_id"`
}

// NewPurgeUserTask builds a TaskPurgeUser task.
func NewPurgeUserTask(userID string) (Task, error) {
	if userID == "" {
		return Task{}, errors.New("jobs: purge task needs a user id")
	}
	b, err := json.Marshal(PurgeUserPayload{UserID: userID})
	if err != nil {
		return Task{}, err
	}
	return Task{Type: TaskPurgeUser, Payload: b}, nil
}

// DecodePurgeUser parses a TaskPurgeUser payload.
func DecodePurgeUser(payload []byte) (PurgeUserPayload, error) {
	var p PurgeUserPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("jobs: decode purge payload: %w", err)
	}
	if p.UserID == "" {
		return p, errors.New("jobs: purge payload without user id")
	}
	return p, nil
}
