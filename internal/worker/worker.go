// Package worker manages the embedded Asynq task worker.
//
// The worker runs inside the gateway process and drains the audit queue in
// Redis, so relay goroutines never wait on the database to record a
// connect or disconnect.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/pocketbase/pocketbase/core"

	"github.com/websoft9/webterm/internal/audit"
)

const (
	// TaskAuditWrite persists one audit.Entry.
	TaskAuditWrite = "audit:write"
)

// Worker manages the Asynq server and a shared client for enqueuing tasks.
type Worker struct {
	app    core.App
	server *asynq.Server
	client *asynq.Client
}

// New creates a Worker bound to the Redis instance at redisAddr.
// Call Start() to begin processing and Shutdown() to stop.
func New(app core.App, redisAddr string) *Worker {
	opt := asynq.RedisClientOpt{Addr: redisAddr}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"audit":   3,
			"default": 1,
		},
	})

	return &Worker{
		app:    app,
		server: srv,
		client: asynq.NewClient(opt),
	}
}

// Start begins processing tasks in a background goroutine.
// This should be called only once during the application lifecycle.
func (w *Worker) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskAuditWrite, w.handleAuditWrite)

	go func() {
		if err := w.server.Run(mux); err != nil {
			log.Printf("asynq worker error: %v", err)
		}
	}()
}

// Client returns the shared Asynq client for enqueuing tasks.
func (w *Worker) Client() *asynq.Client {
	return w.client
}

// Shutdown gracefully stops the worker and closes the client connection.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	_ = w.client.Close()
}

// Record queues entry for the worker. When the queue is unreachable the
// entry is written synchronously instead, so audit records are not lost.
func (w *Worker) Record(entry audit.Entry) {
	task, err := NewAuditTask(entry)
	if err == nil {
		_, err = w.client.Enqueue(task, asynq.Queue("audit"), asynq.MaxRetry(5))
	}
	if err != nil {
		log.Printf("worker: enqueue audit %s failed, writing directly: %v", entry.Action, err)
		audit.Write(w.app, entry)
	}
}

// NewAuditTask wraps entry in an audit task.
func NewAuditTask(entry audit.Entry) (*asynq.Task, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal audit entry: %w", err)
	}
	return asynq.NewTask(TaskAuditWrite, payload), nil
}

func (w *Worker) handleAuditWrite(ctx context.Context, t *asynq.Task) error {
	var entry audit.Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		// A malformed payload will never succeed.
		return fmt.Errorf("decode audit payload: %v: %w", err, asynq.SkipRetry)
	}
	audit.Write(w.app, entry)
	return nil
}

var _ audit.Sink = (*Worker)(nil)
