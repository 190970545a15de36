package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				slog.Debug("worker stopped", "worker", w.id)
				return
			}
			w.run(job)
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

// run executes the task; a panicking task must not take the worker down.
func (w *Worker) run(job Job) {
	defer w.pool.runner.jobDone()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("worker job panicked",
				"worker", w.id,
				"job", job.Name,
				"owner", job.OwnerID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()
	if job.Task != nil {
		job.Task(context.Background())
	}
}
