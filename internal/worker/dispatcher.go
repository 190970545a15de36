package worker

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrDispatcherBusy is returned when the submission queue is full.
	ErrDispatcherBusy = errors.New("dispatcher busy")
	// ErrDispatcherClosed is returned after Shutdown started.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

var jobsRejected = promauto.NewCounter(prometheus.CounterOpts{
	Name: "contractflow_dispatcher_rejected_total",
	Help: "Jobs rejected because the submission queue was full.",
})

// DispatcherConfig sizes the queue and worker pool.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher feeds jobs to the worker pool, one owner at a time in
// round-robin order so a single user cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // submission queue, drained by run

	mu        sync.Mutex
	queues    map[int64]*userQueue // job queue for each owner
	ready     *list.List           // owners with pending jobs, served front to back
	positions map[int64]*list.Element
	closed    bool

	inflight sync.WaitGroup
	done     chan struct{}
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	d := &Dispatcher{
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		JobQueue:  make(chan Job, cfg.QueueSize),
		done:      make(chan struct{}),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, d)

	// warm up
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnIdle()
	}

	go d.run()
	return d
}

// Submit queues job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	if job.Type != Run || job.Task == nil {
		return errors.New("job task required")
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	select {
	case d.JobQueue <- job:
		return nil
	default:
		d.inflight.Done()
		jobsRejected.Inc()
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the owner in front of the ready list
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.done:
				return
			}
		}
		d.drainSubmitted()
	}
}

// drainSubmitted moves every waiting submission into the owner queues so
// the round-robin sees all owners before the next dispatch.
func (d *Dispatcher) drainSubmitted() {
	for {
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.OwnerID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.OwnerID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.OwnerID] = d.ready.PushBack(job.OwnerID)
}

// dispatchOne hands the next job of the front owner to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	ownerID := elem.Value.(int64)
	q := d.queues[ownerID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, ownerID)
		delete(d.queues, ownerID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan, workerID := d.pool.acquire()
	slog.Debug("dispatch job", "job", job.Name, "owner", ownerID, "worker", workerID)
	workerChan <- job
	return true
}

func (d *Dispatcher) jobDone() {
	d.inflight.Done()
}

// Stats reports live and idle workers.
func (d *Dispatcher) Stats() (running, idle int) {
	return d.pool.stats()
}

// Shutdown stops accepting jobs and waits for queued and running ones
// until ctx expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(d.done)
	d.pool.close()
	return err
}
