// Package executor runs subscriber callbacks off the network goroutines.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash"
	"github.com/pinorobotics/rtpstalk/std/log"
	"github.com/prometheus/client_golang/prometheus"
)

type Task func()

// Pool is a bounded worker pool with one queue per worker. Tasks sharing
// a key run on the same worker, in submission order.
type Pool struct {
	lanes     []chan Task
	queueSize int

	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	panicked  atomic.Int64

	metrics *poolMetrics
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	processed  prometheus.Counter
	dropped    prometheus.Counter
}

type Option func(*Pool) error

// WithMetrics registers the pool instruments under prefix.
func WithMetrics(reg prometheus.Registerer, prefix string) Option {
	return func(p *Pool) error {
		m := &poolMetrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_queue_depth",
				Help: "Tasks waiting in the executor queues",
			}),
			processed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_processed_total",
				Help: "Tasks run by the executor",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_dropped_total",
				Help: "Tasks rejected because a queue was full",
			}),
		}
		for _, c := range []prometheus.Collector{m.queueDepth, m.processed, m.dropped} {
			if err := reg.Register(c); err != nil {
				return err
			}
		}
		p.metrics = m
		return nil
	}
}

// NewPool creates a pool of workers each owning a queue of queueSize.
func NewPool(workers, queueSize int, opts ...Option) (*Pool, error) {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Pool{
		lanes:     make([]chan Task, workers),
		queueSize: queueSize,
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan Task, queueSize)
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("executor option: %w", err)
		}
	}
	return p, nil
}

func (p *Pool) String() string {
	return "executor"
}

// KeyOf hashes an ordering key such as a writer guid.
func KeyOf(b []byte) uint64 {
	return xxhash.Sum64(b)
}

func (p *Pool) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if p.started {
		return ErrPoolAlreadyStarted
	}
	for _, lane := range p.lanes {
		p.wg.Add(1)
		go p.worker(ctx, lane)
	}
	p.started = true
	return nil
}

func (p *Pool) lane(key uint64) chan Task {
	return p.lanes[key%uint64(len(p.lanes))]
}

func (p *Pool) check() error {
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	return nil
}

// Submit queues a task without blocking.
func (p *Pool) Submit(key uint64, task Task) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()
	if err := p.check(); err != nil {
		return err
	}

	select {
	case p.lane(key) <- task:
		p.accepted()
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// SubmitWait queues a task, blocking while the queue is full.
func (p *Pool) SubmitWait(ctx context.Context, key uint64, task Task) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()
	if err := p.check(); err != nil {
		return err
	}

	select {
	case p.lane(key) <- task:
		p.accepted()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) accepted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.queueDepth.Inc()
	}
}

// Stop closes the queues and waits up to timeout for queued tasks to run.
func (p *Pool) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	for _, lane := range p.lanes {
		close(lane)
	}
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

func (p *Pool) worker(ctx context.Context, lane chan Task) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-lane:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			log.Error(p, "Task panicked", "panic", r)
		}
		p.processed.Add(1)
		if p.metrics != nil {
			p.metrics.processed.Inc()
			p.metrics.queueDepth.Dec()
		}
	}()
	task()
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	depth := 0
	for _, lane := range p.lanes {
		depth += len(lane)
	}
	return Stats{
		Workers:    len(p.lanes),
		QueueSize:  p.queueSize,
		QueueDepth: depth,
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Dropped:    p.dropped.Load(),
		Panicked:   p.panicked.Load(),
	}
}

type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Dropped    int64 `json:"dropped"`
	Panicked   int64 `json:"panicked"`
}
