package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/opentalon/geminicog/internal/logging"
	"github.com/opentalon/geminicog/internal/metrics"
	"github.com/opentalon/geminicog/pkg/cog"
)

// Sink stores audit records.
type Sink interface {
	Write(ctx context.Context, r Record) error
	Close() error
}

// Pruner is implemented by sinks that can delete old records.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Auditor is what the server hands completed responses to.
type Auditor interface {
	Export(stepID string, resp *cog.RunStepResponse)
}

// Nop discards every response.
type Nop struct{}

func (Nop) Export(string, *cog.RunStepResponse) {}

// Options tune an Exporter. Zero values take defaults.
type Options struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

const (
	defaultQueueSize    = 1024
	defaultWorkers      = 4
	defaultWriteTimeout = 10 * time.Second
)

// Exporter queues records and writes them to a Sink from a fixed pool of
// workers.
type Exporter struct {
	sink    Sink
	queue   chan Record
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// stop aborts writes still pending when Close gives up on the drain.
	stopCtx context.Context
	stop    context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     conc.WaitGroup
}

// NewExporter starts the workers. Call Close to drain and stop them.
func NewExporter(sink Sink, opts Options) *Exporter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Exporter{
		sink:    sink,
		queue:   make(chan Record, opts.QueueSize),
		timeout: opts.WriteTimeout,
		log:     logging.OrDiscard(opts.Logger).With("component", "audit"),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	e.stopCtx, e.stop = context.WithCancel(context.Background())
	for i := 0; i < opts.Workers; i++ {
		e.wg.Go(e.work)
	}
	return e
}

// Export flattens resp and queues it. It never blocks: when the queue is
// full or the exporter is closed the record is dropped.
func (e *Exporter) Export(stepID string, resp *cog.RunStepResponse) {
	rec := Flatten(stepID, resp, e.now())

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.metrics.Audit("dropped")
		return
	}
	select {
	case e.queue <- rec:
	default:
		e.metrics.Audit("dropped")
		e.log.Warn("queue full, dropping record", "step", stepID, "record", rec.ID)
	}
}

func (e *Exporter) work() {
	for rec := range e.queue {
		if e.stopCtx.Err() != nil {
			e.metrics.Audit("dropped")
			continue
		}
		var err error
		if r := panics.Try(func() { err = e.write(rec) }); r != nil {
			err = r.AsError()
		}
		if err != nil {
			e.metrics.Audit("failed")
			e.log.Error("write record", "step", rec.StepID, "record", rec.ID, "error", err)
			continue
		}
		e.metrics.Audit("written")
	}
}

func (e *Exporter) write(rec Record) error {
	ctx, cancel := context.WithTimeout(e.stopCtx, e.timeout)
	defer cancel()
	return e.sink.Write(ctx, rec)
}

// Close stops intake, waits for queued records to be written and closes
// the sink. If ctx ends first the remaining records are abandoned and
// in-flight writes cancelled; the sink is closed only after every worker
// has returned.
func (e *Exporter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("audit: drain: %w", ctx.Err())
		e.stop()
		<-done
	}
	e.stop()
	return errors.Join(err, e.sink.Close())
}
