// Package recorder implements the statistics recorder service: an ingest
// queue drained by a single background aggregation worker that merges
// events into the log store.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/statbot/internal/event"
	"github.com/xtxerr/statbot/internal/logging"
	"github.com/xtxerr/statbot/internal/queue"
)

var log = logging.Component("recorder")

// Store is the write side of the log store. The recorder's worker goroutine
// is the only caller; this single-writer rule removes write-write races on
// the container files without file locking.
type Store interface {
	MergeUsers(t time.Time, incoming []event.UserRecord) error
	MergeStats(t time.Time, incoming []event.StatRecord) error
	MergeSpeeds(t time.Time, incoming []event.SpeedRecord) error
}

// Options configures a Recorder.
type Options struct {
	// IdleInterval is how long the worker sleeps when the queue is empty.
	IdleInterval time.Duration

	// Staleness is the horizon past which events are dropped unpersisted.
	Staleness time.Duration
}

// Recorder accepts decoded events from producers and persists them
// asynchronously. Construct with New, then Start; producers call Add from
// any goroutine.
type Recorder struct {
	store Store
	queue *queue.Queue
	opts  Options

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stats Stats
}

// Stats holds recorder counters.
type Stats struct {
	Received       atomic.Int64
	Merged         atomic.Int64
	DroppedStale   atomic.Int64
	DroppedUnknown atomic.Int64
	Errors         atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Received       int64
	Merged         int64
	DroppedStale   int64
	DroppedUnknown int64
	Errors         int64
	Pending        int
}

// New creates a recorder writing to the given store.
func New(store Store, opts Options) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		store:  store,
		queue:  queue.New(),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add enqueues an event for persistence. Non-blocking; never performs I/O.
func (r *Recorder) Add(ev *event.LogEvent) {
	if ev == nil {
		return
	}
	r.stats.Received.Add(1)
	r.queue.Push(ev)
}

// Start launches the aggregation worker.
func (r *Recorder) Start() error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("recorder already running")
	}

	r.wg.Add(1)
	go r.worker()

	return nil
}

// Stop shuts the worker down and waits for it to finish the event in
// flight. Events still queued are not drained; they were never acknowledged
// as durable.
func (r *Recorder) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}

	r.cancel()
	r.wg.Wait()
	return nil
}

// IsRunning returns whether the worker is active.
func (r *Recorder) IsRunning() bool {
	return r.running.Load()
}

// Stats returns a snapshot of the counters.
func (r *Recorder) Stats() StatsSnapshot {
	return StatsSnapshot{
		Received:       r.stats.Received.Load(),
		Merged:         r.stats.Merged.Load(),
		DroppedStale:   r.stats.DroppedStale.Load(),
		DroppedUnknown: r.stats.DroppedUnknown.Load(),
		Errors:         r.stats.Errors.Load(),
		Pending:        r.queue.Len(),
	}
}

// worker is the single consumer of the ingest queue. Every per-event
// failure is isolated and logged; the loop only exits on Stop.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		ev := r.queue.Pop()
		if ev == nil {
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(r.opts.IdleInterval):
			}
			continue
		}

		r.process(ev)
	}
}

func (r *Recorder) process(ev *event.LogEvent) {
	// A zero timestamp counts as maximally old.
	if ev.Time.IsZero() || time.Since(ev.Time) > r.opts.Staleness {
		log.Warn("message expired, dropping", "kind", ev.Kind.String(), "time", ev.Time)
		r.stats.DroppedStale.Add(1)
		return
	}

	var err error
	switch ev.Kind {
	case event.KindUsers:
		err = r.store.MergeUsers(ev.Time, ev.Users)
	case event.KindStats:
		err = r.store.MergeStats(ev.Time, ev.Stats)
	case event.KindSpeeds:
		err = r.store.MergeSpeeds(ev.Time, ev.Speeds)
	default:
		log.Warn("ignoring event of unknown kind", "kind", int(ev.Kind))
		r.stats.DroppedUnknown.Add(1)
		return
	}

	if err != nil {
		log.Error("merge failed", "kind", ev.Kind.String(), "bucket", event.BucketTag(ev.Time), "error", err)
		r.stats.Errors.Add(1)
		return
	}

	r.stats.Merged.Add(1)
}
