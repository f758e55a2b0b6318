package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// queueDepth bounds the number of pending records before overflow drops.
	queueDepth = 256

	// flushTimeout caps how long a single sink write may take.
	flushTimeout = 5 * time.Second
)

// Recorder is the async front of a Sink. Record and RecordCall enqueue and
// return immediately; a single worker goroutine drains the queue.
type Recorder struct {
	sink Sink
	log  *slog.Logger

	queue   chan job
	dropped atomic.Uint64

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

type job struct {
	turn      *TurnRecord
	sessionID string
	call      *CallUpdate
}

// NewRecorder creates a Recorder over a sink and starts its worker.
func NewRecorder(sink Sink, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		sink:  sink,
		log:   log,
		queue: make(chan job, queueDepth),
		done:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Record enqueues a turn record. Never blocks; drops on overflow.
func (r *Recorder) Record(rec TurnRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r.enqueue(job{turn: &rec})
}

// RecordCall enqueues a call lifecycle update. Never blocks; drops on
// overflow.
func (r *Recorder) RecordCall(sessionID string, upd CallUpdate) {
	r.enqueue(job{sessionID: sessionID, call: &upd})
}

// Dropped reports how many records were discarded due to queue overflow.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Close stops accepting records, drains the queue, and waits for the worker.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) enqueue(j job) {
	select {
	case <-r.done:
		r.dropped.Add(1)
		return
	default:
	}
	select {
	case r.queue <- j:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for {
		select {
		case j := <-r.queue:
			r.flush(j)
		case <-r.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case j := <-r.queue:
					r.flush(j)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) flush(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	var err error
	switch {
	case j.turn != nil:
		err = r.sink.Append(ctx, *j.turn)
	case j.call != nil:
		err = r.sink.UpdateCall(ctx, j.sessionID, *j.call)
	}
	if err != nil {
		r.log.Warn("event sink write failed", "error", err)
	}
}
