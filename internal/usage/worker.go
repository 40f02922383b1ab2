package usage

import (
	"context"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/sweeney/waste-sorter/internal/counter"
	"github.com/sweeney/waste-sorter/internal/logic"
)

const (
	flushTimeout = 30 * time.Second
	finalTimeout = 5 * time.Second
)

// Report describes the aggregator after a flush check.
type Report struct {
	Time      time.Time
	Pending   logic.Counts
	Remote    logic.Counts
	LastFlush time.Time
	Failures  int
	// Posted is true when the flush timer advanced.
	Posted bool
	// Err is the post error, if any.
	Err error
}

// Worker owns an Aggregator on its own goroutine so that slow or failing
// posts never block the decision loop. Records are coalesced into counts the
// worker takes on each flush check; checks are driven by a cron schedule.
type Worker struct {
	agg    *Aggregator
	client counter.Client
	now    func() time.Time

	// OnFlush, if set, is called from the worker goroutine after every flush check.
	OnFlush func(Report)

	recMu   sync.Mutex
	records logic.Counts
	stopped bool

	checks chan struct{}
	done   chan struct{}
	cron   *rcron.Cron

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// NewWorker creates a worker. now is injectable for tests.
func NewWorker(agg *Aggregator, client counter.Client, now func() time.Time) *Worker {
	if now == nil {
		now = time.Now
	}
	return &Worker{
		agg:     agg,
		client:  client,
		now:     now,
		records: make(logic.Counts),
		checks:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// CheckInterval is how often the worker asks the aggregator whether a flush is due.
func CheckInterval(interval time.Duration) time.Duration {
	d := interval / 10
	if d < time.Second {
		d = time.Second
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// Start launches the worker goroutine and the flush schedule.
// The worker stops when ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.started = true

	w.cron = rcron.New()
	w.cron.Schedule(rcron.Every(CheckInterval(w.agg.Interval())), rcron.FuncJob(w.CheckNow))
	w.cron.Start()
	log.Printf("usage: flushing every %v (checked every %v)", w.agg.Interval(), CheckInterval(w.agg.Interval()))

	go w.run(runCtx)
	return nil
}

// Stop cancels the worker and waits for the final flush attempt.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-w.done
}

// Done is closed once the worker has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Record counts a confirmed transition into label. It never blocks, even
// while a flush is in progress.
func (w *Worker) Record(label logic.Category) {
	w.recMu.Lock()
	defer w.recMu.Unlock()
	if w.stopped {
		log.Printf("usage: worker stopped, dropping record for %s", label)
		return
	}
	w.records[label]++
}

// CheckNow asks the worker to run a flush check. Requests coalesce.
func (w *Worker) CheckNow() {
	select {
	case w.checks <- struct{}{}:
	default:
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.checks:
			w.drain()
			fctx, cancel := context.WithTimeout(ctx, flushTimeout)
			posted, err := w.agg.MaybeFlush(fctx, w.now(), w.client)
			cancel()
			w.report(posted, err)

		case <-ctx.Done():
			stopCtx := w.cron.Stop()
			<-stopCtx.Done()
			w.recMu.Lock()
			w.stopped = true
			w.recMu.Unlock()
			w.drain()
			w.finalFlush()
			return
		}
	}
}

// drain moves recorded counts into the aggregator.
func (w *Worker) drain() {
	w.recMu.Lock()
	batch := w.records
	w.records = make(logic.Counts)
	w.recMu.Unlock()
	w.agg.Add(batch)
}

// finalFlush posts whatever is pending at shutdown so a clean stop loses nothing
// that the service could still accept.
func (w *Worker) finalFlush() {
	if w.agg.Pending().Total() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalTimeout)
	defer cancel()
	posted, err := w.agg.Flush(ctx, w.now(), w.client)
	w.report(posted, err)
	if err == nil {
		log.Printf("usage: final flush posted")
	}
}

func (w *Worker) report(posted bool, err error) {
	if err != nil {
		log.Printf("usage: flush failed (attempt %d), keeping %v: %v", w.agg.Failures(), w.agg.Pending(), err)
	} else if posted {
		if remote := w.agg.Remote(); remote != nil {
			log.Printf("usage: flushed, remote totals now %v", remote)
		}
	}
	if w.OnFlush == nil {
		return
	}
	w.OnFlush(Report{
		Time:      w.now(),
		Pending:   w.agg.Pending(),
		Remote:    w.agg.Remote(),
		LastFlush: w.agg.LastFlush(),
		Failures:  w.agg.Failures(),
		Posted:    posted,
		Err:       err,
	})
}
