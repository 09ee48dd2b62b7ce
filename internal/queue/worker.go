package queue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/viboost/comment-engine-go/internal/config"
)

// Handler processes one job. A returned error counts as a failed attempt;
// exhausted jobs go to the dead-letter list.
type Handler func(ctx context.Context, job *Job) error

// WorkerOptions bound a worker's pull loop.
type WorkerOptions struct {
	Concurrency  int
	LockDuration time.Duration
	// RatePerSecond throttles job starts across all of this worker's
	// goroutines. Zero means unthrottled.
	RatePerSecond int
	Backoff       time.Duration
}

// Worker pulls jobs from one queue with bounded concurrency. The lease is
// renewed at a third of the lock duration while the handler runs; a worker
// that dies stops renewing and the janitor reclaims the job.
type Worker struct {
	queue   *Queue
	name    string
	handler Handler
	opts    WorkerOptions
	limiter *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(q *Queue, name string, handler Handler, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = config.JobLeaseDuration
	}
	if opts.Backoff <= 0 {
		opts.Backoff = config.JobBackoffInitial
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RatePerSecond)
	}

	return &Worker{
		queue:   q,
		name:    name,
		handler: handler,
		opts:    opts,
		limiter: limiter,
	}
}

// Start launches the pull goroutines plus a janitor that promotes delayed
// jobs and reclaims expired leases.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go w.pullLoop(ctx)
	}

	w.wg.Add(1)
	go w.janitorLoop(ctx)

	log.Info().
		Str("queue", w.name).
		Int("concurrency", w.opts.Concurrency).
		Dur("lockDuration", w.opts.LockDuration).
		Msg("queue worker started")
}

// Stop cancels the pull loops and waits for in-flight handlers.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	log.Info().Str("queue", w.name).Msg("queue worker stopped")
}

func (w *Worker) pullLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}

		id, err := w.queue.client.BLMove(ctx, waitKey(w.name), activeKey(w.name), "RIGHT", "LEFT", 2*time.Second).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("queue", w.name).Msg("queue pull failed")
			time.Sleep(time.Second)
			continue
		}

		w.process(ctx, id)
	}
}

func (w *Worker) process(ctx context.Context, id string) {
	job, removeOnComplete, removeOnFail, err := w.queue.loadJob(ctx, w.name, id)
	if err != nil {
		log.Error().Err(err).Str("queue", w.name).Str("jobId", id).Msg("load job failed")
		return
	}
	if job == nil {
		// Removed while queued; drop the dangling list entry.
		w.queue.client.LRem(ctx, activeKey(w.name), 0, id)
		return
	}

	leaseUntil := time.Now().Add(w.opts.LockDuration)
	w.queue.client.ZAdd(ctx, leasesKey(w.name), redis.Z{Score: float64(leaseUntil.UnixMilli()), Member: id})

	renewDone := make(chan struct{})
	go w.renewLease(ctx, id, renewDone)

	start := time.Now()
	handlerErr := w.handler(ctx, job)
	close(renewDone)

	if handlerErr == nil {
		w.complete(ctx, id, removeOnComplete)
		log.Debug().
			Str("queue", w.name).
			Str("jobId", id).
			Dur("duration", time.Since(start)).
			Msg("job completed")
		return
	}

	w.fail(ctx, job, removeOnFail, handlerErr)
}

func (w *Worker) renewLease(ctx context.Context, id string, done <-chan struct{}) {
	ticker := time.NewTicker(w.opts.LockDuration / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			leaseUntil := time.Now().Add(w.opts.LockDuration)
			err := w.queue.client.ZAdd(ctx, leasesKey(w.name),
				redis.Z{Score: float64(leaseUntil.UnixMilli()), Member: id}).Err()
			if err != nil {
				log.Warn().Err(err).Str("queue", w.name).Str("jobId", id).Msg("lease renewal failed")
			}
		}
	}
}

func (w *Worker) complete(ctx context.Context, id string, remove bool) {
	pipe := w.queue.client.TxPipeline()
	pipe.LRem(ctx, activeKey(w.name), 0, id)
	pipe.ZRem(ctx, leasesKey(w.name), id)
	if remove {
		pipe.Del(ctx, jobKey(w.name, id))
	} else {
		// Keep the hash around briefly for inspection, then let it lapse.
		pipe.Expire(ctx, jobKey(w.name, id), time.Hour)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("queue", w.name).Str("jobId", id).Msg("job completion bookkeeping failed")
	}
}

// fail retries with exponential backoff until attempts are exhausted, then
// dead-letters the job.
func (w *Worker) fail(ctx context.Context, job *Job, removeOnFail bool, cause error) {
	attempts := job.Attempts + 1

	pipe := w.queue.client.TxPipeline()
	pipe.LRem(ctx, activeKey(w.name), 0, job.ID)
	pipe.ZRem(ctx, leasesKey(w.name), job.ID)

	if attempts >= job.MaxAttempts {
		if removeOnFail {
			pipe.Del(ctx, jobKey(w.name, job.ID))
		} else {
			pipe.HSet(ctx, jobKey(w.name, job.ID), "attempts", attempts)
			pipe.LPush(ctx, deadKey(w.name), job.ID)
		}
		log.Error().
			Err(cause).
			Str("queue", w.name).
			Str("jobId", job.ID).
			Int("attempts", attempts).
			Msg("job exhausted retries")
	} else {
		backoff := w.opts.Backoff * (1 << (attempts - 1))
		fireAt := time.Now().Add(backoff)
		pipe.HSet(ctx, jobKey(w.name, job.ID), "attempts", attempts)
		pipe.ZAdd(ctx, delayedKey(w.name), redis.Z{Score: float64(fireAt.UnixMilli()), Member: job.ID})
		log.Warn().
			Err(cause).
			Str("queue", w.name).
			Str("jobId", job.ID).
			Int("attempt", attempts).
			Dur("backoff", backoff).
			Msg("job failed, will retry")
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("queue", w.name).Str("jobId", job.ID).Msg("job failure bookkeeping failed")
	}
}

func (w *Worker) janitorLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.queue.Promote(ctx, w.name); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("queue", w.name).Msg("delayed promotion failed")
			}
			reclaimed, err := w.queue.Reclaim(ctx, w.name, config.MaxStalledDeliveries)
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("queue", w.name).Msg("stalled reclaim failed")
			} else if reclaimed > 0 {
				log.Warn().Int64("count", reclaimed).Str("queue", w.name).Msg("reclaimed stalled jobs")
			}
		}
	}
}
