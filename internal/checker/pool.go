package checker

import (
	"context"
	"sync"

	"sitemapaudit/internal/models"
)

// job is one URL waiting for a worker. index is its position in the input.
type job struct {
	index int
	url   string
}

type outcome struct {
	index     int
	result    models.ProbeResult
	abandoned bool
}

// workerPool runs one probing pass with a fixed number of workers.
type workerPool struct {
	prober *Prober
	size   int
	wg     sync.WaitGroup
}

func newWorkerPool(p *Prober, size int) *workerPool {
	return &workerPool{prober: p, size: size}
}

// startWorkers launches the worker goroutines.
func (wp *workerPool) startWorkers(ctx context.Context, jobs <-chan job, out chan<- outcome) {
	wp.wg.Add(wp.size)
	for i := 0; i < wp.size; i++ {
		go func() {
			defer wp.wg.Done()
			for j := range jobs {
				res, abandoned := wp.prober.probe(ctx, j.url)
				out <- outcome{index: j.index, result: res, abandoned: abandoned}
			}
		}()
	}
}

// dispatch feeds urls to the workers. The limiter is waited on before a
// worker slot is taken; jobs is unbuffered so a send only completes once a
// worker is free.
func (wp *workerPool) dispatch(ctx context.Context, urls []string, limiter *DispatchLimiter, jobs chan<- job) {
	defer close(jobs)
	for i, u := range urls {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case jobs <- job{index: i, url: u}:
		case <-ctx.Done():
			return
		}
	}
}

// run probes urls and returns the completed outcomes in completion order.
// onResult is called from a single goroutine once per completed result.
// When ctx is cancelled, undispatched URLs are dropped and abandoned
// requests produce no outcome.
func (wp *workerPool) run(
	ctx context.Context,
	urls []string,
	limiter *DispatchLimiter,
	onResult func(o outcome),
) []outcome {
	jobs := make(chan job)
	out := make(chan outcome, wp.size)

	wp.startWorkers(ctx, jobs, out)
	go wp.dispatch(ctx, urls, limiter, jobs)
	go func() {
		wp.wg.Wait()
		close(out)
	}()

	collected := make([]outcome, 0, len(urls))
	for o := range out {
		if o.abandoned {
			continue
		}
		collected = append(collected, o)
		if onResult != nil {
			onResult(o)
		}
	}
	return collected
}
