package finder

import "sync"

// dispatch runs task once per index in [0, n) on a bounded worker pool and
// collects results in submission order, mirroring the per-index
// goroutine + sync.WaitGroup shape of UnifiedSupervisor.SubmitBatch
// (spec.md §5's concurrency model: parallel saddle searches across the
// unseen sites of a classification pass). The first error encountered
// is returned after every worker has joined; partial results up to
// that point are still returned so the caller can decide what to keep.
func dispatch[T any](n, workers int, task func(idx int) (T, error)) ([]T, error) {
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	results := make([]T, n)
	errs := make([]error, n)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			r, err := task(idx)
			if err != nil {
				errs[idx] = err
				return
			}
			results[idx] = r
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
