package processor

import (
	"context"
	"sync"
)

// Ordered runs work for indices [0, count) on up to workers goroutines and
// hands each result to emit strictly in index order, on the calling goroutine.
// The first error from work or emit stops the run; goroutines are drained
// before Ordered returns.
func Ordered[T any](ctx context.Context, workers, count int, work func(ctx context.Context, index int) (T, error), emit func(index int, value T) error) error {
	if count <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > count {
		workers = count
	}

	type result struct {
		index int
		value T
		err   error
	}

	runCtx, cancel := context.WithCancel(ctx)
	taskChan := make(chan int, workers)
	resultsChan := make(chan result, workers*2)

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range taskChan {
				var res result
				res.index = index
				if err := runCtx.Err(); err != nil {
					res.err = err
				} else {
					res.value, res.err = work(runCtx, index)
				}
				select {
				case resultsChan <- res:
				case <-runCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(taskChan)
		for i := 0; i < count; i++ {
			select {
			case taskChan <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	buffer := make(map[int]result)
	nextFrame := 0
	for nextFrame < count {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-resultsChan:
			buffer[res.index] = res
		}

		for {
			res, ok := buffer[nextFrame]
			if !ok {
				break
			}
			delete(buffer, nextFrame)
			// Frame boundary.
			if err := ctx.Err(); err != nil {
				return err
			}
			if res.err != nil {
				return res.err
			}
			if err := emit(nextFrame, res.value); err != nil {
				return err
			}
			nextFrame++
		}
	}
	return nil
}
