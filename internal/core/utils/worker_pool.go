package utils

import "sync"

type CompletedTask[T any] struct {
	Index  int
	Result T
	Error  error
}

// RunInPool applies worker to every item using at most maxWorkers goroutines.
// Results keep the order of items.
func RunInPool[In any, Out any](items []In, worker func(In) (Out, error), maxWorkers int) []CompletedTask[Out] {
	completed := make([]CompletedTask[Out], len(items))
	if len(items) == 0 {
		return completed
	}

	workers := max(1, min(len(items), maxWorkers))

	queue := make(chan int, len(items))
	for i := range items {
		queue <- i
	}
	close(queue)

	wg := sync.WaitGroup{}
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()

			for i := range queue {
				res, err := worker(items[i])
				completed[i] = CompletedTask[Out]{Index: i, Result: res, Error: err}
			}
		}()
	}

	wg.Wait()

	return completed
}
