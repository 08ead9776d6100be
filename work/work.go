// Package work splits independent work items between processes and runs
// them on a bounded set of goroutines.
package work

import (
	"sync"

	"github.com/pkg/errors"
)

// Strided returns the items of n owned by worker rank out of size workers:
// rank, rank+size, rank+2*size, ...
func Strided(n, rank, size int) ([]int, error) {
	if size < 1 || rank < 0 || rank >= size {
		return nil, errors.Errorf("Invalid worker %d of %d", rank, size)
	}
	var items []int
	for i := rank; i < n; i += size {
		items = append(items, i)
	}
	return items, nil
}

// Result is the outcome of one item
type Result struct {
	Item int
	Err  error
}

// Pool runs fn on every item using at most workers goroutines and returns
// the results in item order. A failing item does not stop the others.
func Pool(workers int, items []int, fn func(item int) error) []Result {
	if workers < 1 {
		workers = 1
	}
	results := make([]Result, len(items))
	todo := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range todo {
				results[k] = Result{Item: items[k], Err: fn(items[k])}
			}
		}()
	}

	for k := range items {
		todo <- k
	}
	close(todo)
	wg.Wait()

	return results
}

// Failed picks out the results with errors
func Failed(results []Result) []Result {
	var res []Result
	for _, r := range results {
		if r.Err != nil {
			res = append(res, r)
		}
	}
	return res
}
