// Package signal provides bounded-parallel collection across workers.
package signal

import (
	"sync"

	"github.com/czarina-dev/czarina/internal/config"
)

// Result pairs a worker spec with its collected signal.
type Result struct {
	Spec   config.WorkerSpec
	Signal Signal
}

// CollectAll collects signals for every worker using at most concurrency
// goroutines, preserving input order. The reads are independent and
// side-effect-free, so parallelism is safe; the bound keeps a large worker
// set from overwhelming the filesystem or git backend.
func (collector *Collector) CollectAll(specs []config.WorkerSpec, concurrency int) []Result {
	results := make([]Result, len(specs))
	if len(specs) == 0 {
		return results
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(specs) {
		concurrency = len(specs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for index := range jobs {
				results[index] = Result{
					Spec:   specs[index],
					Signal: collector.Collect(specs[index]),
				}
			}
		}()
	}
	for index := range specs {
		jobs <- index
	}
	close(jobs)
	wg.Wait()

	return results
}
