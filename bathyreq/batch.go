package bathyreq

import (
	"context"
	"sync"
	"time"
)

// AreaRequest describes one area to download in a batch.
type AreaRequest struct {
	Longitude []float64
	Latitude  []float64
	Options   *SourceOptions
}

// AreaResult pairs a downloaded grid with the index of the request that
// produced it. Err is set per request; one failed area doesn't abort the
// batch.
type AreaResult struct {
	Index   int
	Grid    *Grid
	Err     error
	Elapsed float64
}

// FetchAll downloads several areas concurrently through a worker pool
// and returns the results ordered by request index.
func FetchAll(ctx context.Context, client *Client, requests []AreaRequest, workers int) []AreaResult {
	if workers < 1 {
		workers = 1
	}
	if workers > len(requests) {
		workers = len(requests)
	}

	jobs := make(chan int, len(requests))
	results := make(chan AreaResult, len(requests))

	workerWG := &sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for i := range jobs {
				start := time.Now()
				req := requests[i]
				grid, err := client.GetArea(ctx, req.Longitude, req.Latitude, req.Options)
				results <- AreaResult{
					Index:   i,
					Grid:    grid,
					Err:     err,
					Elapsed: time.Since(start).Seconds(),
				}
			}
		}()
	}

	for i := range requests {
		jobs <- i
	}
	close(jobs)

	workerWG.Wait()
	close(results)

	out := make([]AreaResult, len(requests))
	for result := range results {
		out[result.Index] = result
	}
	return out
}
