package stream

import (
	"context"
	"iter"
	"log"
	"sync"
)

// BatchSource drives the paginated stream as a lazy, finite, forward-only
// sequence of batches. Each batch is fetched with full internal parallelism,
// bounded across the whole run by the fetcher's shared throttle.
type BatchSource struct {
	fetcher   *Fetcher
	batchSize int
	end       *EndSignal
}

// NewBatchSource builds a source producing batches of batchSize fetches.
func NewBatchSource(f *Fetcher, batchSize int, end *EndSignal) *BatchSource {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchSource{fetcher: f, batchSize: batchSize, end: end}
}

// Batches returns the batch sequence as a single-use pull iterator. The
// consumer body runs to completion before the next batch is fetched, so
// there is no cross-batch pipelining. The sequence ends on end-of-stream,
// on an empty batch, or when ctx is cancelled; it must not be ranged twice.
func (b *BatchSource) Batches(ctx context.Context) iter.Seq[[]Sample] {
	return func(yield func([]Sample) bool) {
		for batchIndex := 1; !b.end.Reached(); batchIndex++ {
			if ctx.Err() != nil {
				return
			}
			batch := b.fetchBatch(ctx, batchIndex)
			if len(batch) == 0 {
				// No usable sample in the whole batch: treat as
				// end-of-stream even without an explicit 404.
				return
			}
			if !yield(batch) {
				return
			}
		}
	}
}

// fetchBatch issues batchSize concurrent fetches and collects the decoded
// samples in completion order.
func (b *BatchSource) fetchBatch(ctx context.Context, batchIndex int) []Sample {
	log.Printf("fetching batch %d", batchIndex)

	results := make(chan Outcome, b.batchSize)
	var wg sync.WaitGroup
	for i := 0; i < b.batchSize; i++ {
		wg.Add(1)
		go func(sampleIndex int) {
			defer wg.Done()
			results <- b.fetcher.Fetch(ctx, batchIndex, sampleIndex)
		}(i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	batch := make([]Sample, 0, b.batchSize)
	for out := range results {
		if out.Kind == OutcomeSample {
			batch = append(batch, out.Sample)
		}
	}
	return batch
}
