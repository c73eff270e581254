package executor

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// NewLimitPipeline skips the first skip rows of input and returns at most
// fetch rows after that.
func NewLimitPipeline(input Pipeline, skip, fetch uint64) *GenericPipeline {
	// We gradually reduce offsetRemaining and limitRemaining as we process more records, as the
	// offsetRemaining and limitRemaining may cross record boundaries.
	var (
		offsetRemaining = int64(skip)
		limitRemaining  = int64(fetch)
	)

	return newGenericPipeline(func(ctx context.Context, inputs []Pipeline) (arrow.Record, error) {
		for {
			// Stop once we reached the limit
			if limitRemaining <= 0 {
				return nil, EOF
			}

			// Pull the next item from input
			batch, err := inputs[0].Read(ctx)
			if err != nil {
				return nil, err
			}

			// We want to slice batch so it only contains the rows we're looking for
			// accounting for both the limit and offset.
			// We constrain the start and end to be within the bounds of the record.
			start := min(offsetRemaining, batch.NumRows())
			end := min(start+limitRemaining, batch.NumRows())
			offsetRemaining -= start
			limitRemaining -= end - start

			// We skip yielding zero-length batches while offsetRemaining > 0
			if end-start == 0 {
				batch.Release()
				continue
			}

			rec := batch.NewSlice(start, end)
			batch.Release()
			return rec, nil
		}
	}, input)
}
