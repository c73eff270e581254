package engine

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Result holds the records produced by a statement. The caller owns the
// records and must call [Result.Release] once done with them.
type Result struct {
	Schema  *arrow.Schema
	Records []arrow.Record
}

// NumRows returns the total number of rows across all records.
func (r *Result) NumRows() int64 {
	var n int64
	for _, rec := range r.Records {
		n += rec.NumRows()
	}
	return n
}

// Release releases all records. It is safe to call Release more than once.
func (r *Result) Release() {
	for _, rec := range r.Records {
		rec.Release()
	}
	r.Records = nil
}
