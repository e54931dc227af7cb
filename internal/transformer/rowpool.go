// Package transformer provides the pooled Row type shared by the parser and
// the staging loader to reduce heap churn on large copies.
package transformer

import "sync"

// Row is a pooled container holding a positional record aligned to a staging
// column list.
//
// Ownership contract:
//   - Exactly one goroutine "owns" a Row at a time.
//   - A Row may be passed downstream via channels (ownership transfer).
//   - The final consumer must call Free() AFTER it is fully done with the Row
//     (and anything referencing r.V).
//
// On cancellation paths use Drop() instead of Free(): a canceled drain may
// still be racing the parser, and re-pooling a Row that a peer can still
// observe corrupts later reuse.
type Row struct {
	V    []any
	Line int // 1-based record number within its source object, if known
}

var rowPool sync.Pool

// GetRow returns a pooled Row with length colCount. All elements are zeroed.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = nil
		}
		r.Line = 0
		return r
	}
	return &Row{
		V:    make([]any, colCount),
		Line: 0,
	}
}

// Free returns the Row to the pool.
// Call this ONLY when no other goroutine can observe r or r.V.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row WITHOUT returning it to the pool.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
