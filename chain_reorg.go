package chaindexing

import "time"

// Execution selects which block-range window a Filter is built for: the
// main ingestion frontier, or the trailing confirmation window the reorg
// reconciler re-queries (§4.C).
type Execution struct {
	confirmation           bool
	minConfirmationCount   MinConfirmationCount
}

// ExecutionMain builds filters against the main ingestion frontier.
func ExecutionMain() Execution { return Execution{} }

// ExecutionConfirmation builds filters against the trailing confirmation
// window, per §4.C.
func ExecutionConfirmation(minConfirmationCount MinConfirmationCount) Execution {
	return Execution{confirmation: true, minConfirmationCount: minConfirmationCount}
}

// IsConfirmation reports whether this is a confirmation-window execution.
func (e Execution) IsConfirmation() bool { return e.confirmation }

// MinConfirmationCount is the depth of the reorg reconciliation window
// (§6 config table).
type MinConfirmationCount uint64

// DeductFrom computes max(start, nextIngest - count), the confirmation
// window's `from` block (§4.C), clamped so it never underflows past the
// contract's start block (§9 open question: "confirmation deduction
// underflow ... must clamp at start").
func (c MinConfirmationCount) DeductFrom(nextIngest, start int64) int64 {
	deducted := nextIngest - int64(c)
	if deducted < start {
		return start
	}
	return deducted
}

// UnsavedReorgedBlock is the not-yet-persisted form of a ReorgedBlock
// marker, built once a reorg diff is confirmed non-empty (§4.C step 6a).
type UnsavedReorgedBlock struct {
	ChainID     int64
	BlockNumber int64
}

// NewUnsavedReorgedBlock builds the marker for the earliest block a
// detected reorg touched.
func NewUnsavedReorgedBlock(earliestBlockNumber int64, chainID int64) *UnsavedReorgedBlock {
	return &UnsavedReorgedBlock{ChainID: chainID, BlockNumber: earliestBlockNumber}
}

// ReorgedBlock is the durable, append-only marker written by the reorg
// reconciler and read by out-of-scope downstream rebuild logic (§3).
type ReorgedBlock struct {
	ChainID     int64
	BlockNumber int64
	InsertedAt  time.Time
}
