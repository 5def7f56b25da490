package chaindexing

// ReorgDiff is the result of comparing freshly fetched events against what
// is already stored for a confirmation window (§4.C step 4).
type ReorgDiff struct {
	Added   []Event
	Removed []Event
}

// IsReorg reports whether this diff represents an actual reorg (anything
// added or removed), as opposed to a confirmation-window re-fetch that
// matched storage exactly.
func (d ReorgDiff) IsReorg() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0
}

// DiffEvents compares a contract address's freshly re-fetched events against
// its currently stored ones over the same window, using structural equality
// that excludes the surrogate ID (§4.C step 4). An event present in fresh
// but not stored is Added; one present in stored but not fresh is Removed.
func DiffEvents(stored, fresh []Event) ReorgDiff {
	storedByIdentity := make(map[eventIdentity]Event, len(stored))
	for _, e := range stored {
		storedByIdentity[e.equalIgnoringID()] = e
	}
	freshByIdentity := make(map[eventIdentity]Event, len(fresh))
	for _, e := range fresh {
		freshByIdentity[e.equalIgnoringID()] = e
	}

	var diff ReorgDiff
	for identity, e := range freshByIdentity {
		if _, ok := storedByIdentity[identity]; !ok {
			diff.Added = append(diff.Added, e)
		}
	}
	for identity, e := range storedByIdentity {
		if _, ok := freshByIdentity[identity]; !ok {
			diff.Removed = append(diff.Removed, e)
		}
	}
	SortEventsByBlockAndLogIndex(diff.Added)
	SortEventsByBlockAndLogIndex(diff.Removed)
	return diff
}

// EarliestBlockNumber returns the lowest block number touched by either side
// of the diff. The caller must only invoke this when the diff is non-empty
// (IsReorg reports true); the original's Rust counterpart treats both sides
// empty as a logic error (`unreachable!`), which this module upholds as a
// precondition instead of panicking (see DESIGN.md).
func (d ReorgDiff) EarliestBlockNumber() (int64, bool) {
	var (
		earliest int64
		found    bool
	)
	consider := func(n int64) {
		if !found || n < earliest {
			earliest = n
			found = true
		}
	}
	for _, e := range d.Added {
		consider(e.BlockNumber)
	}
	for _, e := range d.Removed {
		consider(e.BlockNumber)
	}
	return earliest, found
}
