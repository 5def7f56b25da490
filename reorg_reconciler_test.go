package chaindexing

import "testing"

func sampleEvent(blockNumber, logIndex int64, id string) Event {
	return Event{
		ID:               id,
		ContractAddress:  "0xabc",
		ContractName:     "NFT",
		ABI:              "Transfer(address,address,uint256)",
		BlockHash:        "0xblock1",
		BlockNumber:      blockNumber,
		TransactionHash:  "0xtx1",
		TransactionIndex: 0,
		LogIndex:         logIndex,
	}
}

func TestDiffEventsIsEmptyWhenIdentical(t *testing.T) {
	stored := []Event{sampleEvent(10, 0, "a")}
	fresh := []Event{sampleEvent(10, 0, "b")} // different surrogate id, same identity

	diff := DiffEvents(stored, fresh)

	if diff.IsReorg() {
		t.Fatalf("expected no reorg, got added=%d removed=%d", len(diff.Added), len(diff.Removed))
	}
}

func TestDiffEventsDetectsRemovedEvent(t *testing.T) {
	stored := []Event{sampleEvent(10, 0, "a"), sampleEvent(11, 0, "b")}
	fresh := []Event{sampleEvent(10, 0, "c")}

	diff := DiffEvents(stored, fresh)

	if !diff.IsReorg() {
		t.Fatalf("expected a reorg to be detected")
	}
	if len(diff.Removed) != 1 || diff.Removed[0].BlockNumber != 11 {
		t.Fatalf("unexpected removed set: %+v", diff.Removed)
	}
	if len(diff.Added) != 0 {
		t.Fatalf("unexpected added set: %+v", diff.Added)
	}

	earliest, ok := diff.EarliestBlockNumber()
	if !ok || earliest != 11 {
		t.Fatalf("got earliest=%d ok=%v, want 11/true", earliest, ok)
	}
}

func TestDiffEventsDetectsAddedEvent(t *testing.T) {
	stored := []Event{sampleEvent(10, 0, "a")}
	changed := sampleEvent(10, 0, "b")
	changed.TransactionHash = "0xtx2" // same slot, different tx: a reorg replaced it

	diff := DiffEvents(stored, []Event{changed})

	if len(diff.Added) != 1 || len(diff.Removed) != 1 {
		t.Fatalf("expected one added and one removed, got added=%d removed=%d", len(diff.Added), len(diff.Removed))
	}
}
