package chaindexing

import "testing"

func testContracts() Contracts {
	return Contracts{
		{
			Name: "NFT",
			EventHandlers: []ContractEventHandler{
				{EventSignature: "Transfer(address,address,uint256)"},
			},
		},
	}
}

func TestBuildFiltersDropsCaughtUpAddresses(t *testing.T) {
	addresses := []ContractAddress{
		{ID: 1, ContractName: "NFT", Address: "0xabc", NextBlockNumberToIngestFrom: 100},
	}

	filters := BuildFilters(addresses, testContracts(), 100, 20, ExecutionMain())

	if len(filters) != 0 {
		t.Fatalf("expected no filters for a caught-up address, got %d", len(filters))
	}
}

func TestBuildFiltersCapsWindowAtBlocksPerBatchAndCurrentBlock(t *testing.T) {
	addresses := []ContractAddress{
		{ID: 1, ContractName: "NFT", Address: "0xabc", NextBlockNumberToIngestFrom: 50},
	}

	filters := BuildFilters(addresses, testContracts(), 1000, 20, ExecutionMain())

	if len(filters) != 1 {
		t.Fatalf("expected one filter, got %d", len(filters))
	}
	if filters[0].FromBlock != 50 || filters[0].ToBlock != 70 {
		t.Fatalf("got window [%d,%d], want [50,70]", filters[0].FromBlock, filters[0].ToBlock)
	}
}

func TestBuildFiltersConfirmationWindowIsUnclampedPastCurrentBlock(t *testing.T) {
	addresses := []ContractAddress{
		{ID: 1, ContractName: "NFT", Address: "0xabc", StartBlockNumber: 0, NextBlockNumberToIngestFrom: 100},
	}

	filters := BuildFilters(addresses, testContracts(), 105, 20, ExecutionConfirmation(MinConfirmationCount(40)))

	if len(filters) != 1 {
		t.Fatalf("expected one filter, got %d", len(filters))
	}
	if filters[0].FromBlock != 60 {
		t.Fatalf("got from %d, want 60", filters[0].FromBlock)
	}
	if filters[0].ToBlock != 80 {
		t.Fatalf("got to %d, want 80 (from+blocksPerBatch, unclamped)", filters[0].ToBlock)
	}
}

func TestBuildFiltersConfirmationWindowClampsAtStartBlock(t *testing.T) {
	addresses := []ContractAddress{
		{ID: 1, ContractName: "NFT", Address: "0xabc", StartBlockNumber: 90, NextBlockNumberToIngestFrom: 100},
	}

	filters := BuildFilters(addresses, testContracts(), 200, 20, ExecutionConfirmation(MinConfirmationCount(40)))

	if filters[0].FromBlock != 90 {
		t.Fatalf("got from %d, want 90 (clamped at start block)", filters[0].FromBlock)
	}
}
