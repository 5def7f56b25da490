package memory

import (
	"context"
	"testing"

	"github.com/chaindexing-go/chaindexing"
)

func TestRegisterContractAddressIsIdempotent(t *testing.T) {
	repo := New()
	ctx := context.Background()

	addr := chaindexing.NewContractAddress(1, "0xabc", "NFT", 10)
	if err := repo.RegisterContractAddress(ctx, repo, addr); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := repo.RegisterContractAddress(ctx, repo, addr); err != nil {
		t.Fatalf("second register: %v", err)
	}

	if got := len(repo.Addresses()); got != 1 {
		t.Fatalf("got %d addresses, want 1", got)
	}
}

func TestUpdateNextBlockNumberToIngestFromInsideTransaction(t *testing.T) {
	repo := New()
	ctx := context.Background()

	addr := chaindexing.NewContractAddress(1, "0xabc", "NFT", 10)
	if err := repo.RegisterContractAddress(ctx, repo, addr); err != nil {
		t.Fatalf("register: %v", err)
	}
	registered := repo.Addresses()[0]

	err := repo.RunInTransaction(ctx, repo, func(ctx context.Context, txn chaindexing.TxnClient) error {
		return repo.UpdateNextBlockNumberToIngestFrom(ctx, repo, registered.ID, 42)
	})
	if err != nil {
		t.Fatalf("run in transaction: %v", err)
	}

	if got := repo.Addresses()[0].NextBlockNumberToIngestFrom; got != 42 {
		t.Fatalf("got next block %d, want 42", got)
	}
}

func TestCreateEventsDeduplicatesByIdentity(t *testing.T) {
	repo := New()
	ctx := context.Background()

	event := chaindexing.Event{
		ID:              "a",
		ContractAddress: "0xABC",
		TransactionHash: "0x1",
		BlockHash:       "0x2",
		LogIndex:        0,
		BlockNumber:     5,
	}
	duplicate := event
	duplicate.ID = "b"

	err := repo.RunInTransaction(ctx, repo, func(ctx context.Context, txn chaindexing.TxnClient) error {
		return repo.CreateEvents(ctx, txn, []chaindexing.Event{event, duplicate})
	})
	if err != nil {
		t.Fatalf("create events: %v", err)
	}

	if got := len(repo.Events()); got != 1 {
		t.Fatalf("got %d events, want 1", got)
	}
}

func TestDeleteEventsByIDsRemovesOnlyMatching(t *testing.T) {
	repo := New()
	ctx := context.Background()

	events := []chaindexing.Event{
		{ID: "a", ContractAddress: "0xabc", TransactionHash: "0x1", BlockNumber: 1},
		{ID: "b", ContractAddress: "0xabc", TransactionHash: "0x2", BlockNumber: 2},
	}
	err := repo.RunInTransaction(ctx, repo, func(ctx context.Context, txn chaindexing.TxnClient) error {
		return repo.CreateEvents(ctx, txn, events)
	})
	if err != nil {
		t.Fatalf("create events: %v", err)
	}

	err = repo.RunInTransaction(ctx, repo, func(ctx context.Context, txn chaindexing.TxnClient) error {
		return repo.DeleteEventsByIDs(ctx, txn, []string{"a"})
	})
	if err != nil {
		t.Fatalf("delete events: %v", err)
	}

	remaining := repo.Events()
	if len(remaining) != 1 || remaining[0].ID != "b" {
		t.Fatalf("unexpected remaining events: %+v", remaining)
	}
}

func TestTruncateForResetClearsState(t *testing.T) {
	repo := New()
	ctx := context.Background()

	addr := chaindexing.NewContractAddress(1, "0xabc", "NFT", 10)
	_ = repo.RegisterContractAddress(ctx, repo, addr)
	_ = repo.RunInTransaction(ctx, repo, func(ctx context.Context, txn chaindexing.TxnClient) error {
		return repo.CreateEvents(ctx, txn, []chaindexing.Event{{ID: "a", ContractAddress: "0xabc"}})
	})

	if err := repo.TruncateForReset(ctx, repo); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	if len(repo.Addresses()) != 0 || len(repo.Events()) != 0 {
		t.Fatalf("expected empty repo after truncate")
	}
}
