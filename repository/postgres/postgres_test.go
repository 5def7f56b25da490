package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/chaindexing-go/chaindexing"
)

// requireTestDB skips the test unless CHAINDEXING_TEST_DATABASE_URL points
// at a reachable, disposable Postgres database. These tests exercise the
// real driver against real SQL and are not run by default.
func requireTestDB(t *testing.T) *Repo {
	t.Helper()
	dsn := os.Getenv("CHAINDEXING_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CHAINDEXING_TEST_DATABASE_URL not set, skipping postgres integration test")
	}
	return New(dsn)
}

func TestRoundTripEventPersistAndRead(t *testing.T) {
	repo := requireTestDB(t)
	ctx := context.Background()

	pool, err := repo.GetPool(ctx, 5)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	conn, err := repo.GetConn(ctx, pool)
	if err != nil {
		t.Fatalf("get conn: %v", err)
	}
	db, err := asDB(conn)
	if err != nil {
		t.Fatalf("as db: %v", err)
	}
	if err := CreateSchema(ctx, db); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if err := repo.TruncateForReset(ctx, conn); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	addr := chaindexing.NewContractAddress(1, "0xabc", "NFT", 10)
	err = repo.RunInTransaction(ctx, conn, func(ctx context.Context, txn chaindexing.TxnClient) error {
		return repo.RegisterContractAddress(ctx, txn, addr)
	})
	if err != nil {
		t.Fatalf("register contract address: %v", err)
	}

	stream := repo.GetContractAddressesStream(conn)
	page, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("stream addresses: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("got %d addresses, want 1", len(page))
	}
	registered := page[0]

	event := chaindexing.Event{
		ID:               "11111111-1111-1111-1111-111111111111",
		ContractAddress:  "0xabc",
		ContractName:     "NFT",
		ABI:              "Transfer(address,address,uint256)",
		LogParams:        map[string]any{"from": "0x1"},
		Topics:           []string{"0xdead"},
		BlockHash:        "0xblock",
		BlockNumber:      11,
		TransactionHash:  "0xtx",
		TransactionIndex: 0,
		LogIndex:         0,
	}
	err = repo.RunInTransaction(ctx, conn, func(ctx context.Context, txn chaindexing.TxnClient) error {
		if err := repo.CreateEvents(ctx, txn, []chaindexing.Event{event}); err != nil {
			return err
		}
		return repo.UpdateNextBlockNumberToIngestFrom(ctx, conn, registered.ID, 12)
	})
	if err != nil {
		t.Fatalf("persist event: %v", err)
	}

	stored, err := repo.GetEvents(ctx, conn, "0xabc", 0, 100)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("got %d events, want 1", len(stored))
	}
	if stored[0].TransactionHash != "0xtx" {
		t.Fatalf("got tx hash %q, want 0xtx", stored[0].TransactionHash)
	}
}
