package chaindexing

import (
	"context"
	"testing"
)

type recordingHandler struct {
	events *[]Event
}

func (h recordingHandler) HandleEvent(ctx context.Context, ectx *EventHandlerContext) error {
	*h.events = append(*h.events, ectx.Event)
	return nil
}

type handlerTestRepo struct {
	Repo
	addresses []ContractAddress
	events    []Event
	handled   map[int32]int64
}

func (r *handlerTestRepo) GetPool(ctx context.Context, maxSize int) (Pool, error) { return r, nil }
func (r *handlerTestRepo) GetConn(ctx context.Context, pool Pool) (Conn, error)   { return r, nil }

type oneShotAddressStream struct{ addresses []ContractAddress }

func (s *oneShotAddressStream) Next(ctx context.Context) ([]ContractAddress, error) {
	if s.addresses == nil {
		return nil, nil
	}
	out := s.addresses
	s.addresses = nil
	return out, nil
}

func (r *handlerTestRepo) GetContractAddressesStream(conn Conn) ContractAddressStream {
	return &oneShotAddressStream{addresses: r.addresses}
}

type oneShotEventStream struct {
	events  []Event
	address string
}

func (s *oneShotEventStream) Next(ctx context.Context) ([]Event, error) {
	if s.events == nil {
		return nil, nil
	}
	out := s.events
	s.events = nil
	return out, nil
}

func (r *handlerTestRepo) GetEventsStream(conn Conn, address string, fromBlockNumber int64) EventStream {
	var matches []Event
	for _, e := range r.events {
		if e.ContractAddress == address && e.BlockNumber >= fromBlockNumber {
			matches = append(matches, e)
		}
	}
	return &oneShotEventStream{events: matches, address: address}
}

func (r *handlerTestRepo) RunInTransaction(ctx context.Context, conn Conn, fn func(ctx context.Context, txn TxnClient) error) error {
	return fn(ctx, r)
}

func (r *handlerTestRepo) UpdateNextBlockNumberToHandleFromInTxn(ctx context.Context, txn TxnClient, contractAddressID int32, nextBlockNumber int64) error {
	if r.handled == nil {
		r.handled = make(map[int32]int64)
	}
	r.handled[contractAddressID] = nextBlockNumber
	return nil
}

func TestDispatchForAddressInvokesHandlersInBlockAndLogIndexOrder(t *testing.T) {
	var seen []Event
	handlersBySig := map[string]EventHandler{
		"Transfer(address,address,uint256)": recordingHandler{events: &seen},
	}

	repo := &handlerTestRepo{
		events: []Event{
			{ID: "c", ContractAddress: "0xabc", ABI: "Transfer(address,address,uint256)", BlockNumber: 11, LogIndex: 0},
			{ID: "a", ContractAddress: "0xabc", ABI: "Transfer(address,address,uint256)", BlockNumber: 10, LogIndex: 1},
			{ID: "b", ContractAddress: "0xabc", ABI: "Transfer(address,address,uint256)", BlockNumber: 10, LogIndex: 0},
		},
	}
	addr := ContractAddress{ID: 1, Address: "0xabc", NextBlockNumberToHandleFrom: 0}
	runner := &EventHandlerRunner{handlersBySig: handlersBySig}

	if err := runner.dispatchForAddress(context.Background(), repo, repo, addr); err != nil {
		t.Fatalf("dispatchForAddress: %v", err)
	}

	if len(seen) != 3 {
		t.Fatalf("got %d handled events, want 3", len(seen))
	}
	gotIDs := []string{seen[0].ID, seen[1].ID, seen[2].ID}
	wantIDs := []string{"b", "a", "c"}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("got order %v, want %v", gotIDs, wantIDs)
		}
	}
	if repo.handled[1] != 12 {
		t.Fatalf("got next_block_number_to_handle_from=%d, want 12", repo.handled[1])
	}
}

func TestDispatchForAddressSkipsRemovedEventsButStillAdvancesCursor(t *testing.T) {
	var seen []Event
	handlersBySig := map[string]EventHandler{
		"Transfer(address,address,uint256)": recordingHandler{events: &seen},
	}

	repo := &handlerTestRepo{
		events: []Event{
			{ID: "a", ContractAddress: "0xabc", ABI: "Transfer(address,address,uint256)", BlockNumber: 10, LogIndex: 0, Removed: true},
		},
	}
	addr := ContractAddress{ID: 1, Address: "0xabc"}
	runner := &EventHandlerRunner{handlersBySig: handlersBySig}

	if err := runner.dispatchForAddress(context.Background(), repo, repo, addr); err != nil {
		t.Fatalf("dispatchForAddress: %v", err)
	}

	if len(seen) != 0 {
		t.Fatalf("expected removed event not to be handled, got %d", len(seen))
	}
	if repo.handled[1] != 11 {
		t.Fatalf("got next_block_number_to_handle_from=%d, want 11 (cursor still advances past removed events)", repo.handled[1])
	}
}
