// Package memory is an in-process reference chaindexing.Repo, grounded on
// the same contract the postgres driver implements, suitable for tests and
// local experimentation without a database.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/chaindexing-go/chaindexing"
)

const streamPageSize = 100

// Repo is a mutex-guarded, single-process chaindexing.Repo. Its Pool/Conn
// handles are the Repo itself; "transactions" are not atomic, matching the
// reduced guarantees acceptable for tests.
type Repo struct {
	mu            sync.Mutex
	addresses     []chaindexing.ContractAddress
	nextAddressID int32
	events        []chaindexing.Event
	reorgedBlocks []chaindexing.ReorgedBlock
}

// New builds an empty in-memory repository.
func New() *Repo {
	return &Repo{}
}

func (r *Repo) GetPool(ctx context.Context, maxSize int) (chaindexing.Pool, error) {
	return r, nil
}

func (r *Repo) GetConn(ctx context.Context, pool chaindexing.Pool) (chaindexing.Conn, error) {
	return r, nil
}

func (r *Repo) RunInTransaction(ctx context.Context, conn chaindexing.Conn, fn func(ctx context.Context, txn chaindexing.TxnClient) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, r)
}

func (r *Repo) GetRawQueryTxnClient(ctx context.Context, conn chaindexing.Conn) (chaindexing.TxnClient, error) {
	return r, nil
}

func (r *Repo) CommitRawQueryTxn(ctx context.Context, txn chaindexing.TxnClient) error {
	return nil
}

type addressStream struct {
	repo   *Repo
	offset int
}

func (r *Repo) GetContractAddressesStream(conn chaindexing.Conn) chaindexing.ContractAddressStream {
	return &addressStream{repo: r}
}

func (s *addressStream) Next(ctx context.Context) ([]chaindexing.ContractAddress, error) {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()

	if s.offset >= len(s.repo.addresses) {
		return nil, nil
	}
	end := min(s.offset+streamPageSize, len(s.repo.addresses))
	page := append([]chaindexing.ContractAddress(nil), s.repo.addresses[s.offset:end]...)
	s.offset = end
	return page, nil
}

type eventStream struct {
	repo            *Repo
	address         string
	fromBlockNumber int64
	offset          int
	matches         []chaindexing.Event
	loaded          bool
}

func (r *Repo) GetEventsStream(conn chaindexing.Conn, address string, fromBlockNumber int64) chaindexing.EventStream {
	return &eventStream{repo: r, address: address, fromBlockNumber: fromBlockNumber}
}

func (s *eventStream) Next(ctx context.Context) ([]chaindexing.Event, error) {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()

	if !s.loaded {
		for _, e := range s.repo.events {
			if strings.EqualFold(e.ContractAddress, s.address) && e.BlockNumber >= s.fromBlockNumber {
				s.matches = append(s.matches, e)
			}
		}
		chaindexing.SortEventsByBlockAndLogIndex(s.matches)
		s.loaded = true
	}

	if s.offset >= len(s.matches) {
		return nil, nil
	}
	end := min(s.offset+streamPageSize, len(s.matches))
	page := append([]chaindexing.Event(nil), s.matches[s.offset:end]...)
	s.offset = end
	return page, nil
}

func (r *Repo) GetEvents(ctx context.Context, conn chaindexing.Conn, address string, fromBlockNumber, toBlockNumber int64) ([]chaindexing.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matches []chaindexing.Event
	for _, e := range r.events {
		if strings.EqualFold(e.ContractAddress, address) && e.BlockNumber >= fromBlockNumber && e.BlockNumber <= toBlockNumber {
			matches = append(matches, e)
		}
	}
	chaindexing.SortEventsByBlockAndLogIndex(matches)
	return matches, nil
}

func (r *Repo) CreateEvents(ctx context.Context, txn chaindexing.TxnClient, events []chaindexing.Event) error {
	for _, e := range events {
		if r.eventExists(e) {
			continue
		}
		r.events = append(r.events, e)
	}
	return nil
}

func (r *Repo) eventExists(e chaindexing.Event) bool {
	for _, existing := range r.events {
		if strings.EqualFold(existing.ContractAddress, e.ContractAddress) &&
			existing.TransactionHash == e.TransactionHash &&
			existing.LogIndex == e.LogIndex &&
			existing.BlockHash == e.BlockHash {
			return true
		}
	}
	return false
}

func (r *Repo) DeleteEventsByIDs(ctx context.Context, txn chaindexing.TxnClient, ids []string) error {
	toDelete := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		toDelete[id] = struct{}{}
	}
	kept := r.events[:0:0]
	for _, e := range r.events {
		if _, marked := toDelete[e.ID]; marked {
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return nil
}

func (r *Repo) CreateReorgedBlock(ctx context.Context, txn chaindexing.TxnClient, block *chaindexing.UnsavedReorgedBlock) error {
	r.reorgedBlocks = append(r.reorgedBlocks, chaindexing.ReorgedBlock{
		ChainID:     block.ChainID,
		BlockNumber: block.BlockNumber,
		InsertedAt:  time.Now().UTC(),
	})
	return nil
}

// UpdateNextBlockNumberToIngestFrom is called from inside the ingest
// transaction (see chaindexing.Repo), so it must not re-acquire r.mu: the
// surrounding RunInTransaction call already holds it.
func (r *Repo) UpdateNextBlockNumberToIngestFrom(ctx context.Context, conn chaindexing.Conn, contractAddressID int32, nextBlockNumber int64) error {
	return r.updateAddress(contractAddressID, func(addr *chaindexing.ContractAddress) {
		addr.NextBlockNumberToIngestFrom = nextBlockNumber
	})
}

func (r *Repo) UpdateNextBlockNumberToHandleFromInTxn(ctx context.Context, txn chaindexing.TxnClient, contractAddressID int32, nextBlockNumber int64) error {
	return r.updateAddress(contractAddressID, func(addr *chaindexing.ContractAddress) {
		addr.NextBlockNumberToHandleFrom = nextBlockNumber
	})
}

func (r *Repo) updateAddress(id int32, mutate func(*chaindexing.ContractAddress)) error {
	for i := range r.addresses {
		if r.addresses[i].ID == id {
			mutate(&r.addresses[i])
			return nil
		}
	}
	return fmt.Errorf("memory repo: contract address %d not found", id)
}

// RegisterContractAddress implements the optional upsert seam chaindexing.Start
// looks for, assigning a fresh ID the first time an address is seen and
// leaving an already-registered address untouched.
func (r *Repo) RegisterContractAddress(ctx context.Context, txn chaindexing.TxnClient, addr chaindexing.ContractAddress) error {
	for _, existing := range r.addresses {
		if existing.ChainID == addr.ChainID && strings.EqualFold(existing.Address, addr.Address) && existing.ContractName == addr.ContractName {
			return nil
		}
	}
	r.nextAddressID++
	addr.ID = r.nextAddressID
	r.addresses = append(r.addresses, addr)
	return nil
}

func (r *Repo) RunMigrations(ctx context.Context, conn chaindexing.Conn, migrations []string) error {
	for _, m := range migrations {
		log.Debug("chaindexing/memory: applying migration", "sql", m)
	}
	return nil
}

func (r *Repo) ResetMigrations(ctx context.Context, conn chaindexing.Conn, resetMigrations []string) error {
	for _, m := range resetMigrations {
		log.Debug("chaindexing/memory: applying reset migration", "sql", m)
	}
	return nil
}

func (r *Repo) TruncateForReset(ctx context.Context, conn chaindexing.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.addresses = nil
	r.reorgedBlocks = nil
	return nil
}

// Addresses returns a snapshot of every registered contract address, for
// assertions in tests.
func (r *Repo) Addresses() []chaindexing.ContractAddress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chaindexing.ContractAddress(nil), r.addresses...)
}

// Events returns a snapshot of every stored event, sorted by (block_number,
// log_index), for assertions in tests.
func (r *Repo) Events() []chaindexing.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := append([]chaindexing.Event(nil), r.events...)
	chaindexing.SortEventsByBlockAndLogIndex(events)
	return events
}

// ReorgedBlocks returns a snapshot of every reorg marker written so far.
func (r *Repo) ReorgedBlocks() []chaindexing.ReorgedBlock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chaindexing.ReorgedBlock(nil), r.reorgedBlocks...)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var _ chaindexing.Repo = (*Repo)(nil)
