package chaindexing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// EventHandlerRunner drives dispatch of stored events to user handlers
// (§4.D): one tick per HandlerIntervalMS, one pass per contract address,
// events delivered in (block_number, log_index) order inside one
// transaction per page.
type EventHandlerRunner struct {
	config        Config
	handlersBySig map[string]EventHandler
}

// NewEventHandlerRunner builds a runner from config's contract->handler
// bindings.
func NewEventHandlerRunner(config Config) *EventHandlerRunner {
	return &EventHandlerRunner{
		config:        config,
		handlersBySig: config.Contracts.EventHandlersBySignature(),
	}
}

// Start runs the handler dispatch loop until ctx is cancelled.
func (r *EventHandlerRunner) Start(ctx context.Context) error {
	interval := time.Duration(r.config.HandlerIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.tick(ctx); err != nil {
			log.Error("chaindexing: handler tick failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *EventHandlerRunner) tick(ctx context.Context) error {
	start := time.Now()
	defer func() { handleTickTimer.UpdateSince(start) }()

	repo := r.config.Repo
	pool, err := repo.GetPool(ctx, 5)
	if err != nil {
		return fmt.Errorf("get pool: %w", err)
	}
	conn, err := repo.GetConn(ctx, pool)
	if err != nil {
		return fmt.Errorf("get conn: %w", err)
	}

	addresses, err := streamAllContractAddresses(ctx, repo.GetContractAddressesStream(conn))
	if err != nil {
		return fmt.Errorf("stream contract addresses: %w", err)
	}

	for _, addr := range addresses {
		if err := r.dispatchForAddress(ctx, repo, conn, addr); err != nil {
			return fmt.Errorf("dispatch for %s: %w", addr.Address, err)
		}
	}
	return nil
}

func (r *EventHandlerRunner) dispatchForAddress(ctx context.Context, repo Repo, conn Conn, addr ContractAddress) error {
	stream := repo.GetEventsStream(conn, addr.Address, addr.NextBlockNumberToHandleFrom)

	for {
		page, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		SortEventsByBlockAndLogIndex(page)
		lastBlockNumber := page[len(page)-1].BlockNumber
		handleable := filterUnremovedForAddress(page, addr.Address)

		maxBlockNumber := addr.NextBlockNumberToHandleFrom
		if lastBlockNumber+1 > maxBlockNumber {
			maxBlockNumber = lastBlockNumber + 1
		}
		err = repo.RunInTransaction(ctx, conn, func(ctx context.Context, txn TxnClient) error {
			for _, event := range handleable {
				handler, ok := r.handlersBySig[event.ABI]
				if !ok {
					log.Warn("chaindexing: no handler bound for event, skipping", "abi", event.ABI, "contract", event.ContractName)
					continue
				}
				ectx := NewEventHandlerContext(event, txn)
				if err := handler.HandleEvent(ctx, ectx); err != nil {
					return fmt.Errorf("handle event %s: %w", event.ID, err)
				}
			}
			eventsHandledMeter.Mark(int64(len(handleable)))
			return repo.UpdateNextBlockNumberToHandleFromInTxn(ctx, txn, addr.ID, maxBlockNumber)
		})
		if err != nil {
			return err
		}
		addr.NextBlockNumberToHandleFrom = maxBlockNumber
	}
}

// filterUnremovedForAddress keeps events matching addr (defensive, the
// store query is expected to already scope to it) whose Removed flag is
// false (§4.D step b).
func filterUnremovedForAddress(page []Event, address string) []Event {
	kept := make([]Event, 0, len(page))
	for _, e := range page {
		if strings.EqualFold(e.ContractAddress, address) && !e.Removed {
			kept = append(kept, e)
		}
	}
	return kept
}
