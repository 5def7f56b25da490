package chaindexing

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/chaindexing-go/chaindexing/internal/backoffutil"
)

// EventsIngester drives both the main ingestion frontier and the trailing
// reorg reconciliation window for every configured chain (§4.B, §4.C).
type EventsIngester struct {
	config   Config
	jsonRPCs map[int64]EventsIngesterJsonRpc
}

// NewEventsIngester builds an ingester for every chain in config. If
// config.JsonRpc is set it is shared across all chains (used by tests); in
// production each chain dials its own go-ethereum-backed client.
func NewEventsIngester(ctx context.Context, config Config) (*EventsIngester, error) {
	jsonRPCs := make(map[int64]EventsIngesterJsonRpc, len(config.Chains))
	for _, chain := range config.Chains {
		if config.JsonRpc != nil {
			jsonRPCs[chain.ChainID] = config.JsonRpc
			continue
		}
		client, err := NewEthJsonRpc(ctx, chain.ChainID, chain.RPCURL)
		if err != nil {
			return nil, err
		}
		jsonRPCs[chain.ChainID] = client
	}
	return &EventsIngester{config: config, jsonRPCs: jsonRPCs}, nil
}

// Start runs one ingestion+reconciliation loop per configured chain until
// ctx is cancelled (§5: one goroutine per chain, no cross-chain sharing of
// ingestion state).
func (ing *EventsIngester) Start(ctx context.Context) error {
	errCh := make(chan error, len(ing.config.Chains))
	for _, chain := range ing.config.Chains {
		go func(chainID int64) {
			errCh <- ing.runChainLoop(ctx, chainID)
		}(chain.ChainID)
	}

	var firstErr error
	for range ing.config.Chains {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (ing *EventsIngester) runChainLoop(ctx context.Context, chainID int64) error {
	interval := time.Duration(ing.config.IngestionIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ing.tick(ctx, chainID); err != nil {
			log.Error("chaindexing: ingestion tick failed", "chainID", chainID, "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (ing *EventsIngester) tick(ctx context.Context, chainID int64) error {
	done := ingestTickTimer.UpdateSince
	start := time.Now()
	defer func() { done(start) }()

	repo := ing.config.Repo
	jsonRPC := ing.jsonRPCs[chainID]

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
	addresses = filterByChain(addresses, chainID)
	if len(addresses) == 0 {
		return nil
	}

	currentBlockNumber, err := backoffutil.Retry(ctx, "get_block_number", func() (int64, error) {
		return jsonRPC.GetBlockNumber(ctx)
	})
	if err != nil {
		return fmt.Errorf("get current block number: %w", err)
	}

	if err := ing.ingestMain(ctx, repo, conn, jsonRPC, addresses, currentBlockNumber); err != nil {
		return fmt.Errorf("ingest main: %w", err)
	}
	if err := ing.reconcileReorgs(ctx, repo, conn, jsonRPC, addresses); err != nil {
		return fmt.Errorf("reconcile reorgs: %w", err)
	}
	return nil
}

// ingestMain implements §4.B: for each contract address with a non-empty
// window, fetch logs, decode them, and persist them while advancing the
// ingest cursor, all inside one transaction per address.
func (ing *EventsIngester) ingestMain(
	ctx context.Context,
	repo Repo,
	conn Conn,
	jsonRPC EventsIngesterJsonRpc,
	addresses []ContractAddress,
	currentBlockNumber int64,
) error {
	uningested := make([]ContractAddress, 0, len(addresses))
	for _, addr := range addresses {
		if currentBlockNumber > addr.NextBlockNumberToIngestFrom {
			uningested = append(uningested, addr)
		}
	}
	filters := BuildFilters(uningested, ing.config.Contracts, currentBlockNumber, ing.config.BlocksPerBatch, ExecutionMain())

	for _, filter := range filters {
		logs, err := backoffutil.Retry(ctx, "get_logs", func() ([]Event, error) {
			raw, err := jsonRPC.GetLogs(ctx, filter.ContractAddress.Address, filter.Topics, filter.FromBlock, filter.ToBlock)
			if err != nil {
				return nil, err
			}
			blocksByTxHash, err := jsonRPC.GetBlocksByTxHash(ctx, raw)
			if err != nil {
				return nil, err
			}
			return NewEvents(raw, ing.config.Contracts, blocksByTxHash)
		})
		if err != nil {
			return err
		}

		addr := filter.ContractAddress
		err = repo.RunInTransaction(ctx, conn, func(ctx context.Context, txn TxnClient) error {
			if len(logs) > 0 {
				if err := repo.CreateEvents(ctx, txn, logs); err != nil {
					return err
				}
				eventsPersistedMeter.Mark(int64(len(logs)))
			}
			return repo.UpdateNextBlockNumberToIngestFrom(ctx, txn, addr.ID, filter.ToBlock+1)
		})
		if err != nil {
			return fmt.Errorf("persist events for %s: %w", addr.Address, err)
		}
	}
	return nil
}

// reconcileReorgs implements §4.C: re-fetch each address's trailing
// confirmation window, diff against storage, and apply any detected reorg
// as one delete+insert+marker transaction.
func (ing *EventsIngester) reconcileReorgs(
	ctx context.Context,
	repo Repo,
	conn Conn,
	jsonRPC EventsIngesterJsonRpc,
	addresses []ContractAddress,
) error {
	execution := ExecutionConfirmation(ing.config.MinConfirmationCount)

	for _, addr := range addresses {
		filters := BuildFilters([]ContractAddress{addr}, ing.config.Contracts, 0, ing.config.BlocksPerBatch, execution)
		if len(filters) == 0 {
			continue
		}
		filter := filters[0]

		fresh, err := backoffutil.Retry(ctx, "get_logs_confirmation", func() ([]Event, error) {
			raw, err := jsonRPC.GetLogs(ctx, filter.ContractAddress.Address, filter.Topics, filter.FromBlock, filter.ToBlock)
			if err != nil {
				return nil, err
			}
			blocksByTxHash, err := jsonRPC.GetBlocksByTxHash(ctx, raw)
			if err != nil {
				return nil, err
			}
			return NewEvents(raw, ing.config.Contracts, blocksByTxHash)
		})
		if err != nil {
			return err
		}

		stored, err := repo.GetEvents(ctx, conn, addr.Address, filter.FromBlock, filter.ToBlock)
		if err != nil {
			return fmt.Errorf("get stored events for %s: %w", addr.Address, err)
		}

		diff := DiffEvents(stored, fresh)
		if !diff.IsReorg() {
			continue
		}

		earliest, ok := diff.EarliestBlockNumber()
		if !ok {
			log.Crit("chaindexing: reorg diff non-empty but no earliest block resolved", "address", addr.Address)
			return fmt.Errorf("reconcile %s: inconsistent reorg diff", addr.Address)
		}

		reorgsDetectedCounter.Inc(1)
		reorgedEventsRemoved.Mark(int64(len(diff.Removed)))
		log.Info("chaindexing: reorg detected", "address", addr.Address, "chainID", addr.ChainID, "earliestBlock", earliest, "added", len(diff.Added), "removed", len(diff.Removed))

		err = repo.RunInTransaction(ctx, conn, func(ctx context.Context, txn TxnClient) error {
			if err := repo.CreateReorgedBlock(ctx, txn, NewUnsavedReorgedBlock(earliest, addr.ChainID)); err != nil {
				return err
			}
			if len(diff.Removed) > 0 {
				ids := make([]string, len(diff.Removed))
				for i, e := range diff.Removed {
					ids[i] = e.ID
				}
				if err := repo.DeleteEventsByIDs(ctx, txn, ids); err != nil {
					return err
				}
			}
			if len(diff.Added) > 0 {
				if err := repo.CreateEvents(ctx, txn, diff.Added); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("apply reorg for %s: %w", addr.Address, err)
		}
	}
	return nil
}

func streamAllContractAddresses(ctx context.Context, stream ContractAddressStream) ([]ContractAddress, error) {
	var all []ContractAddress
	for {
		page, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
	}
	return all, nil
}

func filterByChain(addresses []ContractAddress, chainID int64) []ContractAddress {
	filtered := make([]ContractAddress, 0, len(addresses))
	for _, a := range addresses {
		if a.ChainID == chainID {
			filtered = append(filtered, a)
		}
	}
	return filtered
}
