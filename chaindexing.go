// Package chaindexing indexes EVM contract events into user-defined
// Postgres state tables, reconciling chain reorgs against a trailing
// confirmation window.
package chaindexing

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/chaindexing-go/chaindexing/contractstates"
)

// Start validates config, plans and runs pending state migrations, registers
// every configured contract address, and launches the ingester and handler
// runner. It returns once both loops have stopped, which happens when ctx is
// cancelled: a failed ingestion or handler tick, including a handler error,
// is logged and retried on the next tick and does not end Start.
func Start(ctx context.Context, config Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("chaindexing: invalid config: %w", err)
	}

	// Migration validation happens before any DB work (§7: "an invalid
	// column type crashes before any DB work").
	migrationsByContract, resetMigrationsByContract, err := planStateMigrations(config.Contracts)
	if err != nil {
		return fmt.Errorf("chaindexing: invalid state migrations: %w", err)
	}

	repo := config.Repo
	pool, err := repo.GetPool(ctx, 5)
	if err != nil {
		return fmt.Errorf("chaindexing: get pool: %w", err)
	}
	conn, err := repo.GetConn(ctx, pool)
	if err != nil {
		return fmt.Errorf("chaindexing: get conn: %w", err)
	}

	if config.ResetCount > 0 {
		log.Info("chaindexing: reset requested, dropping state tables and truncating ingestion state", "resetCount", config.ResetCount)
		for _, contract := range config.Contracts {
			resetMigrations := resetMigrationsByContract[contract.Name]
			if len(resetMigrations) == 0 {
				continue
			}
			if err := repo.ResetMigrations(ctx, conn, resetMigrations); err != nil {
				return fmt.Errorf("chaindexing: reset migrations for %q: %w", contract.Name, err)
			}
		}
		if err := repo.TruncateForReset(ctx, conn); err != nil {
			return fmt.Errorf("chaindexing: truncate for reset: %w", err)
		}
	}

	for _, contract := range config.Contracts {
		migrations := migrationsByContract[contract.Name]
		if len(migrations) == 0 {
			continue
		}
		if err := repo.RunMigrations(ctx, conn, migrations); err != nil {
			return fmt.Errorf("chaindexing: run migrations for %q: %w", contract.Name, err)
		}
	}

	if err := registerContractAddresses(ctx, repo, conn, config.Contracts); err != nil {
		return fmt.Errorf("chaindexing: register contract addresses: %w", err)
	}

	log.Info("chaindexing: starting",
		"chains", len(config.Chains),
		"contracts", len(config.Contracts),
		"blocksPerBatch", config.BlocksPerBatch,
		"minConfirmationCount", config.MinConfirmationCount,
	)

	ingester, err := NewEventsIngester(ctx, config)
	if err != nil {
		return fmt.Errorf("chaindexing: build ingester: %w", err)
	}
	handlerRunner := NewEventHandlerRunner(config)

	errCh := make(chan error, 2)
	go func() { errCh <- ingester.Start(ctx) }()
	go func() { errCh <- handlerRunner.Start(ctx) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil && err != context.Canceled {
			firstErr = err
		}
	}
	return firstErr
}

// planStateMigrations expands every contract's declared StateMigrations
// through contractstates.GetMigrations/GetResetMigrations up front, so a
// malformed DDL declaration fails Start before any connection is opened.
// Contracts with no StateMigrations declared are skipped.
func planStateMigrations(contracts Contracts) (migrationsByContract, resetMigrationsByContract map[string][]string, err error) {
	migrationsByContract = make(map[string][]string, len(contracts))
	resetMigrationsByContract = make(map[string][]string, len(contracts))

	for _, contract := range contracts {
		if contract.StateMigrations == nil {
			continue
		}

		migrations, err := contractstates.GetMigrations(contract.StateMigrations)
		if err != nil {
			return nil, nil, fmt.Errorf("contract %q: %w", contract.Name, NewMigrationValidationError(err.Error()))
		}
		resetMigrations, err := contractstates.GetResetMigrations(contract.StateMigrations)
		if err != nil {
			return nil, nil, fmt.Errorf("contract %q: %w", contract.Name, NewMigrationValidationError(err.Error()))
		}

		migrationsByContract[contract.Name] = migrations
		resetMigrationsByContract[contract.Name] = resetMigrations
	}

	return migrationsByContract, resetMigrationsByContract, nil
}

// registerContractAddresses seeds a fresh ContractAddress cursor row for
// every address initializer declared on every contract, skipping addresses
// already present is left to the repo driver (expected to upsert/ignore
// conflicts on (chain_id, address, contract_name), matching the original's
// registration-time idempotence).
func registerContractAddresses(ctx context.Context, repo Repo, conn Conn, contracts Contracts) error {
	return repo.RunInTransaction(ctx, conn, func(ctx context.Context, txn TxnClient) error {
		for _, contract := range contracts {
			for _, addrCfg := range contract.Addresses {
				addr := NewContractAddress(addrCfg.ChainID, addrCfg.Address, contract.Name, addrCfg.StartBlockNumber)
				if err := upsertContractAddress(ctx, repo, txn, addr); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// upsertContractAddress calls the repo's optional RegisterContractAddress
// method, which both reference drivers implement as an idempotent insert
// inside the registration transaction. A repo without that method registers
// nothing here.
func upsertContractAddress(ctx context.Context, repo Repo, txn TxnClient, addr ContractAddress) error {
	type contractAddressRegistrar interface {
		RegisterContractAddress(ctx context.Context, txn TxnClient, addr ContractAddress) error
	}
	if registrar, ok := repo.(contractAddressRegistrar); ok {
		return registrar.RegisterContractAddress(ctx, txn, addr)
	}
	return nil
}
