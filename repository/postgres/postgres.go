// Package postgres is the reference sqlx/lib-pq-backed chaindexing.Repo
// (§6 "Persisted schema"). It owns the chaindexing_contract_addresses,
// chaindexing_events, and chaindexing_reorged_blocks tables and defers to
// contractstates-planned DDL for user state tables.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/chaindexing-go/chaindexing"
)

const streamPageSize = 500

// Repo is a chaindexing.Repo backed by a Postgres database reached through
// sqlx. Pool and Conn are both *sqlx.DB: the driver's own pool already
// multiplexes concurrent callers, so "checking out a connection" is a
// no-op here (§5's connection-pool sharing policy is satisfied by the
// pool itself rather than a manual checkout).
type Repo struct {
	dataSourceName string
}

// New builds a postgres-backed Repo dialing dataSourceName on GetPool.
func New(dataSourceName string) *Repo {
	return &Repo{dataSourceName: dataSourceName}
}

// GetPool opens the sqlx pool against the configured DSN, capped at
// maxSize open connections (§6 "get_pool(max_size) -> Pool").
func (r *Repo) GetPool(ctx context.Context, maxSize int) (chaindexing.Pool, error) {
	db, err := sqlx.Open("postgres", r.dataSourceName)
	if err != nil {
		return nil, chaindexing.ErrRepoUnknown(fmt.Sprintf("open: %v", err))
	}
	db.SetMaxOpenConns(maxSize)
	if err := db.PingContext(ctx); err != nil {
		return nil, chaindexing.ErrRepoNotConnected()
	}
	return db, nil
}

// GetConn returns pool itself: sqlx.DB is already a connection-pooled
// handle, so acquiring a logical "connection" is just threading the same
// *sqlx.DB through (matching the `Conn = any` seam in chaindexing.Repo).
func (r *Repo) GetConn(ctx context.Context, pool chaindexing.Pool) (chaindexing.Conn, error) {
	db, ok := pool.(*sqlx.DB)
	if !ok {
		return nil, chaindexing.ErrRepoNotConnected()
	}
	return db, nil
}

func asDB(conn chaindexing.Conn) (*sqlx.DB, error) {
	db, ok := conn.(*sqlx.DB)
	if !ok {
		return nil, chaindexing.ErrRepoNotConnected()
	}
	return db, nil
}

func asExecer(txn chaindexing.TxnClient) (sqlx.ExtContext, error) {
	switch v := txn.(type) {
	case *sqlx.Tx:
		return v, nil
	case *sqlx.DB:
		return v, nil
	default:
		return nil, chaindexing.ErrRepoUnknown("txn client is not a *sqlx.Tx/*sqlx.DB")
	}
}

// RunInTransaction opens one *sqlx.Tx, runs fn, and commits on success or
// rolls back on error/panic, the boundary every ingest batch, reorg diff,
// and handler page runs inside (§5 "Atomicity boundaries").
func (r *Repo) RunInTransaction(ctx context.Context, conn chaindexing.Conn, fn func(ctx context.Context, txn chaindexing.TxnClient) error) error {
	db, err := asDB(conn)
	if err != nil {
		return err
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return chaindexing.ErrRepoUnknown(fmt.Sprintf("begin tx: %v", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return chaindexing.ErrRepoUnknown(fmt.Sprintf("commit tx: %v", err))
	}
	return nil
}

// GetRawQueryTxnClient opens a dedicated transaction for handler writes
// (§5: "a dedicated raw-SQL client is used for handler transactions so
// that streaming a query result and running DDL-adjacent handler writes do
// not deadlock"). The caller commits it explicitly via CommitRawQueryTxn.
// The EventHandlerRunner does not use it: it runs each handler page inside
// RunInTransaction.
func (r *Repo) GetRawQueryTxnClient(ctx context.Context, conn chaindexing.Conn) (chaindexing.TxnClient, error) {
	db, err := asDB(conn)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, chaindexing.ErrRepoUnknown(fmt.Sprintf("begin raw txn: %v", err))
	}
	return tx, nil
}

// CommitRawQueryTxn commits a transaction handed out by
// GetRawQueryTxnClient.
func (r *Repo) CommitRawQueryTxn(ctx context.Context, txn chaindexing.TxnClient) error {
	tx, ok := txn.(*sqlx.Tx)
	if !ok {
		return chaindexing.ErrRepoUnknown("CommitRawQueryTxn: not a *sqlx.Tx")
	}
	if err := tx.Commit(); err != nil {
		return chaindexing.ErrRepoUnknown(fmt.Sprintf("commit raw txn: %v", err))
	}
	return nil
}

// contractAddressRow mirrors chaindexing_contract_addresses (§6).
type contractAddressRow struct {
	ID                          int32  `db:"id"`
	ChainID                     int64  `db:"chain_id"`
	Address                     string `db:"address"`
	ContractName                string `db:"contract_name"`
	StartBlockNumber            int64  `db:"start_block_number"`
	NextBlockNumberToIngestFrom int64  `db:"last_ingested_block_number"`
	NextBlockNumberToHandleFrom int64  `db:"last_handled_block_number"`
}

func (row contractAddressRow) toDomain() chaindexing.ContractAddress {
	return chaindexing.ContractAddress{
		ID:                          row.ID,
		ChainID:                     row.ChainID,
		Address:                     row.Address,
		ContractName:                row.ContractName,
		StartBlockNumber:            row.StartBlockNumber,
		NextBlockNumberToIngestFrom: row.NextBlockNumberToIngestFrom,
		NextBlockNumberToHandleFrom: row.NextBlockNumberToHandleFrom,
	}
}

// RegisterContractAddress upserts a contract address registration,
// matching on (chain_id, address, contract_name) and leaving an
// already-registered row's cursors untouched (chaindexing.Start's
// registration-time idempotence contract).
func (r *Repo) RegisterContractAddress(ctx context.Context, txn chaindexing.TxnClient, addr chaindexing.ContractAddress) error {
	execer, err := asExecer(txn)
	if err != nil {
		return err
	}
	_, err = sqlx.ExecContext(ctx, execer, `
		INSERT INTO chaindexing_contract_addresses
			(chain_id, address, contract_name, start_block_number, last_ingested_block_number, last_handled_block_number)
		VALUES ($1, $2, $3, $4, $4, $4)
		ON CONFLICT (chain_id, address, contract_name) DO NOTHING`,
		addr.ChainID, strings.ToLower(addr.Address), addr.ContractName, addr.StartBlockNumber,
	)
	if err != nil {
		return chaindexing.ErrRepoUnknown(fmt.Sprintf("register contract address: %v", err))
	}
	return nil
}

type contractAddressStream struct {
	db     *sqlx.DB
	offset int
}

func (r *Repo) GetContractAddressesStream(conn chaindexing.Conn) chaindexing.ContractAddressStream {
	db, _ := asDB(conn)
	return &contractAddressStream{db: db}
}

func (s *contractAddressStream) Next(ctx context.Context) ([]chaindexing.ContractAddress, error) {
	if s.db == nil {
		return nil, chaindexing.ErrRepoNotConnected()
	}
	var rows []contractAddressRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, chain_id, address, contract_name, start_block_number,
		       last_ingested_block_number, last_handled_block_number
		FROM chaindexing_contract_addresses
		ORDER BY id
		LIMIT $1 OFFSET $2`, streamPageSize, s.offset)
	if err != nil {
		return nil, chaindexing.ErrRepoUnknown(fmt.Sprintf("stream contract addresses: %v", err))
	}
	s.offset += len(rows)

	out := make([]chaindexing.ContractAddress, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// eventRow mirrors chaindexing_events (§6).
type eventRow struct {
	ID               string          `db:"id"`
	ContractAddress  string          `db:"contract_address"`
	ContractName     string          `db:"contract_name"`
	ABI              string          `db:"abi"`
	LogParams        json.RawMessage `db:"log_params"`
	Parameters       json.RawMessage `db:"parameters"`
	Topics           json.RawMessage `db:"topics"`
	BlockHash        string          `db:"block_hash"`
	BlockNumber      int64           `db:"block_number"`
	TransactionHash  string          `db:"transaction_hash"`
	TransactionIndex int64           `db:"transaction_index"`
	LogIndex         int64           `db:"log_index"`
	Removed          bool            `db:"removed"`
}

func (row eventRow) toDomain() (chaindexing.Event, error) {
	event := chaindexing.Event{
		ID:               row.ID,
		ContractAddress:  row.ContractAddress,
		ContractName:     row.ContractName,
		ABI:              row.ABI,
		BlockHash:        row.BlockHash,
		BlockNumber:      row.BlockNumber,
		TransactionHash:  row.TransactionHash,
		TransactionIndex: row.TransactionIndex,
		LogIndex:         row.LogIndex,
		Removed:          row.Removed,
	}
	if len(row.LogParams) > 0 {
		if err := json.Unmarshal(row.LogParams, &event.LogParams); err != nil {
			return event, fmt.Errorf("unmarshal log_params: %w", err)
		}
	}
	if len(row.Parameters) > 0 {
		if err := json.Unmarshal(row.Parameters, &event.Parameters); err != nil {
			return event, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if len(row.Topics) > 0 {
		if err := json.Unmarshal(row.Topics, &event.Topics); err != nil {
			return event, fmt.Errorf("unmarshal topics: %w", err)
		}
	}
	return event, nil
}

func rowsToEvents(rows []eventRow) ([]chaindexing.Event, error) {
	events := make([]chaindexing.Event, 0, len(rows))
	for _, row := range rows {
		event, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

type eventStream struct {
	db              *sqlx.DB
	address         string
	fromBlockNumber int64
	offset          int
}

func (r *Repo) GetEventsStream(conn chaindexing.Conn, address string, fromBlockNumber int64) chaindexing.EventStream {
	db, _ := asDB(conn)
	return &eventStream{db: db, address: address, fromBlockNumber: fromBlockNumber}
}

func (s *eventStream) Next(ctx context.Context) ([]chaindexing.Event, error) {
	if s.db == nil {
		return nil, chaindexing.ErrRepoNotConnected()
	}
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, contract_address, contract_name, abi, log_params, parameters, topics,
		       block_hash, block_number, transaction_hash, transaction_index, log_index, removed
		FROM chaindexing_events
		WHERE lower(contract_address) = lower($1) AND block_number >= $2
		ORDER BY block_number, log_index
		LIMIT $3 OFFSET $4`, s.address, s.fromBlockNumber, streamPageSize, s.offset)
	if err != nil {
		return nil, chaindexing.ErrRepoUnknown(fmt.Sprintf("stream events: %v", err))
	}
	s.offset += len(rows)
	return rowsToEvents(rows)
}

// GetEvents loads every event for address within [fromBlockNumber,
// toBlockNumber], the confirmation-window read the reorg reconciler diffs
// against (§4.C step 2).
func (r *Repo) GetEvents(ctx context.Context, conn chaindexing.Conn, address string, fromBlockNumber, toBlockNumber int64) ([]chaindexing.Event, error) {
	db, err := asDB(conn)
	if err != nil {
		return nil, err
	}
	var rows []eventRow
	err = db.SelectContext(ctx, &rows, `
		SELECT id, contract_address, contract_name, abi, log_params, parameters, topics,
		       block_hash, block_number, transaction_hash, transaction_index, log_index, removed
		FROM chaindexing_events
		WHERE lower(contract_address) = lower($1) AND block_number BETWEEN $2 AND $3
		ORDER BY block_number, log_index`, address, fromBlockNumber, toBlockNumber)
	if err != nil {
		return nil, chaindexing.ErrRepoUnknown(fmt.Sprintf("get events: %v", err))
	}
	return rowsToEvents(rows)
}

// CreateEvents bulk-inserts events inside the caller's transaction,
// tolerating a (transaction_hash, log_index, block_hash) conflict so a
// confirmation-window re-ingest of an unchanged event is a no-op (§3
// Event's identity invariant).
func (r *Repo) CreateEvents(ctx context.Context, txn chaindexing.TxnClient, events []chaindexing.Event) error {
	if len(events) == 0 {
		return nil
	}
	execer, err := asExecer(txn)
	if err != nil {
		return err
	}
	for _, e := range events {
		logParams, err := json.Marshal(e.LogParams)
		if err != nil {
			return fmt.Errorf("marshal log_params: %w", err)
		}
		parameters, err := json.Marshal(e.Parameters)
		if err != nil {
			return fmt.Errorf("marshal parameters: %w", err)
		}
		topics, err := json.Marshal(e.Topics)
		if err != nil {
			return fmt.Errorf("marshal topics: %w", err)
		}
		_, err = sqlx.ExecContext(ctx, execer, `
			INSERT INTO chaindexing_events
				(id, contract_address, contract_name, abi, log_params, parameters, topics,
				 block_hash, block_number, transaction_hash, transaction_index, log_index, removed, inserted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
			ON CONFLICT (transaction_hash, log_index, block_hash) DO NOTHING`,
			e.ID, e.ContractAddress, e.ContractName, e.ABI, logParams, parameters, topics,
			e.BlockHash, e.BlockNumber, e.TransactionHash, e.TransactionIndex, e.LogIndex, e.Removed,
		)
		if err != nil {
			return chaindexing.ErrRepoUnknown(fmt.Sprintf("create event: %v", err))
		}
	}
	return nil
}

// DeleteEventsByIDs deletes events by surrogate id (§4.C step 6b).
func (r *Repo) DeleteEventsByIDs(ctx context.Context, txn chaindexing.TxnClient, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	execer, err := asExecer(txn)
	if err != nil {
		return err
	}
	query, args, err := sqlx.In("DELETE FROM chaindexing_events WHERE id IN (?)", ids)
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	if _, err := sqlx.ExecContext(ctx, execer, query, args...); err != nil {
		return chaindexing.ErrRepoUnknown(fmt.Sprintf("delete events: %v", err))
	}
	return nil
}

// CreateReorgedBlock records a reorg marker (§4.C step 6a).
func (r *Repo) CreateReorgedBlock(ctx context.Context, txn chaindexing.TxnClient, block *chaindexing.UnsavedReorgedBlock) error {
	execer, err := asExecer(txn)
	if err != nil {
		return err
	}
	_, err = sqlx.ExecContext(ctx, execer, `
		INSERT INTO chaindexing_reorged_blocks (chain_id, block_number, inserted_at)
		VALUES ($1, $2, now())`, block.ChainID, block.BlockNumber)
	if err != nil {
		return chaindexing.ErrRepoUnknown(fmt.Sprintf("create reorged block: %v", err))
	}
	return nil
}

// UpdateNextBlockNumberToIngestFrom runs the update on whatever handle conn
// is: the ingester passes the *sqlx.Tx of its enclosing RunInTransaction, so
// the cursor advance commits or rolls back together with that batch's
// events; a bare *sqlx.DB runs it as its own statement.
func (r *Repo) UpdateNextBlockNumberToIngestFrom(ctx context.Context, conn chaindexing.Conn, contractAddressID int32, nextBlockNumber int64) error {
	execer, err := asExecer(conn)
	if err != nil {
		db, dbErr := asDB(conn)
		if dbErr != nil {
			return err
		}
		execer = db
	}
	_, err = sqlx.ExecContext(ctx, execer, `
		UPDATE chaindexing_contract_addresses
		SET last_ingested_block_number = $1
		WHERE id = $2`, nextBlockNumber, contractAddressID)
	if err != nil {
		return chaindexing.ErrRepoUnknown(fmt.Sprintf("update ingest cursor: %v", err))
	}
	return nil
}

// UpdateNextBlockNumberToHandleFromInTxn advances the handle cursor inside
// the same raw-SQL transaction a handler page just wrote into (§4.D step e).
func (r *Repo) UpdateNextBlockNumberToHandleFromInTxn(ctx context.Context, txn chaindexing.TxnClient, contractAddressID int32, nextBlockNumber int64) error {
	execer, err := asExecer(txn)
	if err != nil {
		return err
	}
	_, err = sqlx.ExecContext(ctx, execer, `
		UPDATE chaindexing_contract_addresses
		SET last_handled_block_number = $1
		WHERE id = $2`, nextBlockNumber, contractAddressID)
	if err != nil {
		return chaindexing.ErrRepoUnknown(fmt.Sprintf("update handle cursor: %v", err))
	}
	return nil
}

// RunMigrations applies the contractstates planner's output DDL in order.
func (r *Repo) RunMigrations(ctx context.Context, conn chaindexing.Conn, migrations []string) error {
	db, err := asDB(conn)
	if err != nil {
		return err
	}
	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return chaindexing.ErrRepoUnknown(fmt.Sprintf("run migration %q: %v", migration, err))
		}
	}
	return nil
}

// ResetMigrations drops every state table the planner created (the
// state-machine reset transition, §4 "Resetting").
func (r *Repo) ResetMigrations(ctx context.Context, conn chaindexing.Conn, resetMigrations []string) error {
	return r.RunMigrations(ctx, conn, resetMigrations)
}

// TruncateForReset truncates the ingestion-owned tables as part of an
// out-of-band reset; user state tables are dropped separately via
// ResetMigrations.
func (r *Repo) TruncateForReset(ctx context.Context, conn chaindexing.Conn) error {
	db, err := asDB(conn)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `TRUNCATE chaindexing_events, chaindexing_contract_addresses, chaindexing_reorged_blocks`)
	if err != nil {
		return chaindexing.ErrRepoUnknown(fmt.Sprintf("truncate for reset: %v", err))
	}
	return nil
}

// CreateSchema applies the chaindexing-owned tables (§6 "Persisted
// schema"). Called once at startup before RunMigrations; safe to call
// repeatedly.
func CreateSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chaindexing_contract_addresses (
			id BIGSERIAL PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			address TEXT NOT NULL,
			contract_name TEXT NOT NULL,
			start_block_number BIGINT NOT NULL,
			last_ingested_block_number BIGINT NOT NULL,
			last_handled_block_number BIGINT NOT NULL,
			UNIQUE (chain_id, address, contract_name)
		);
		CREATE TABLE IF NOT EXISTS chaindexing_events (
			id UUID PRIMARY KEY,
			contract_address TEXT NOT NULL,
			contract_name TEXT NOT NULL,
			abi TEXT NOT NULL,
			log_params JSONB NOT NULL,
			parameters JSONB NOT NULL,
			topics JSONB NOT NULL,
			block_hash TEXT NOT NULL,
			block_number BIGINT NOT NULL,
			transaction_hash TEXT NOT NULL,
			transaction_index BIGINT NOT NULL,
			log_index BIGINT NOT NULL,
			removed BOOL NOT NULL DEFAULT false,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (transaction_hash, log_index, block_hash)
		);
		CREATE INDEX IF NOT EXISTS chaindexing_events_address_block_idx
			ON chaindexing_events (contract_address, block_number);
		CREATE TABLE IF NOT EXISTS chaindexing_reorged_blocks (
			id BIGSERIAL PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			block_number BIGINT NOT NULL,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return chaindexing.ErrRepoUnknown(fmt.Sprintf("create schema: %v", err))
	}
	return nil
}

var _ chaindexing.Repo = (*Repo)(nil)
