package chaindexing

import "context"

// Pool, Conn and TxnClient are opaque handles owned by the repository
// driver (§6); the core never inspects them, it only threads them through
// Repo calls. A concrete driver (see repository/postgres) defines what they
// actually are (e.g. *pgxpool.Pool, *pgxpool.Conn, *sqlx.Tx).
type (
	Pool      any
	Conn      any
	TxnClient any
)

// ContractAddressStream pages through ContractAddress rows. Repo
// implementations decide page size; callers must call Next until it returns
// an empty (nil or zero-length) page, matching the "open a stream, loop while pages remain"
// pattern of §4.B/§4.D.
type ContractAddressStream interface {
	Next(ctx context.Context) ([]ContractAddress, error)
}

// EventStream pages through Event rows ordered by block_number ascending,
// starting at a given block.
type EventStream interface {
	Next(ctx context.Context) ([]Event, error)
}

// Repo is the storage facade the core depends on (§6). It is a pluggable
// collaborator: this module specifies only the operations consumed here,
// not how they're implemented. repository/memory and repository/postgres
// are reference implementations.
type Repo interface {
	GetPool(ctx context.Context, maxSize int) (Pool, error)
	GetConn(ctx context.Context, pool Pool) (Conn, error)

	GetContractAddressesStream(conn Conn) ContractAddressStream
	GetEventsStream(conn Conn, address string, fromBlockNumber int64) EventStream
	GetEvents(ctx context.Context, conn Conn, address string, fromBlockNumber, toBlockNumber int64) ([]Event, error)

	CreateEvents(ctx context.Context, txn TxnClient, events []Event) error
	DeleteEventsByIDs(ctx context.Context, txn TxnClient, ids []string) error
	CreateReorgedBlock(ctx context.Context, txn TxnClient, block *UnsavedReorgedBlock) error

	// UpdateNextBlockNumberToIngestFrom runs inside the ingest transaction
	// (§6); conn here is expected to already be txn-scoped by the caller
	// the way the original threads a single connection through
	// `run_in_transaction`.
	UpdateNextBlockNumberToIngestFrom(ctx context.Context, conn Conn, contractAddressID int32, nextBlockNumber int64) error
	UpdateNextBlockNumberToHandleFromInTxn(ctx context.Context, txn TxnClient, contractAddressID int32, nextBlockNumber int64) error

	RunInTransaction(ctx context.Context, conn Conn, fn func(ctx context.Context, txn TxnClient) error) error
	GetRawQueryTxnClient(ctx context.Context, conn Conn) (TxnClient, error)
	CommitRawQueryTxn(ctx context.Context, txn TxnClient) error

	// RunMigrations and ResetMigrations apply the ContractStateMigrations
	// planner's output (§4.A) and its reset counterpart, respectively.
	RunMigrations(ctx context.Context, conn Conn, migrations []string) error
	ResetMigrations(ctx context.Context, conn Conn, resetMigrations []string) error

	// TruncateForReset drops/truncates chaindexing_events and
	// chaindexing_contract_addresses as part of an out-of-band reset (§4,
	// "State machine" section).
	TruncateForReset(ctx context.Context, conn Conn) error
}

// EventHandlerContext is handed to a handler for the duration of one
// invocation (§6 design notes: handlers must not escape the txn client from
// the call scope).
type EventHandlerContext struct {
	Event Event
	Txn   TxnClient
}

// NewEventHandlerContext builds the per-invocation context an
// EventHandlerRunner hands to a matched handler.
func NewEventHandlerContext(event Event, txn TxnClient) *EventHandlerContext {
	return &EventHandlerContext{Event: event, Txn: txn}
}

// EventHandler is the user extension point folding one decoded event into
// contract state (§9: "polymorphic over the capability set
// {handle_event(ctx)}, variant-per-user-type"). Implementations write to
// both the view table and the version table through ctx.Txn.
type EventHandler interface {
	HandleEvent(ctx context.Context, ectx *EventHandlerContext) error
}
