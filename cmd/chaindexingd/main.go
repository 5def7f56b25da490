// Command chaindexingd is a reference daemon wiring chaindexing.Config from
// flags/a JSON contract manifest and running chaindexing.Start until a
// signal arrives. Real deployments are expected to embed the chaindexing
// package directly so they can register Go-native EventHandler
// implementations; this binary only demonstrates the ingestion/handling
// wiring with a logging handler, matching §1's framing of
// "user-authored handler ... code" as an external collaborator the core
// does not itself ship.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"

	"github.com/chaindexing-go/chaindexing"
	"github.com/chaindexing-go/chaindexing/repository/postgres"
)

var (
	databaseURLFlag = &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Postgres DSN chaindexing persists ingested events and state into",
		EnvVars:  []string{"CHAINDEXING_DATABASE_URL"},
		Required: true,
	}
	chainsFlag = &cli.StringSliceFlag{
		Name:    "chain",
		Usage:   "chain_id=json_rpc_url, repeatable",
		EnvVars: []string{"CHAINDEXING_CHAINS"},
	}
	contractsFileFlag = &cli.StringFlag{
		Name:    "contracts-file",
		Usage:   "path to a JSON manifest of contracts to index (see docs)",
		EnvVars: []string{"CHAINDEXING_CONTRACTS_FILE"},
	}
	blocksPerBatchFlag = &cli.Uint64Flag{
		Name:  "blocks-per-batch",
		Usage: "max block span per ingest/confirmation filter",
		Value: chaindexing.DefaultBlocksPerBatch,
	}
	ingestionIntervalMSFlag = &cli.Uint64Flag{
		Name:  "ingestion-interval-ms",
		Usage: "ingest tick period, in milliseconds",
		Value: chaindexing.DefaultIngestionIntervalMS,
	}
	handlerIntervalMSFlag = &cli.Uint64Flag{
		Name:  "handler-interval-ms",
		Usage: "handler tick period, in milliseconds",
		Value: chaindexing.DefaultHandlerIntervalMS,
	}
	minConfirmationCountFlag = &cli.Uint64Flag{
		Name:  "min-confirmation-count",
		Usage: "depth of the trailing reorg reconciliation window",
		Value: uint64(chaindexing.DefaultMinConfirmationCount),
	}
	resetCountFlag = &cli.Uint64Flag{
		Name:  "reset-count",
		Usage: "when above zero, drop state tables and truncate events/contract_addresses on every start",
		Value: 0,
	}
)

func main() {
	app := &cli.App{
		Name:  "chaindexingd",
		Usage: "EVM contract event indexer daemon",
		Flags: []cli.Flag{
			databaseURLFlag,
			chainsFlag,
			contractsFileFlag,
			blocksPerBatchFlag,
			ingestionIntervalMSFlag,
			handlerIntervalMSFlag,
			minConfirmationCountFlag,
			resetCountFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := createSchema(ctx, cliCtx.String(databaseURLFlag.Name)); err != nil {
		return fmt.Errorf("chaindexingd: %w", err)
	}

	config, err := buildConfig(cliCtx)
	if err != nil {
		return fmt.Errorf("chaindexingd: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("chaindexingd: received signal, shutting down", "signal", sig)
		cancel()
	}()

	return chaindexing.Start(ctx, config)
}

// createSchema opens its own short-lived connection to databaseURL and runs
// postgres.CreateSchema, so chaindexing_contract_addresses/chaindexing_events/
// chaindexing_reorged_blocks exist before Start registers any address
// (postgres.go's CreateSchema doc comment: "called once at startup before
// RunMigrations").
func createSchema(ctx context.Context, databaseURL string) error {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return postgres.CreateSchema(ctx, db)
}

func buildConfig(cliCtx *cli.Context) (chaindexing.Config, error) {
	repo := postgres.New(cliCtx.String(databaseURLFlag.Name))
	config := chaindexing.NewConfig(repo).
		WithBlocksPerBatch(cliCtx.Uint64(blocksPerBatchFlag.Name)).
		WithIngestionInterval(cliCtx.Uint64(ingestionIntervalMSFlag.Name)).
		WithHandlerInterval(cliCtx.Uint64(handlerIntervalMSFlag.Name)).
		WithMinConfirmationCount(chaindexing.MinConfirmationCount(cliCtx.Uint64(minConfirmationCountFlag.Name))).
		Reset(uint8(cliCtx.Uint64(resetCountFlag.Name)))

	for _, raw := range cliCtx.StringSlice(chainsFlag.Name) {
		chainID, rpcURL, err := parseChainFlag(raw)
		if err != nil {
			return chaindexing.Config{}, err
		}
		config = config.AddChain(chainID, rpcURL)
	}

	if path := cliCtx.String(contractsFileFlag.Name); path != "" {
		contracts, err := loadContractsManifest(path)
		if err != nil {
			return chaindexing.Config{}, fmt.Errorf("load contracts manifest: %w", err)
		}
		for _, contract := range contracts {
			config = config.AddContract(contract)
		}
	}

	return config, nil
}

func parseChainFlag(raw string) (int64, string, error) {
	parts := strings.SplitN(raw, "=", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid --chain %q, want chain_id=json_rpc_url", raw)
	}
	chainID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid --chain %q: %w", raw, err)
	}
	return chainID, parts[1], nil
}

// contractManifestEntry is the on-disk shape of one --contracts-file
// element: an ABI plus the addresses to index and the event signatures to
// log. Handler logic beyond logging is a library-embedding concern (see
// package doc comment above).
type contractManifestEntry struct {
	Name            string                          `json:"name"`
	ABIJSON         string                          `json:"abi_json"`
	EventSignatures []string                        `json:"event_signatures"`
	Addresses       []contractManifestAddressConfig `json:"addresses"`
}

type contractManifestAddressConfig struct {
	ChainID          int64  `json:"chain_id"`
	Address          string `json:"address"`
	StartBlockNumber int64  `json:"start_block_number"`
}

func loadContractsManifest(path string) ([]chaindexing.Contract, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []contractManifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	contracts := make([]chaindexing.Contract, 0, len(entries))
	for _, entry := range entries {
		contract := chaindexing.NewContract(entry.Name, entry.ABIJSON)
		for _, signature := range entry.EventSignatures {
			contract = contract.AddEventHandler(signature, loggingEventHandler{})
		}
		for _, addrCfg := range entry.Addresses {
			contract = contract.AddAddress(addrCfg.ChainID, addrCfg.Address, addrCfg.StartBlockNumber)
		}
		contracts = append(contracts, contract)
	}
	return contracts, nil
}

// loggingEventHandler is the default handler chaindexingd binds manifest
// events to: it logs the decoded event and writes nothing to state. A
// library-embedding caller registers its own chaindexing.EventHandler
// implementations to fold events into contract state instead.
type loggingEventHandler struct{}

func (loggingEventHandler) HandleEvent(ctx context.Context, ectx *chaindexing.EventHandlerContext) error {
	log.Info("chaindexingd: event handled",
		"contract", ectx.Event.ContractName,
		"abi", ectx.Event.ABI,
		"blockNumber", ectx.Event.BlockNumber,
		"logIndex", ectx.Event.LogIndex,
		"txHash", ectx.Event.TransactionHash,
	)
	return nil
}
