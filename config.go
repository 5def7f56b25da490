package chaindexing

import "fmt"

// Default tuning values (§6), chosen as quality-of-implementation constants
// where spec.md leaves the number itself unspecified.
const (
	DefaultBlocksPerBatch        = uint64(20)
	DefaultIngestionIntervalMS   = uint64(10_000)
	DefaultHandlerIntervalMS     = uint64(10_000)
	DefaultMinConfirmationCount  = MinConfirmationCount(40)
	DefaultInitialEventsPerChunk = 100
)

// ChainConfig is one chain's JSON-RPC endpoint, keyed by chain ID in Config.
type ChainConfig struct {
	ChainID int64
	RPCURL  string
}

// Config is the top-level, process-lifetime-immutable configuration (§6).
// Every With* method returns a modified copy, mirroring Contract's builder
// style and the teacher's own fail-fast Config.Validate() pattern.
type Config struct {
	Chains               []ChainConfig
	Repo                 Repo
	JsonRpc              EventsIngesterJsonRpc
	Contracts            Contracts
	BlocksPerBatch       uint64
	IngestionIntervalMS  uint64
	HandlerIntervalMS    uint64
	MinConfirmationCount MinConfirmationCount
	ResetCount           uint8
}

// NewConfig builds a Config using repo, with the documented defaults (§6) and
// no chains or contracts configured yet.
func NewConfig(repo Repo) Config {
	return Config{
		Repo:                 repo,
		BlocksPerBatch:       DefaultBlocksPerBatch,
		IngestionIntervalMS:  DefaultIngestionIntervalMS,
		HandlerIntervalMS:    DefaultHandlerIntervalMS,
		MinConfirmationCount: DefaultMinConfirmationCount,
	}
}

// AddChain returns a copy of c with one more chain's RPC endpoint registered.
func (c Config) AddChain(chainID int64, rpcURL string) Config {
	next := make([]ChainConfig, len(c.Chains), len(c.Chains)+1)
	copy(next, c.Chains)
	c.Chains = append(next, ChainConfig{ChainID: chainID, RPCURL: rpcURL})
	return c
}

// AddContract returns a copy of c with one more contract declaration
// registered.
func (c Config) AddContract(contract Contract) Config {
	next := make(Contracts, len(c.Contracts), len(c.Contracts)+1)
	copy(next, c.Contracts)
	c.Contracts = append(next, contract)
	return c
}

// WithJsonRpc returns a copy of c using the given JSON-RPC collaborator
// instead of the default go-ethereum-backed one Start constructs.
func (c Config) WithJsonRpc(jsonRPC EventsIngesterJsonRpc) Config {
	c.JsonRpc = jsonRPC
	return c
}

// WithBlocksPerBatch returns a copy of c with a different per-tick ingestion
// window width (§6).
func (c Config) WithBlocksPerBatch(n uint64) Config {
	c.BlocksPerBatch = n
	return c
}

// WithIngestionInterval returns a copy of c with a different ingestion tick
// period, in milliseconds.
func (c Config) WithIngestionInterval(ms uint64) Config {
	c.IngestionIntervalMS = ms
	return c
}

// WithHandlerInterval returns a copy of c with a different handler tick
// period, in milliseconds.
func (c Config) WithHandlerInterval(ms uint64) Config {
	c.HandlerIntervalMS = ms
	return c
}

// WithMinConfirmationCount returns a copy of c with a different reorg
// confirmation window depth (§4.C).
func (c Config) WithMinConfirmationCount(count MinConfirmationCount) Config {
	c.MinConfirmationCount = count
	return c
}

// Reset returns a copy of c with ResetCount set. Start performs the reset
// (drops contract-state tables and truncates the ingestion tables) whenever
// ResetCount is above zero; the previous count is not recorded, so an
// unchanged non-zero count resets again on every start.
func (c Config) Reset(count uint8) Config {
	c.ResetCount = count
	return c
}

// Validate rejects an unusable Config before any RPC or DB work starts,
// mirroring the teacher's Config.Validate() fail-fast stance.
func (c Config) Validate() error {
	if c.Repo == nil {
		return fmt.Errorf("config: repo is required")
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("config: at least one chain is required")
	}
	seenChains := make(map[int64]struct{}, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.RPCURL == "" {
			return fmt.Errorf("config: chain %d has an empty rpc url", chain.ChainID)
		}
		if _, dup := seenChains[chain.ChainID]; dup {
			return fmt.Errorf("config: chain %d is registered more than once", chain.ChainID)
		}
		seenChains[chain.ChainID] = struct{}{}
	}
	if len(c.Contracts) == 0 {
		return fmt.Errorf("config: at least one contract is required")
	}
	for _, contract := range c.Contracts {
		if contract.ABIJSON == "" {
			return fmt.Errorf("config: contract %q has no ABI", contract.Name)
		}
		if len(contract.EventHandlers) == 0 {
			return fmt.Errorf("config: contract %q has no event handlers", contract.Name)
		}
	}
	if c.BlocksPerBatch == 0 {
		return fmt.Errorf("config: blocks_per_batch must be greater than zero")
	}
	return nil
}

// ChainIDs returns the configured chain IDs, in registration order.
func (c Config) ChainIDs() []int64 {
	ids := make([]int64, len(c.Chains))
	for i, chain := range c.Chains {
		ids[i] = chain.ChainID
	}
	return ids
}

// RPCURLByChainID looks up the configured RPC endpoint for a chain.
func (c Config) RPCURLByChainID(chainID int64) (string, bool) {
	for _, chain := range c.Chains {
		if chain.ChainID == chainID {
			return chain.RPCURL, true
		}
	}
	return "", false
}
