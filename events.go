package chaindexing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// EventParam is one decoded, order-preserving ABI argument. JSON object key
// order is not guaranteed, so Event.Parameters carries the ABI's own
// argument order alongside the convenience map in Event.LogParams.
type EventParam struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Event is a durable record of one emitted log (§3). Identity for reorg-diff
// purposes is the (TransactionHash, LogIndex, BlockHash) tuple (§4.C); ID is
// a surrogate never used for equality.
type Event struct {
	ID               string
	ContractAddress  string
	ContractName     string
	ABI              string // canonical event signature, the handler dispatch key
	LogParams        map[string]any
	Parameters       []EventParam
	Topics           []string
	BlockHash        string
	BlockNumber      int64
	TransactionHash  string
	TransactionIndex int64
	LogIndex         int64
	Removed          bool
	InsertedAt       time.Time
}

// matchesContractAddress reports whether the event's address equals the
// given address, case-insensitively (addresses are hex strings whose
// canonical casing may differ between RPC providers and the store).
func (e Event) matchesContractAddress(address string) bool {
	return strings.EqualFold(e.ContractAddress, address)
}

// equalIgnoringID returns the eventIdentity projection of e, the key the
// reorg reconciler's diff compares events by; the surrogate ID is not part
// of it (§4.C step 4).
func (e Event) equalIgnoringID() eventIdentity {
	return eventIdentity{
		ContractAddress:  strings.ToLower(e.ContractAddress),
		ContractName:     e.ContractName,
		ABI:              e.ABI,
		BlockHash:        e.BlockHash,
		BlockNumber:      e.BlockNumber,
		TransactionHash:  e.TransactionHash,
		TransactionIndex: e.TransactionIndex,
		LogIndex:         e.LogIndex,
		Removed:          e.Removed,
	}
}

// eventIdentity is the hashable projection of Event used for set-difference
// in the reorg reconciler. Topics, LogParams, Parameters and InsertedAt are
// not part of it: a log with the same block hash, transaction hash and log
// index carries the same topics and data, and so decodes to the same
// parameters under a fixed ABI.
type eventIdentity struct {
	ContractAddress  string
	ContractName     string
	ABI              string
	BlockHash        string
	BlockNumber      int64
	TransactionHash  string
	TransactionIndex int64
	LogIndex         int64
	Removed          bool
}

// NewEvents converts raw JSON-RPC logs into durable Event records, decoding
// each log's topics and data against the ABI of the contract whose address
// it matches (§4.B step 2f). blocksByTxHash supplies the corroborating block
// hash for each log's transaction, as fetched by GetBlocksByTxHash.
//
// Logs with no matching contract, or whose topic0 isn't bound to a handler,
// are silently skipped rather than erroring: filters are already scoped to
// topics the caller declared interest in, so a mismatch here would indicate
// a filter/decoding bug rather than a normal runtime condition. An ABI that
// fails to decode a matched log is treated as a contract misconfiguration:
// NewEvents returns an error rather than skipping the log. The ingester
// calls NewEvents inside its backoff retry, so such an error is retried
// like a provider error and does not stop the process.
func NewEvents(logs []types.Log, contracts Contracts, blocksByTxHash map[common.Hash]*types.Header) ([]Event, error) {
	parsedByContract := make(map[string]abi.ABI, len(contracts))
	for _, c := range contracts {
		parsed, err := abi.JSON(strings.NewReader(c.ABIJSON))
		if err != nil {
			return nil, fmt.Errorf("parse ABI for contract %q: %w", c.Name, err)
		}
		parsedByContract[c.Name] = parsed
	}

	events := make([]Event, 0, len(logs))
	for _, l := range logs {
		contract, signature, ok := matchContract(contracts, l)
		if !ok {
			continue
		}
		parsed := parsedByContract[contract.Name]

		event, err := decodeLog(l, contract, signature, parsed, blocksByTxHash)
		if err != nil {
			return nil, fmt.Errorf("decode log for contract %q event %q: %w", contract.Name, signature, err)
		}
		events = append(events, event)
	}

	SortEventsByBlockAndLogIndex(events)
	return events, nil
}

// matchContract finds the contract address binding and event signature for
// a log by comparing its topic0 against every contract's declared event
// topics. Contract address matching is left to the caller's filter (the RPC
// call already scoped `address`), so here we only need to resolve which
// contract + signature topic0 belongs to.
func matchContract(contracts Contracts, l types.Log) (Contract, string, bool) {
	if len(l.Topics) == 0 {
		return Contract{}, "", false
	}
	topic0 := l.Topics[0]
	for _, c := range contracts {
		for _, eh := range c.EventHandlers {
			if EventTopic0(eh.EventSignature) == topic0 {
				return c, eh.EventSignature, true
			}
		}
	}
	return Contract{}, "", false
}

func decodeLog(l types.Log, contract Contract, signature string, parsed abi.ABI, blocksByTxHash map[common.Hash]*types.Header) (Event, error) {
	abiEvent, err := parsed.EventByID(l.Topics[0])
	if err != nil {
		return Event{}, err
	}

	decoded := make(map[string]any)
	if len(l.Data) > 0 {
		if err := parsed.UnpackIntoMap(decoded, abiEvent.Name, l.Data); err != nil {
			return Event{}, fmt.Errorf("unpack non-indexed params: %w", err)
		}
	}

	indexed := make(abi.Arguments, 0)
	for _, arg := range abiEvent.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(decoded, indexed, l.Topics[1:]); err != nil {
			return Event{}, fmt.Errorf("parse indexed topics: %w", err)
		}
	}

	parameters := make([]EventParam, 0, len(abiEvent.Inputs))
	for _, arg := range abiEvent.Inputs {
		parameters = append(parameters, EventParam{Name: arg.Name, Value: decoded[arg.Name]})
	}

	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}

	blockHash := l.BlockHash
	if header, ok := blocksByTxHash[l.TxHash]; ok {
		blockHash = header.Hash()
	}

	return Event{
		ID:               uuid.NewString(),
		ContractAddress:  l.Address.Hex(),
		ContractName:     contract.Name,
		ABI:              signature,
		LogParams:        decoded,
		Parameters:       parameters,
		Topics:           topics,
		BlockHash:        blockHash.Hex(),
		BlockNumber:      int64(l.BlockNumber),
		TransactionHash:  l.TxHash.Hex(),
		TransactionIndex: int64(l.TxIndex),
		LogIndex:         int64(l.Index),
		Removed:          l.Removed,
	}, nil
}

// SortEventsByBlockAndLogIndex orders events by (block_number, log_index)
// ascending, the ordering guarantee both persistence (§4.B) and handling
// (§4.D) rely on.
func SortEventsByBlockAndLogIndex(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}
