package chaindexing

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chaindexing-go/chaindexing/contractstates"
)

// ContractEventHandler pairs one ABI event signature with the handler that
// folds matching events into contract state. The signature (e.g.
// "Transfer(address,address,uint256)") is both the RPC filter's topic0
// source and the dispatch key an EventHandlerRunner uses at handle time
// (§9: "the event ABI string is the dispatch key").
type ContractEventHandler struct {
	EventSignature string
	Handler        EventHandler
}

// ContractAddressConfig is a registration-time initializer: one
// ContractAddress row is created per entry the first time its contract is
// configured.
type ContractAddressConfig struct {
	ChainID          int64
	Address          string
	StartBlockNumber int64
}

// Contract is a user-declared, process-lifetime-immutable pairing of a name,
// an ABI, event->handler bindings, zero or more address initializers, and
// an optional state-table declaration. StateMigrations is scoped per
// contract, matching `original_source/chaindexing/src/contract_states.rs`'s
// per-contract `ContractStateMigrations` trait rather than one
// migrations list shared across every contract.
type Contract struct {
	Name            string
	ABIJSON         string
	EventHandlers   []ContractEventHandler
	Addresses       []ContractAddressConfig
	StateMigrations contractstates.ContractStateMigrations
}

// NewContract starts a new, empty contract declaration for the given name
// and ABI JSON document.
func NewContract(name, abiJSON string) Contract {
	return Contract{Name: name, ABIJSON: abiJSON}
}

// AddEventHandler returns a copy of c with one more (signature, handler)
// binding appended, following the immutable builder style of Config.
func (c Contract) AddEventHandler(eventSignature string, handler EventHandler) Contract {
	next := make([]ContractEventHandler, len(c.EventHandlers), len(c.EventHandlers)+1)
	copy(next, c.EventHandlers)
	c.EventHandlers = append(next, ContractEventHandler{EventSignature: eventSignature, Handler: handler})
	return c
}

// AddAddress returns a copy of c with one more address initializer appended.
func (c Contract) AddAddress(chainID int64, address string, startBlockNumber int64) Contract {
	next := make([]ContractAddressConfig, len(c.Addresses), len(c.Addresses)+1)
	copy(next, c.Addresses)
	c.Addresses = append(next, ContractAddressConfig{ChainID: chainID, Address: address, StartBlockNumber: startBlockNumber})
	return c
}

// WithStateMigrations returns a copy of c declaring its state table's DDL.
// Start expands this through contractstates.GetMigrations before any
// contract address is registered (spec §4.A, §7 "Migration validation
// failures are fatal at startup").
func (c Contract) WithStateMigrations(migrations contractstates.ContractStateMigrations) Contract {
	c.StateMigrations = migrations
	return c
}

// EventTopic0 derives the topic0 log-matching hash for an ABI event
// signature, the same computation `ethers::abi::RawLog` callers and
// solidity's own `keccak256(signature)` do for an unindexed event selector.
func EventTopic0(eventSignature string) common.Hash {
	return crypto.Keccak256Hash([]byte(eventSignature))
}

// Contracts is a helper over a configured contract list, mirroring the
// original's free-standing `Contracts::group_event_topics_by_names`.
type Contracts []Contract

// ByName returns the contract registered under name, if any.
func (cs Contracts) ByName(name string) (Contract, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c, true
		}
	}
	return Contract{}, false
}

// EventTopicsByName groups each contract's event topic0 hashes by contract
// name, the shape Filters needs to build one get_logs filter per contract
// address.
func (cs Contracts) EventTopicsByName() map[string][]common.Hash {
	topicsByName := make(map[string][]common.Hash, len(cs))
	for _, c := range cs {
		topics := make([]common.Hash, 0, len(c.EventHandlers))
		for _, eh := range c.EventHandlers {
			topics = append(topics, EventTopic0(eh.EventSignature))
		}
		topicsByName[c.Name] = topics
	}
	return topicsByName
}

// EventHandlersBySignature builds the global signature->handler dispatch map
// the Event Handler Runner uses to look up a handler by `event.abi` (§9).
// Per the open question in §9, a signature shared by two contracts that
// expect different handlers is a configuration error: the later contract's
// binding silently wins, so callers should treat signature collisions across
// contracts as a fatal misconfiguration to catch before Start (this package
// does not itself validate uniqueness, matching the source's unresolved
// "flag for clarification" status).
func (cs Contracts) EventHandlersBySignature() map[string]EventHandler {
	handlers := make(map[string]EventHandler)
	for _, c := range cs {
		for _, eh := range c.EventHandlers {
			handlers[eh.EventSignature] = eh.Handler
		}
	}
	return handlers
}
