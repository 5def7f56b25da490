package chaindexing

import "github.com/ethereum/go-ethereum/common"

// Filter is one eth_getLogs call's worth of scoping: one contract address,
// its declared event topics, and a closed block range.
type Filter struct {
	ContractAddress ContractAddress
	Topics          []common.Hash
	FromBlock       int64
	ToBlock         int64
}

// BuildFilters builds one Filter per contract address that has work to do this
// tick (§4.B step 1, §4.C step 1).
//
// For Execution.Main, the window is [NextBlockNumberToIngestFrom, current],
// capped to blocksPerBatch wide; addresses already caught up to current
// (from == to) are dropped entirely rather than producing a zero-width
// filter, so a caught-up contract costs zero RPC calls per tick.
//
// For Execution.Confirmation, the window's `from` is deducted by the
// confirmation count (clamped at the contract's start block) and its `to` is
// `from + blocksPerBatch` unconditionally, even past current block number:
// the original leaves this unclamped and this module preserves that (see
// SPEC_FULL.md §3).
func BuildFilters(
	addresses []ContractAddress,
	contracts Contracts,
	currentBlockNumber int64,
	blocksPerBatch uint64,
	execution Execution,
) []Filter {
	topicsByName := contracts.EventTopicsByName()

	filters := make([]Filter, 0, len(addresses))
	for _, addr := range addresses {
		topics, ok := topicsByName[addr.ContractName]
		if !ok {
			continue
		}

		var from, to int64
		if execution.IsConfirmation() {
			from = execution.minConfirmationCount.DeductFrom(addr.NextBlockNumberToIngestFrom, addr.StartBlockNumber)
			to = from + int64(blocksPerBatch)
		} else {
			from = addr.NextBlockNumberToIngestFrom
			to = min64(from+int64(blocksPerBatch), currentBlockNumber)
			if from == to {
				continue
			}
		}

		filters = append(filters, Filter{
			ContractAddress: addr,
			Topics:          topics,
			FromBlock:       from,
			ToBlock:         to,
		})
	}
	return filters
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
