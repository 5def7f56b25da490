package chaindexing

// ContractAddress is one (chain_id, address, contract_name) registration plus
// its three cursors. Invariants (enforced by the ingester/handler, not by this
// struct itself): StartBlockNumber <= NextBlockNumberToHandleFrom <=
// NextBlockNumberToIngestFrom.
type ContractAddress struct {
	ID                          int32
	ChainID                     int64
	Address                     string
	ContractName                string
	StartBlockNumber            int64
	NextBlockNumberToIngestFrom int64
	NextBlockNumberToHandleFrom int64
}

// NewContractAddress seeds a fresh cursor row at registration time: both
// cursors start at the contract's configured start block.
func NewContractAddress(chainID int64, address, contractName string, startBlockNumber int64) ContractAddress {
	return ContractAddress{
		ChainID:                     chainID,
		Address:                     address,
		ContractName:                contractName,
		StartBlockNumber:            startBlockNumber,
		NextBlockNumberToIngestFrom: startBlockNumber,
		NextBlockNumberToHandleFrom: startBlockNumber,
	}
}
