package chaindexing

import (
	"context"
	"testing"
)

type noopHandler struct{}

func (noopHandler) HandleEvent(ctx context.Context, ectx *EventHandlerContext) error { return nil }

type stubRepo struct{ Repo }

func validConfig() Config {
	contract := NewContract("NFT", `[{"type":"event","name":"Transfer","inputs":[]}]`).
		AddEventHandler("Transfer(address,address,uint256)", noopHandler{})

	return NewConfig(stubRepo{}).
		AddChain(1, "https://rpc.example.com").
		AddContract(contract)
}

func TestConfigValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestConfigValidateRejectsMissingRepo(t *testing.T) {
	c := validConfig()
	c.Repo = nil

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing repo")
	}
}

func TestConfigValidateRejectsNoChains(t *testing.T) {
	c := NewConfig(stubRepo{}).AddContract(validConfig().Contracts[0])

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for no chains")
	}
}

func TestConfigValidateRejectsDuplicateChainID(t *testing.T) {
	c := validConfig().AddChain(1, "https://rpc2.example.com")

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for duplicate chain id")
	}
}

func TestConfigValidateRejectsContractWithoutHandlers(t *testing.T) {
	c := NewConfig(stubRepo{}).
		AddChain(1, "https://rpc.example.com").
		AddContract(NewContract("Empty", `[]`))

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for contract with no handlers")
	}
}

func TestConfigWithMethodsReturnCopies(t *testing.T) {
	base := validConfig()
	derived := base.WithBlocksPerBatch(5).WithIngestionInterval(1000).WithHandlerInterval(2000)

	if base.BlocksPerBatch == derived.BlocksPerBatch {
		t.Fatalf("expected WithBlocksPerBatch to not mutate the base config")
	}
	if derived.BlocksPerBatch != 5 || derived.IngestionIntervalMS != 1000 || derived.HandlerIntervalMS != 2000 {
		t.Fatalf("unexpected derived config: %+v", derived)
	}
}
