package chaindexing

import "testing"

func TestEventTopic0IsStableForASignature(t *testing.T) {
	a := EventTopic0("Transfer(address,address,uint256)")
	b := EventTopic0("Transfer(address,address,uint256)")

	if a != b {
		t.Fatalf("expected deterministic topic0 for the same signature")
	}

	other := EventTopic0("Approval(address,address,uint256)")
	if a == other {
		t.Fatalf("expected different signatures to hash to different topics")
	}
}

func TestEventHandlersBySignatureLastContractWins(t *testing.T) {
	var firstSeen, secondSeen []Event
	first := recordingHandler{events: &firstSeen}
	second := recordingHandler{events: &secondSeen}
	contracts := Contracts{
		NewContract("A", "[]").AddEventHandler("Transfer(address,address,uint256)", first),
		NewContract("B", "[]").AddEventHandler("Transfer(address,address,uint256)", second),
	}

	handlers := contracts.EventHandlersBySignature()
	if len(handlers) != 1 {
		t.Fatalf("expected one dispatch entry for the shared signature, got %d", len(handlers))
	}
	if handlers["Transfer(address,address,uint256)"] != EventHandler(second) {
		t.Fatalf("expected the later contract's handler to win the shared signature")
	}
}

func TestContractAddEventHandlerDoesNotMutateOriginal(t *testing.T) {
	base := NewContract("NFT", "[]")
	derived := base.AddEventHandler("Transfer(address,address,uint256)", noopHandler{})

	if len(base.EventHandlers) != 0 {
		t.Fatalf("expected base contract to remain unmodified")
	}
	if len(derived.EventHandlers) != 1 {
		t.Fatalf("expected derived contract to have one handler")
	}
}
