package chaindexing

import "testing"

func TestMinConfirmationCountDeductFromClampsAtStart(t *testing.T) {
	count := MinConfirmationCount(40)

	if got := count.DeductFrom(100, 0); got != 60 {
		t.Fatalf("got %d, want 60", got)
	}
	if got := count.DeductFrom(10, 5); got != 5 {
		t.Fatalf("got %d, want 5 (clamped at start block)", got)
	}
}

func TestExecutionConfirmationReportsConfirmation(t *testing.T) {
	if ExecutionMain().IsConfirmation() {
		t.Fatalf("main execution should not report confirmation")
	}
	if !ExecutionConfirmation(MinConfirmationCount(10)).IsConfirmation() {
		t.Fatalf("confirmation execution should report confirmation")
	}
}
