package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := stderrors.New("tts quota exceeded")
	err := Synthesis("voice ja-JP-A", cause)

	if !stderrors.Is(err, ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis in chain")
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if stderrors.Is(err, ErrAssembly) {
		t.Fatalf("unexpected ErrAssembly match")
	}
	if !strings.Contains(err.Error(), "voice ja-JP-A") {
		t.Fatalf("message missing op: %q", err.Error())
	}
}

func TestPreconditionFormatsMessage(t *testing.T) {
	err := Precondition("voice assignments (%d) do not match segments (%d)", 1, 3)
	if !Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition")
	}
	if !strings.Contains(err.Error(), "(1)") || !strings.Contains(err.Error(), "(3)") {
		t.Fatalf("message missing counts: %q", err.Error())
	}
}
