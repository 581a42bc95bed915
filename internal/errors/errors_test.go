package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCodeThroughFmtWrapping(t *testing.T) {
	cause := stdErrors.New("dial tcp: connection refused")
	err := fmt.Errorf("quote USDC: %w", Wrap(CodeCollaboratorFailure, cause, "swap venue rejected quote"))

	if got := CodeOf(err); got != CodeCollaboratorFailure {
		t.Fatalf("unexpected code: %s", got)
	}
	if got := ClassOf(err); got != ClassCollaborator {
		t.Fatalf("unexpected class: %s", got)
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through the chain")
	}
	if !HasCode(err, CodeCollaboratorFailure) {
		t.Fatal("expected HasCode to match")
	}
	if HasCode(err, CodeInvalidAddress) {
		t.Fatal("unexpected match for a different code")
	}
}

func TestClassOfPlainError(t *testing.T) {
	if got := ClassOf(stdErrors.New("boom")); got != ClassInternal {
		t.Fatalf("expected internal class, got %s", got)
	}
	if got := CodeOf(nil); got != CodeUnknown {
		t.Fatalf("expected unknown code for nil, got %s", got)
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	err := New(CodeInvalidAmount, "", WithAlert(true), WithSeverity(SeverityCritical), WithMetadata("asset", "USDC"))
	if err.Message() != "invalid amount" {
		t.Fatalf("expected registry message, got %q", err.Message())
	}
	if !err.ShouldAlert() {
		t.Fatal("expected alert override")
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
	if err.Metadata()["asset"] != "USDC" {
		t.Fatalf("unexpected metadata %v", err.Metadata())
	}
	if err.Class() != ClassValidation {
		t.Fatalf("unexpected class %s", err.Class())
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning, Class: ClassInvariant})
	if AttributesOf(code).Class != ClassInvariant {
		t.Fatal("expected registered attributes")
	}
	found := false
	for _, c := range Codes() {
		if c == code {
			found = true
		}
	}
	if !found {
		t.Fatal("registered code missing from Codes()")
	}
	if AttributesOf("NOPE").Message != "unknown error" {
		t.Fatal("expected unknown fallback")
	}
}
