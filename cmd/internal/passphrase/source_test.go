package passphrase

import (
	"errors"
	"strings"
	"testing"
)

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	t.Setenv("ESCROW_TEST_PASS", "hunter2")
	src := NewSource("ESCROW_TEST_PASS", "wallet")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("unexpected passphrase %q", got)
	}
	t.Setenv("ESCROW_TEST_PASS", "changed")
	again, err := src.Get()
	if err != nil || again != "hunter2" {
		t.Fatalf("expected cached passphrase, got %q (%v)", again, err)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("ESCROW_TEST_PASS", "   ")
	_, err := NewSource("ESCROW_TEST_PASS", "").Get()
	if err == nil || !strings.Contains(err.Error(), "ESCROW_TEST_PASS") {
		t.Fatalf("expected blank env error, got %v", err)
	}
}

func scripted(answers ...string) func(string) (string, error) {
	return func(string) (string, error) {
		if len(answers) == 0 {
			return "", errors.New("no more input")
		}
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}
}

func TestGetNewConfirmsPrompt(t *testing.T) {
	src := &Source{label: "wallet", prompt: scripted("one", "two")}
	if _, err := src.GetNew(); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	src = &Source{label: "wallet", prompt: scripted("same", "same")}
	got, err := src.GetNew()
	if err != nil || got != "same" {
		t.Fatalf("expected confirmed passphrase, got %q (%v)", got, err)
	}
	if again, _ := src.Get(); again != "same" {
		t.Fatalf("expected cached value, got %q", again)
	}
}

func TestGetWithoutTerminalOrEnv(t *testing.T) {
	src := &Source{envVar: "ESCROW_UNSET_PASS", label: "wallet"}
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "ESCROW_UNSET_PASS") {
		t.Fatalf("expected guidance error, got %v", err)
	}
}
