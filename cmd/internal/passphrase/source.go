package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

var ErrMismatch = errors.New("passphrases do not match")

// Source resolves a keystore passphrase from an environment variable or a
// hidden terminal prompt. The first value obtained is reused.
type Source struct {
	envVar string
	label  string
	// prompt reads one hidden line; nil when stdin is not a terminal.
	prompt func(msg string) (string, error)

	mu     sync.Mutex
	cached string
}

// NewSource checks envVar before prompting on the terminal. label names the
// secret in prompts and errors.
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "keystore"
	}
	s := &Source{envVar: strings.TrimSpace(envVar), label: label}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		s.prompt = readHidden
	}
	return s
}

func readHidden(msg string) (string, error) {
	fmt.Fprint(os.Stderr, msg)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(raw), nil
}

// Get returns the passphrase for an existing keystore.
func (s *Source) Get() (string, error) {
	return s.resolve(false)
}

// GetNew returns the passphrase for a keystore about to be created. Prompted
// values must be entered twice.
func (s *Source) GetNew() (string, error) {
	return s.resolve(true)
}

func (s *Source) resolve(confirm bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" {
		return s.cached, nil
	}

	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			s.cached = value
			return value, nil
		}
	}
	if s.prompt == nil {
		if s.envVar != "" {
			return "", fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s passphrase required and no terminal available", s.label)
	}

	value, err := s.prompt(fmt.Sprintf("Enter %s passphrase: ", s.label))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s passphrase cannot be empty", s.label)
	}
	if confirm {
		again, err := s.prompt(fmt.Sprintf("Repeat %s passphrase: ", s.label))
		if err != nil {
			return "", err
		}
		if again != value {
			return "", ErrMismatch
		}
	}
	s.cached = value
	return value, nil
}
