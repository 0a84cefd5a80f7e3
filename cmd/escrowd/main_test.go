package main

import "testing"

func TestResolveGenesisPathPrecedence(t *testing.T) {
	t.Setenv(genesisPathEnv, "/env/genesis.yaml")
	if got := resolveGenesisPath(" /flag/genesis.json ", "/cfg/genesis.json"); got != "/flag/genesis.json" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := resolveGenesisPath("", "/cfg/genesis.json"); got != "/env/genesis.yaml" {
		t.Fatalf("env should beat config, got %q", got)
	}
	t.Setenv(genesisPathEnv, "")
	if got := resolveGenesisPath("", "/cfg/genesis.json"); got != "/cfg/genesis.json" {
		t.Fatalf("config fallback expected, got %q", got)
	}
}
