package main

import (
	"strings"
	"testing"

	"escrowchain/config"
)

func TestBuildPeersRequiresTwoTokenedPeers(t *testing.T) {
	if _, err := buildPeers([]config.RelayerPeer{{Name: "a", URL: "http://a:1"}}); err == nil {
		t.Fatalf("expected error for a single peer")
	}

	t.Setenv("ESCROW_A_TOKEN", "a-token")
	peers := []config.RelayerPeer{
		{Name: "a", URL: "http://a:1", TokenEnv: "ESCROW_A_TOKEN"},
		{Name: "b", URL: "http://b:1", TokenEnv: "ESCROW_B_TOKEN"},
	}
	_, err := buildPeers(peers)
	if err == nil || !strings.Contains(err.Error(), "ESCROW_B_TOKEN") {
		t.Fatalf("expected missing token error, got %v", err)
	}

	t.Setenv("ESCROW_B_TOKEN", "b-token")
	built, err := buildPeers(peers)
	if err != nil {
		t.Fatalf("build peers: %v", err)
	}
	if len(built) != 2 || built[0].Name != "a" || built[1].Endpoint == nil {
		t.Fatalf("unexpected peers %+v", built)
	}
}
