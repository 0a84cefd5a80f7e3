package crypto

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	if addr.Prefix() != EscrowPrefix {
		t.Fatalf("unexpected prefix %q", addr.Prefix())
	}
	parsed, err := ParseAccount(addr.String())
	if err != nil {
		t.Fatalf("parse account: %v", err)
	}
	if parsed != addr.Array() {
		t.Fatalf("round trip mismatch")
	}
	if FormatAccount(parsed) != addr.String() {
		t.Fatalf("format mismatch")
	}
}

func TestParseAccountRejectsForeignPrefix(t *testing.T) {
	conv, err := bech32.ConvertBits(make([]byte, 20), 8, 5, true)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	foreign, err := bech32.Encode("cosmos", conv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := ParseAccount(foreign); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	if _, err := ParseAccount("not-an-address"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
}

func TestSignAndRecoverPayload(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payload := []byte(`{"jsonrpc":"2.0","method":"trade_fund","params":[1],"id":1}`)
	sig, err := key.SignPayload(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signer, err := RecoverPayloadSigner(payload, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != key.PubKey().Address().Array() {
		t.Fatalf("recovered wrong signer")
	}

	legacy := append([]byte(nil), sig...)
	legacy[64] += 27
	signer, err = RecoverPayloadSigner(payload, legacy)
	if err != nil || signer != key.PubKey().Address().Array() {
		t.Fatalf("expected legacy v to recover the same signer: %v", err)
	}

	tampered, err := RecoverPayloadSigner(append(payload, ' '), sig)
	if err == nil && tampered == signer {
		t.Fatalf("tampered payload recovered original signer")
	}
	if _, err := RecoverPayloadSigner(payload, sig[:10]); err == nil {
		t.Fatalf("expected short signature to fail")
	}
	if len(sig) != ethcrypto.SignatureLength {
		t.Fatalf("unexpected signature length %d", len(sig))
	}
}

func useLightScrypt(t *testing.T) {
	t.Helper()
	n, p := KeystoreScryptN, KeystoreScryptP
	KeystoreScryptN, KeystoreScryptP = keystore.LightScryptN, keystore.LightScryptP
	t.Cleanup(func() { KeystoreScryptN, KeystoreScryptP = n, p })
}

func TestLoadOrCreateKeystore(t *testing.T) {
	useLightScrypt(t)
	path := filepath.Join(t.TempDir(), "keys", "node.json")
	created, fresh, err := LoadOrCreateKeystore(path, "secret")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !fresh {
		t.Fatalf("expected a new key")
	}
	loaded, fresh, err := LoadOrCreateKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fresh {
		t.Fatalf("expected existing key")
	}
	if loaded.PubKey().Address().String() != created.PubKey().Address().String() {
		t.Fatalf("keystore returned a different key")
	}
	if _, _, err := LoadOrCreateKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}

func TestSaveToKeystoreRejectsBadInput(t *testing.T) {
	if err := SaveToKeystore(filepath.Join(t.TempDir(), "k.json"), nil, "x"); err == nil {
		t.Fatalf("expected nil key to fail")
	}
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := SaveToKeystore("", key, "x"); err == nil {
		t.Fatalf("expected empty path to fail")
	}
	if _, err := LoadFromKeystore("", "x"); err == nil {
		t.Fatalf("expected empty path to fail")
	}
}
