package state

import (
	"errors"
	"math/big"
	"testing"

	"escrowchain/storage"
)

type kvRecord struct {
	Name  string
	Value uint64
}

func TestManagerCommitAndDiscard(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	mgr := NewManager(db)
	if err := mgr.KVPut([]byte("rec/1"), &kvRecord{Name: "one", Value: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got kvRecord
	ok, err := mgr.KVGet([]byte("rec/1"), &got)
	if err != nil || !ok {
		t.Fatalf("expected pending write to be visible: ok=%v err=%v", ok, err)
	}
	if has, _ := db.Has([]byte("rec/1")); has {
		t.Fatalf("pending write must not reach the database before commit")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if has, _ := db.Has([]byte("rec/1")); !has {
		t.Fatalf("expected committed write in database")
	}

	discarded := NewManager(db)
	if err := discarded.KVPut([]byte("rec/2"), &kvRecord{Name: "two", Value: 2}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := discarded.KVDelete([]byte("rec/1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	discarded.Discard()
	if has, _ := db.Has([]byte("rec/2")); has {
		t.Fatalf("discarded write leaked into database")
	}
	if has, _ := db.Has([]byte("rec/1")); !has {
		t.Fatalf("discarded delete removed committed record")
	}
	if err := discarded.KVPut([]byte("rec/3"), &kvRecord{}); err == nil {
		t.Fatalf("expected write after discard to fail")
	}
}

func TestManagerIterateMergesPending(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	seed := NewManager(db)
	for i, name := range []string{"a", "b", "c"} {
		if err := seed.KVPut([]byte("rec/"+name), &kvRecord{Name: name, Value: uint64(i)}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	mgr := NewManager(db)
	if err := mgr.KVDelete([]byte("rec/b")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mgr.KVPut([]byte("rec/d"), &kvRecord{Name: "d", Value: 9}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var records []kvRecord
	if err := mgr.KVGetList([]byte("rec/"), &records); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	names := []string{records[0].Name, records[1].Name, records[2].Name}
	if names[0] != "a" || names[1] != "c" || names[2] != "d" {
		t.Fatalf("unexpected iteration order: %v", names)
	}
}

func TestBankCreditDebit(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	var addr [20]byte
	addr[19] = 7

	if err := mgr.Credit(addr, "usd", big.NewInt(5)); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected unknown asset error, got %v", err)
	}
	if err := mgr.RegisterAsset(AssetMetadata{Symbol: "usd", Decimals: 6}); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	if err := mgr.Credit(addr, "USD", big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := mgr.Debit(addr, "usd", big.NewInt(101)); !errors.Is(err, ErrBalanceUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if err := mgr.Debit(addr, "usd", big.NewInt(40)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	bal, err := mgr.BalanceOf(addr, "usd")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected 60, got %s", bal)
	}

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := mgr.SetBalance(addr, "usd", max); err != nil {
		t.Fatalf("set max balance: %v", err)
	}
	if err := mgr.Credit(addr, "usd", big.NewInt(1)); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}

	balances, err := mgr.Balances(addr)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if balances["USD"] == nil || balances["USD"].Cmp(max) != 0 {
		t.Fatalf("unexpected balances: %v", balances)
	}
}

func TestManagerSnapshotRevert(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("rec/keep"), &kvRecord{Name: "keep"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	snap := mgr.Snapshot()
	if err := mgr.KVPut([]byte("rec/drop"), &kvRecord{Name: "drop"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.KVDelete([]byte("rec/keep")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mgr.RevertToSnapshot(snap)

	if ok, _ := mgr.KVGet([]byte("rec/drop"), nil); ok {
		t.Fatalf("write after snapshot survived revert")
	}
	if ok, _ := mgr.KVGet([]byte("rec/keep"), nil); !ok {
		t.Fatalf("delete after snapshot survived revert")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if has, _ := db.Has([]byte("rec/keep")); !has {
		t.Fatalf("expected pre-snapshot write to commit")
	}
}

func TestUseNonceStrictlyIncreases(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	var addr [20]byte
	addr[19] = 0x07
	mgr := NewManager(db)
	if last, err := mgr.Nonce(addr); err != nil || last != 0 {
		t.Fatalf("expected zero nonce, got %d (%v)", last, err)
	}
	if err := mgr.UseNonce(addr, 5); err != nil {
		t.Fatalf("use nonce: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reopened := NewManager(db)
	for _, stale := range []uint64{0, 4, 5} {
		if err := reopened.UseNonce(addr, stale); !errors.Is(err, ErrStaleNonce) {
			t.Fatalf("nonce %d: expected ErrStaleNonce, got %v", stale, err)
		}
	}
	if err := reopened.UseNonce(addr, 6); err != nil {
		t.Fatalf("next nonce: %v", err)
	}
	if last, _ := reopened.Nonce(addr); last != 6 {
		t.Fatalf("expected nonce 6, got %d", last)
	}
}
