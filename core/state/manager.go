package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"escrowchain/storage"
)

// Manager is a write-buffering view over the backing database. Every ledger
// entry point runs against its own Manager: writes stay in memory until Commit
// flushes them as a single batch, and Discard drops them. Reads observe the
// pending writes first.
type Manager struct {
	db      storage.Database
	writes  map[string][]byte
	deletes map[string]struct{}
	done    bool

	snapshots []pending
}

type pending struct {
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewManager creates a state manager reading through to the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

var errManagerClosed = errors.New("state: manager already committed or discarded")

func (m *Manager) getRaw(key []byte) ([]byte, bool, error) {
	k := string(key)
	if _, gone := m.deletes[k]; gone {
		return nil, false, nil
	}
	if v, ok := m.writes[k]; ok {
		return v, true, nil
	}
	v, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (m *Manager) putRaw(key, value []byte) error {
	if m.done {
		return errManagerClosed
	}
	k := string(key)
	delete(m.deletes, k)
	m.writes[k] = append([]byte(nil), value...)
	return nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.putRaw(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.getRaw(key)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the key. Deleting a missing key is not an error.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if m.done {
		return errManagerClosed
	}
	k := string(key)
	delete(m.writes, k)
	m.deletes[k] = struct{}{}
	return nil
}

// KVIterate visits every key under prefix in ascending order, merging pending
// writes with the committed data. fn receives the raw RLP payload; returning
// false stops the iteration.
func (m *Manager) KVIterate(prefix []byte, fn func(key, raw []byte) bool) error {
	merged := make(map[string][]byte)
	if err := m.db.Iterate(prefix, func(key, value []byte) bool {
		merged[string(key)] = value
		return true
	}); err != nil {
		return err
	}
	for k, v := range m.writes {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}
	for k := range m.deletes {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), merged[k]) {
			return nil
		}
	}
	return nil
}

// KVGetList decodes every value under prefix into the slice pointed to by out.
func (m *Manager) KVGetList(prefix []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	slice := val.Elem()
	if slice.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	result := reflect.MakeSlice(slice.Type(), 0, 0)
	var decodeErr error
	err := m.KVIterate(prefix, func(_, raw []byte) bool {
		elem := reflect.New(slice.Type().Elem())
		if err := rlp.DecodeBytes(raw, elem.Interface()); err != nil {
			decodeErr = err
			return false
		}
		result = reflect.Append(result, elem.Elem())
		return true
	})
	if err != nil {
		return err
	}
	if decodeErr != nil {
		return decodeErr
	}
	slice.Set(result)
	return nil
}

// Dirty reports whether the manager holds uncommitted changes.
func (m *Manager) Dirty() bool {
	return len(m.writes) > 0 || len(m.deletes) > 0
}

// Commit flushes all pending writes to the database in one atomic batch. The
// manager cannot be used for writes afterwards.
func (m *Manager) Commit() error {
	if m.done {
		return errManagerClosed
	}
	m.done = true
	batch := storage.NewBatch()
	keys := make([]string, 0, len(m.writes))
	for k := range m.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		batch.Put([]byte(k), m.writes[k])
	}
	for k := range m.deletes {
		batch.Delete([]byte(k))
	}
	return m.db.Write(batch)
}

// Snapshot records the current pending writes and returns an identifier that
// RevertToSnapshot accepts.
func (m *Manager) Snapshot() int {
	snap := pending{
		writes:  make(map[string][]byte, len(m.writes)),
		deletes: make(map[string]struct{}, len(m.deletes)),
	}
	for k, v := range m.writes {
		snap.writes[k] = v
	}
	for k := range m.deletes {
		snap.deletes[k] = struct{}{}
	}
	m.snapshots = append(m.snapshots, snap)
	return len(m.snapshots) - 1
}

// RevertToSnapshot drops every write made since the snapshot was taken. Later
// snapshots are invalidated.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id >= len(m.snapshots) {
		return
	}
	snap := m.snapshots[id]
	m.writes = snap.writes
	m.deletes = snap.deletes
	m.snapshots = m.snapshots[:id]
}

// Discard drops all pending writes.
func (m *Manager) Discard() {
	m.done = true
	m.writes = make(map[string][]byte)
	m.deletes = make(map[string]struct{})
	m.snapshots = nil
}
