package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"repcollateral/storage"
)

// Manager provides RLP encoded key/value access to the ledger state. Writes
// are buffered in a journal until Commit flushes them to the backing database
// in a single batch; Discard drops them. Reads observe the journal first so a
// call sees its own writes.
//
// Manager is not safe for concurrent mutation. The host serialises writers.
type Manager struct {
	db      storage.Database
	journal map[string]journalEntry
}

type journalEntry struct {
	value   []byte
	deleted bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		journal: make(map[string]journalEntry),
	}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) raw(hashed []byte) ([]byte, error) {
	if entry, ok := m.journal[string(hashed)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	if m.db == nil {
		return nil, fmt.Errorf("kv: database not configured")
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
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
	m.journal[string(kvKey(key))] = journalEntry{value: encoded}
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.raw(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the key from state.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.journal[string(kvKey(key))] = journalEntry{deleted: true}
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored and the list is kept
// sorted so the index is deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	list, err := m.KVGetList(key)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	sort.Slice(list, func(i, j int) bool { return bytes.Compare(list[i], list[j]) < 0 })
	return m.KVPut(key, list)
}

// KVRemove drops value from the list stored under key. Removing an absent
// value is a no-op.
func (m *Manager) KVRemove(key []byte, value []byte) error {
	list, err := m.KVGetList(key)
	if err != nil {
		return err
	}
	filtered := list[:0]
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			continue
		}
		filtered = append(filtered, existing)
	}
	if len(filtered) == len(list) {
		return nil
	}
	return m.KVPut(key, filtered)
}

// KVGetList decodes the byte slice list stored under key. A missing key yields
// an empty list.
func (m *Manager) KVGetList(key []byte) ([][]byte, error) {
	var list [][]byte
	if _, err := m.KVGet(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Dirty reports the number of keys written since the last Commit or Discard.
func (m *Manager) Dirty() int {
	return len(m.journal)
}

// Commit flushes the journal to the database atomically and resets it.
func (m *Manager) Commit() error {
	if len(m.journal) == 0 {
		return nil
	}
	if m.db == nil {
		return fmt.Errorf("kv: database not configured")
	}
	batch := new(storage.Batch)
	keys := make([]string, 0, len(m.journal))
	for key := range m.journal {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entry := m.journal[key]
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("kv: commit: %w", err)
	}
	m.journal = make(map[string]journalEntry)
	return nil
}

// Discard drops every uncommitted write.
func (m *Manager) Discard() {
	m.journal = make(map[string]journalEntry)
}
