package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"deedmarket/storage"
)

var (
	balancePrefix    = []byte("balance:")
	paramStorePrefix = []byte("params:")
)

// Manager provides typed, RLP-encoded access to marketplace state. Keys are
// keccak256 hashed before hitting the backing store.
//
// Writes accumulate in an in-memory overlay and are journaled so a caller can
// snapshot the state at the start of an operation and revert every mutation if
// the operation fails part-way through. Nothing reaches the backing database
// until Commit is called. Manager is not safe for concurrent use; callers
// (the RPC server in the daemon) must serialise access.
type Manager struct {
	db      storage.Database
	overlay map[string][]byte
	journal []journalEntry
}

// journalEntry records the overlay value a key held before a write so the
// write can be undone on revert. prevSet distinguishes "no overlay entry"
// from "overlay entry marking a deletion".
type journalEntry struct {
	key     string
	prev    []byte
	prevSet bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		overlay: make(map[string][]byte),
	}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Snapshot returns an identifier for the current journal position. Passing it
// to RevertToSnapshot undoes every write performed after this call.
func (m *Manager) Snapshot() int {
	if m == nil {
		return 0
	}
	return len(m.journal)
}

// RevertToSnapshot rolls the overlay back to the supplied snapshot position.
func (m *Manager) RevertToSnapshot(snap int) {
	if m == nil || snap < 0 || snap > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= snap; i-- {
		entry := m.journal[i]
		if entry.prevSet {
			m.overlay[entry.key] = entry.prev
		} else {
			delete(m.overlay, entry.key)
		}
	}
	m.journal = m.journal[:snap]
}

// Commit flushes the overlay to the backing database and clears the journal.
func (m *Manager) Commit() error {
	if m == nil {
		return fmt.Errorf("state: manager not configured")
	}
	for key, value := range m.overlay {
		if value == nil {
			if err := m.db.Delete([]byte(key)); err != nil {
				return err
			}
			continue
		}
		if err := m.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	m.overlay = make(map[string][]byte)
	m.journal = nil
	return nil
}

func (m *Manager) rawGet(hashed []byte) ([]byte, bool, error) {
	if value, ok := m.overlay[string(hashed)]; ok {
		if value == nil {
			return nil, false, nil
		}
		return value, true, nil
	}
	value, err := m.db.Get(hashed)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) rawPut(hashed []byte, value []byte) {
	key := string(hashed)
	prev, prevSet := m.overlay[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, prevSet: prevSet})
	m.overlay[key] = value
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil {
		return fmt.Errorf("state: manager not configured")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.rawPut(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// out. The boolean reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("state: manager not configured")
	}
	data, ok, err := m.rawGet(kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if m == nil {
		return fmt.Errorf("state: manager not configured")
	}
	m.rawPut(kvKey(key), nil)
	return nil
}

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(symbol)+1+len(addr))
	buf = append(buf, balancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, addr...)
	return buf
}

// SetBalance records the balance an address holds of the given instrument.
func (m *Manager) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if m == nil {
		return fmt.Errorf("state: manager not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("state: instrument symbol required")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	return m.KVPut(balanceKey(addr, symbol), amount)
}

// Balance returns the balance an address holds of the given instrument. A
// missing record reads as zero.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("state: manager not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("state: instrument symbol required")
	}
	balance := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr, symbol), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func paramStoreKey(name string) []byte {
	buf := make([]byte, 0, len(paramStorePrefix)+len(name))
	buf = append(buf, paramStorePrefix...)
	buf = append(buf, name...)
	return buf
}

// ParamStoreSet persists a raw parameter payload under the canonical key.
func (m *Manager) ParamStoreSet(name string, value []byte) error {
	if m == nil {
		return fmt.Errorf("state: manager not configured")
	}
	return m.KVPut(paramStoreKey(name), value)
}

// ParamStoreGet loads a raw parameter payload.
func (m *Manager) ParamStoreGet(name string) ([]byte, bool, error) {
	if m == nil {
		return nil, false, fmt.Errorf("state: manager not configured")
	}
	var raw []byte
	ok, err := m.KVGet(paramStoreKey(name), &raw)
	if err != nil || !ok {
		return nil, false, err
	}
	return raw, true, nil
}
