package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Canonical parameter store keys.
const (
	KeyFeePolicy   = "market/fees"
	KeyInstruments = "market/instruments"
	KeyPauses      = "system/pauses"
)

// MaxFeeBps caps the configurable marketplace fee rate. Basis points are
// denominated over 10_000.
const MaxFeeBps uint32 = 1_000

// StoreState captures the subset of state manager capabilities required by
// the parameter helpers.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
}

// FeePolicy is the administratively controlled fee configuration.
type FeePolicy struct {
	FeeBps uint32 `json:"feeBps"`
}

// Store provides typed accessors for administratively controlled parameters.
// Values are marshalled as JSON to align with governance payloads.
type Store struct {
	state StoreState
}

// NewStore constructs a parameter store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

// SetFeePolicy persists the fee configuration after range-checking it against
// the protocol fee cap.
func (s *Store) SetFeePolicy(policy FeePolicy) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if policy.FeeBps > MaxFeeBps {
		return fmt.Errorf("params: fee bps %d exceeds cap %d", policy.FeeBps, MaxFeeBps)
	}
	encoded, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("params: encode fee policy: %w", err)
	}
	return state.ParamStoreSet(KeyFeePolicy, encoded)
}

// FeePolicy loads the persisted fee configuration. When unset, a zero-value
// policy (no fee) is returned.
func (s *Store) FeePolicy() (FeePolicy, error) {
	state, err := s.withState()
	if err != nil {
		return FeePolicy{}, err
	}
	raw, ok, err := state.ParamStoreGet(KeyFeePolicy)
	if err != nil {
		return FeePolicy{}, fmt.Errorf("params: load fee policy: %w", err)
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return FeePolicy{}, nil
	}
	var policy FeePolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		return FeePolicy{}, fmt.Errorf("params: decode fee policy: %w", err)
	}
	if policy.FeeBps > MaxFeeBps {
		return FeePolicy{}, fmt.Errorf("params: stored fee bps %d exceeds cap %d", policy.FeeBps, MaxFeeBps)
	}
	return policy, nil
}

// FeeBps returns the configured marketplace fee rate in basis points.
func (s *Store) FeeBps() (uint32, error) {
	policy, err := s.FeePolicy()
	if err != nil {
		return 0, err
	}
	return policy.FeeBps, nil
}

// SetInstruments persists the supported-instrument set. Symbols are
// canonicalised to uppercase and deduplicated.
func (s *Store) SetInstruments(symbols []string) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(symbols))
	normalized := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		trimmed := strings.ToUpper(strings.TrimSpace(symbol))
		if trimmed == "" {
			return fmt.Errorf("params: empty instrument symbol")
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	sort.Strings(normalized)
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("params: encode instruments: %w", err)
	}
	return state.ParamStoreSet(KeyInstruments, encoded)
}

// Instruments loads the supported-instrument set. An unset key reads as an
// empty set.
func (s *Store) Instruments() ([]string, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	raw, ok, err := state.ParamStoreGet(KeyInstruments)
	if err != nil {
		return nil, fmt.Errorf("params: load instruments: %w", err)
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return []string{}, nil
	}
	var symbols []string
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, fmt.Errorf("params: decode instruments: %w", err)
	}
	return symbols, nil
}

// InstrumentSupported reports whether the supplied symbol is in the
// supported-instrument set.
func (s *Store) InstrumentSupported(symbol string) (bool, error) {
	symbols, err := s.Instruments()
	if err != nil {
		return false, err
	}
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	for _, candidate := range symbols {
		if candidate == trimmed {
			return true, nil
		}
	}
	return false, nil
}

// Pauses captures the per-module pause toggles.
type Pauses struct {
	Market bool `json:"market"`
}

// SetPauses persists the pause configuration.
func (s *Store) SetPauses(pauses Pauses) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(pauses)
	if err != nil {
		return fmt.Errorf("params: encode pauses: %w", err)
	}
	return state.ParamStoreSet(KeyPauses, encoded)
}

// Pauses loads the pause configuration. When unset, nothing is paused.
func (s *Store) Pauses() (Pauses, error) {
	state, err := s.withState()
	if err != nil {
		return Pauses{}, err
	}
	raw, ok, err := state.ParamStoreGet(KeyPauses)
	if err != nil {
		return Pauses{}, fmt.Errorf("params: load pauses: %w", err)
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return Pauses{}, nil
	}
	var pauses Pauses
	if err := json.Unmarshal(raw, &pauses); err != nil {
		return Pauses{}, fmt.Errorf("params: decode pauses: %w", err)
	}
	return pauses, nil
}

// IsPaused implements the pause view consumed by the module guard.
func (s *Store) IsPaused(module string) bool {
	pauses, err := s.Pauses()
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "market":
		return pauses.Market
	default:
		return false
	}
}
