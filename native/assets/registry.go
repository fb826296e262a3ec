package assets

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrDeedNotFound = errors.New("assets: deed not found")
	ErrDeedExists   = errors.New("assets: deed already minted")
	ErrWrongOwner   = errors.New("assets: transfer from non-owner")

	errNilState = errors.New("assets: state not configured")
)

var (
	deedRecordPrefix  = []byte("assets/deed/")
	operatorKeyPrefix = []byte("assets/operator/")
)

// registryState captures the state manager capabilities the registry needs.
type registryState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVDelete(key []byte) error
}

type storedDeed struct {
	Owner    [20]byte
	Approved [20]byte
}

// Registry is the deed-ownership ledger the marketplace trades against. It
// tracks one owner per deed, an optional per-deed approved operator, and
// blanket owner-to-operator approvals. Transfers clear the per-deed approval,
// mirroring the usual non-fungible token semantics.
type Registry struct {
	state registryState
}

// NewRegistry constructs a deed registry bound to the supplied state backend.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

func deedKey(assetID uint64) []byte {
	buf := make([]byte, len(deedRecordPrefix)+8)
	copy(buf, deedRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(deedRecordPrefix):], assetID)
	return buf
}

func operatorKey(owner, operator [20]byte) []byte {
	buf := make([]byte, 0, len(operatorKeyPrefix)+len(owner)+1+len(operator))
	buf = append(buf, operatorKeyPrefix...)
	buf = append(buf, owner[:]...)
	buf = append(buf, ':')
	buf = append(buf, operator[:]...)
	return buf
}

func (r *Registry) load(assetID uint64) (*storedDeed, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	var stored storedDeed
	ok, err := r.state.KVGet(deedKey(assetID), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDeedNotFound
	}
	return &stored, nil
}

// Mint records a new deed under the supplied owner.
func (r *Registry) Mint(owner [20]byte, assetID uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if owner == ([20]byte{}) {
		return fmt.Errorf("assets: mint to zero address")
	}
	var existing storedDeed
	ok, err := r.state.KVGet(deedKey(assetID), &existing)
	if err != nil {
		return err
	}
	if ok {
		return ErrDeedExists
	}
	return r.state.KVPut(deedKey(assetID), &storedDeed{Owner: owner})
}

// OwnerOf returns the current owner of the deed.
func (r *Registry) OwnerOf(assetID uint64) ([20]byte, error) {
	stored, err := r.load(assetID)
	if err != nil {
		return [20]byte{}, err
	}
	return stored.Owner, nil
}

// Approve records a per-deed approved operator. Only the current owner may
// grant it.
func (r *Registry) Approve(caller, operator [20]byte, assetID uint64) error {
	stored, err := r.load(assetID)
	if err != nil {
		return err
	}
	if stored.Owner != caller {
		return ErrWrongOwner
	}
	stored.Approved = operator
	return r.state.KVPut(deedKey(assetID), stored)
}

// GetApproved returns the per-deed approved operator, which may be the zero
// address when none is set.
func (r *Registry) GetApproved(assetID uint64) ([20]byte, error) {
	stored, err := r.load(assetID)
	if err != nil {
		return [20]byte{}, err
	}
	return stored.Approved, nil
}

// SetApprovalForAll grants or revokes a blanket operator approval for every
// deed the owner holds.
func (r *Registry) SetApprovalForAll(owner, operator [20]byte, approved bool) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if !approved {
		return r.state.KVDelete(operatorKey(owner, operator))
	}
	return r.state.KVPut(operatorKey(owner, operator), true)
}

// IsApprovedForAll reports whether the operator holds a blanket approval from
// the owner.
func (r *Registry) IsApprovedForAll(owner, operator [20]byte) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilState
	}
	var approved bool
	ok, err := r.state.KVGet(operatorKey(owner, operator), &approved)
	if err != nil {
		return false, err
	}
	return ok && approved, nil
}

// TransferFrom moves deed custody and clears any per-deed approval. The
// caller is responsible for authorisation checks; the registry only enforces
// that the stated sender actually owns the deed.
func (r *Registry) TransferFrom(from, to [20]byte, assetID uint64) error {
	stored, err := r.load(assetID)
	if err != nil {
		return err
	}
	if stored.Owner != from {
		return ErrWrongOwner
	}
	if to == ([20]byte{}) {
		return fmt.Errorf("assets: transfer to zero address")
	}
	stored.Owner = to
	stored.Approved = [20]byte{}
	return r.state.KVPut(deedKey(assetID), stored)
}
