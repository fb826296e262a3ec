package assets

import (
	"errors"
	"testing"

	"deedmarket/core/state"
	"deedmarket/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(state.NewManager(storage.NewMemDB()))
}

func TestMintAndOwnerOf(t *testing.T) {
	registry := newTestRegistry(t)
	owner := testAddr(0x01)

	if _, err := registry.OwnerOf(7); !errors.Is(err, ErrDeedNotFound) {
		t.Fatalf("expected ErrDeedNotFound, got %v", err)
	}
	if err := registry.Mint(owner, 7); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	got, err := registry.OwnerOf(7)
	if err != nil {
		t.Fatalf("OwnerOf: %v", err)
	}
	if got != owner {
		t.Fatalf("unexpected owner %x", got)
	}
	if err := registry.Mint(owner, 7); !errors.Is(err, ErrDeedExists) {
		t.Fatalf("expected ErrDeedExists, got %v", err)
	}
	if err := registry.Mint([20]byte{}, 8); err == nil {
		t.Fatalf("minting to the zero address should fail")
	}
}

func TestApprovals(t *testing.T) {
	registry := newTestRegistry(t)
	owner := testAddr(0x01)
	operator := testAddr(0x02)
	stranger := testAddr(0x03)
	if err := registry.Mint(owner, 7); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if err := registry.Approve(stranger, operator, 7); !errors.Is(err, ErrWrongOwner) {
		t.Fatalf("non-owner approval should fail, got %v", err)
	}
	if err := registry.Approve(owner, operator, 7); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	approved, err := registry.GetApproved(7)
	if err != nil {
		t.Fatalf("GetApproved: %v", err)
	}
	if approved != operator {
		t.Fatalf("unexpected approved operator %x", approved)
	}

	ok, err := registry.IsApprovedForAll(owner, operator)
	if err != nil || ok {
		t.Fatalf("no blanket approval expected, ok=%v err=%v", ok, err)
	}
	if err := registry.SetApprovalForAll(owner, operator, true); err != nil {
		t.Fatalf("SetApprovalForAll: %v", err)
	}
	ok, err = registry.IsApprovedForAll(owner, operator)
	if err != nil || !ok {
		t.Fatalf("blanket approval should hold, ok=%v err=%v", ok, err)
	}
	if err := registry.SetApprovalForAll(owner, operator, false); err != nil {
		t.Fatalf("SetApprovalForAll revoke: %v", err)
	}
	ok, err = registry.IsApprovedForAll(owner, operator)
	if err != nil || ok {
		t.Fatalf("revoked approval should not hold, ok=%v err=%v", ok, err)
	}
}

func TestTransferFromClearsApproval(t *testing.T) {
	registry := newTestRegistry(t)
	owner := testAddr(0x01)
	operator := testAddr(0x02)
	recipient := testAddr(0x03)
	if err := registry.Mint(owner, 7); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := registry.Approve(owner, operator, 7); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if err := registry.TransferFrom(recipient, owner, 7); !errors.Is(err, ErrWrongOwner) {
		t.Fatalf("transfer from non-owner should fail, got %v", err)
	}
	if err := registry.TransferFrom(owner, [20]byte{}, 7); err == nil {
		t.Fatalf("transfer to the zero address should fail")
	}
	if err := registry.TransferFrom(owner, recipient, 7); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	got, err := registry.OwnerOf(7)
	if err != nil {
		t.Fatalf("OwnerOf: %v", err)
	}
	if got != recipient {
		t.Fatalf("unexpected owner after transfer %x", got)
	}
	approved, err := registry.GetApproved(7)
	if err != nil {
		t.Fatalf("GetApproved: %v", err)
	}
	if approved != ([20]byte{}) {
		t.Fatalf("transfer must clear the per-deed approval, got %x", approved)
	}
}
