package signer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const testPrivateKey = "0x4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"

func TestNewDerivesAddress(t *testing.T) {
	t.Parallel()

	s, err := New(testPrivateKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Error("Address() returned the zero address")
	}
}

func TestNewAcceptsKeyWithoutPrefix(t *testing.T) {
	t.Parallel()

	withPrefix, err := New(testPrivateKey)
	if err != nil {
		t.Fatalf("New(with prefix): %v", err)
	}
	withoutPrefix, err := New(testPrivateKey[2:])
	if err != nil {
		t.Fatalf("New(without prefix): %v", err)
	}
	if withPrefix.Address() != withoutPrefix.Address() {
		t.Error("prefix-stripping changed the derived address")
	}
}

func TestSignActionDeterministicForSameNonce(t *testing.T) {
	t.Parallel()

	s, err := New(testPrivateKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	action := map[string]any{"type": "order", "orders": []int{1, 2, 3}}

	sig1, err := s.SignAction(action, 42, nil, false)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	sig2, err := s.SignAction(action, 42, nil, false)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	if sig1 != sig2 {
		t.Errorf("SignAction not deterministic: %+v vs %+v", sig1, sig2)
	}
}

func TestSignActionVariesWithNonce(t *testing.T) {
	t.Parallel()

	s, err := New(testPrivateKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	action := map[string]any{"type": "order"}

	sig1, err := s.SignAction(action, 1, nil, false)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	sig2, err := s.SignAction(action, 2, nil, false)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	if sig1 == sig2 {
		t.Error("SignAction produced identical signatures for different nonces")
	}
}

func TestSignActionVariesWithVaultAddress(t *testing.T) {
	t.Parallel()

	s, err := New(testPrivateKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	action := map[string]any{"type": "order"}
	vault := common.HexToAddress("0x1111111111111111111111111111111111111111")

	withoutVault, err := s.SignAction(action, 7, nil, false)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	withVault, err := s.SignAction(action, 7, &vault, false)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	if withoutVault == withVault {
		t.Error("SignAction ignored the vault address")
	}
}
