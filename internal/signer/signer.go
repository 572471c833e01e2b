// Package signer provides the concrete, injectable wallet/key adapter that
// satisfies the gateway's "a signer object is injected" boundary. Wallet and
// key management are themselves out of scope for this gateway; this package
// is the reference implementation something has to inject, grounded in the
// pack's Hyperliquid-convention action-signing reference (msgpack-encoded
// action, nonce, and optional vault address, keccak256-hashed and EIP-712
// signed under an "Agent" typed-data message).
package signer

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"
)

// Signature is the r/s/v components of an ECDSA signature, the shape the
// upstream exchange's order/cancel/leverage endpoints expect alongside the
// signed action.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// Signer is the capability the upstream transport depends on; it never
// touches private key material directly.
type Signer interface {
	Address() common.Address
	SignAction(action any, nonce int64, vaultAddress *common.Address, isMainnet bool) (Signature, error)
}

// EIP712Signer signs upstream exchange actions with an EOA private key.
type EIP712Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// New parses a hex-encoded private key (with or without 0x prefix) and
// derives the signer's address.
func New(hexKey string) (*EIP712Signer, error) {
	key := strings.TrimPrefix(hexKey, "0x")
	pk, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &EIP712Signer{
		privateKey: pk,
		address:    crypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *EIP712Signer) Address() common.Address {
	return s.address
}

// SignAction msgpack-encodes action, appends the nonce and vault-address
// marker, hashes with keccak256, and signs the hash as an EIP-712 "Agent"
// message under the "Exchange" domain.
func (s *EIP712Signer) SignAction(action any, nonce int64, vaultAddress *common.Address, isMainnet bool) (Signature, error) {
	hash, err := hashAction(action, nonce, vaultAddress)
	if err != nil {
		return Signature{}, fmt.Errorf("hash action: %w", err)
	}

	source := "b"
	if isMainnet {
		source = "a"
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           (*ethmath.HexOrDecimal256)(big.NewInt(1337)),
			VerifyingContract: "0x0000000000000000000000000000000000000000",
		},
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": hash,
		},
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return Signature{}, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}

	v := int(sig[64])
	if v < 27 {
		v += 27
	}

	return Signature{
		R: "0x" + common.Bytes2Hex(sig[:32]),
		S: "0x" + common.Bytes2Hex(sig[32:64]),
		V: v,
	}, nil
}

// hashAction mirrors the pack's reference wire convention: msgpack-encode
// the action, append an 8-byte big-endian nonce, then a 0x00 byte (no vault)
// or a 0x01 byte followed by the vault address, then keccak256 the result.
func hashAction(action any, nonce int64, vaultAddress *common.Address) ([]byte, error) {
	encoded, err := msgpack.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode action: %w", err)
	}

	buf := make([]byte, 0, len(encoded)+9+20)
	buf = append(buf, encoded...)

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))
	buf = append(buf, nonceBytes[:]...)

	if vaultAddress == nil {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
		buf = append(buf, vaultAddress.Bytes()...)
	}

	return crypto.Keccak256(buf), nil
}
