package escrow

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/crypto"
)

// PurchaseID derives the registry key of buyer's purchase of itemID:
// keccak256 over the 32-byte left-padded buyer identity followed by the
// 32-byte big-endian item id. For 20-byte identities this equals Solidity's
// keccak256(abi.encode(address, uint256)).
func PurchaseID(buyer string, itemID uint64) (common.Hash, error) {
	b, err := crypto.IdentityBytes(buyer)
	if err != nil {
		return common.Hash{}, ErrInvalidParty
	}
	var enc [64]byte
	copy(enc[32-len(b):32], b)
	item := uint256.NewInt(itemID).Bytes32()
	copy(enc[32:], item[:])
	return ethcrypto.Keccak256Hash(enc[:]), nil
}

// ParsePurchaseID accepts a 32-byte hex id with or without the 0x prefix.
func ParsePurchaseID(s string) (common.Hash, error) {
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, ErrInvalidPurchaseID
	}
	return common.BytesToHash(b), nil
}
