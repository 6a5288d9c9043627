package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolescrow/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer       TxType = "transfer"
	TxEscrowCreate   TxType = "escrow_create"
	TxEscrowDeposit  TxType = "escrow_deposit"
	TxEscrowComplete TxType = "escrow_complete"
	TxEscrowCancel   TxType = "escrow_cancel"
)

// Transaction is the atomic unit of work on the ledger.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	})
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	if err := crypto.VerifyHex(tx.From, []byte(tx.Hash()), tx.Signature); err != nil {
		return fmt.Errorf("tx %s: %w", tx.ID, err)
	}
	return nil
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// EscrowCreatePayload opens a purchase. The sender must be Buyer or Arbiter.
type EscrowCreatePayload struct {
	Buyer   string `json:"buyer"`
	Seller  string `json:"seller"`
	Arbiter string `json:"arbiter"`
	ItemID  uint64 `json:"item_id"`
	Price   uint64 `json:"price"`
}

// EscrowDepositPayload attaches Amount of the sender's balance to the
// sender's purchase of ItemID.
type EscrowDepositPayload struct {
	ItemID uint64 `json:"item_id"`
	Amount uint64 `json:"amount"`
}

// EscrowCompletePayload releases Buyer's purchase of ItemID to the seller.
// Only the purchase's arbiter may send it.
type EscrowCompletePayload struct {
	Buyer  string `json:"buyer"`
	ItemID uint64 `json:"item_id"`
}

// EscrowCancelPayload refunds the sender's purchase of ItemID.
type EscrowCancelPayload struct {
	ItemID uint64 `json:"item_id"`
}
