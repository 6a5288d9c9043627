package wallet

import "github.com/tolelom/tolescrow/core"

// CreateEscrow builds an escrow_create transaction. The wallet must be the
// buyer or the arbiter of the agreement.
func (w *Wallet) CreateEscrow(chainID string, p core.EscrowCreatePayload, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxEscrowCreate, nonce, fee, p)
}

// Deposit pays amount towards the wallet's purchase of itemID.
func (w *Wallet) Deposit(chainID string, itemID, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxEscrowDeposit, nonce, fee, core.EscrowDepositPayload{
		ItemID: itemID,
		Amount: amount,
	})
}

// CompletePurchase releases buyer's purchase of itemID to the seller. The
// wallet must be the arbiter.
func (w *Wallet) CompletePurchase(chainID, buyer string, itemID, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxEscrowComplete, nonce, fee, core.EscrowCompletePayload{
		Buyer:  buyer,
		ItemID: itemID,
	})
}

// Cancel refunds the wallet's purchase of itemID.
func (w *Wallet) Cancel(chainID string, itemID, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxEscrowCancel, nonce, fee, core.EscrowCancelPayload{ItemID: itemID})
}
