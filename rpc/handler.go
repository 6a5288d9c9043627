package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
	"github.com/tolelom/tolescrow/indexer"
	"github.com/tolelom/tolescrow/vm/modules/escrow"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getBalance":
		return h.getBalance(req)

	case "getPurchase":
		return h.getPurchase(req)

	case "getPurchaseByItem":
		return h.getPurchaseByItem(req)

	case "getPurchaseHistory":
		return h.getPurchaseHistory(req)

	case "getPurchasesByParty":
		return h.getPurchasesByParty(req)

	case "derivePurchaseId":
		return h.derivePurchaseID(req)

	case "getReceipt":
		return h.getReceipt(req)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if errors.Is(err, core.ErrNotFound) || (err == nil && block == nil) {
		return errResponse(req.ID, CodeNotFound, "block not found")
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

// purchaseView adds the readable status name to a purchase record.
type purchaseView struct {
	*core.Purchase
	StatusName string `json:"status_name"`
}

func viewOf(p *core.Purchase) purchaseView {
	return purchaseView{Purchase: p, StatusName: p.Status.String()}
}

// lookupError maps escrow and storage errors to JSON-RPC codes.
func lookupError(id any, err error) Response {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return errResponse(id, CodeNotFound, "purchase not found")
	case errors.Is(err, escrow.ErrInvalidPurchaseID), errors.Is(err, escrow.ErrInvalidParty):
		return errResponse(id, CodeInvalidParams, err.Error())
	default:
		return errResponse(id, CodeInternalError, err.Error())
	}
}

func (h *Handler) getPurchase(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	p, err := escrow.Lookup(h.state, params.ID)
	if err != nil {
		return lookupError(req.ID, err)
	}
	return okResponse(req.ID, viewOf(p))
}

type itemParams struct {
	Buyer  string  `json:"buyer"`
	ItemID *uint64 `json:"item_id"`
}

func (p itemParams) check() string {
	if p.Buyer == "" {
		return "buyer is required"
	}
	if p.ItemID == nil {
		return "item_id is required"
	}
	return ""
}

func (h *Handler) getPurchaseByItem(req Request) Response {
	var params itemParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if msg := params.check(); msg != "" {
		return errResponse(req.ID, CodeInvalidParams, msg)
	}
	p, err := escrow.LookupItem(h.state, params.Buyer, *params.ItemID)
	if err != nil {
		return lookupError(req.ID, err)
	}
	return okResponse(req.ID, viewOf(p))
}

func (h *Handler) derivePurchaseID(req Request) Response {
	var params itemParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if msg := params.check(); msg != "" {
		return errResponse(req.ID, CodeInvalidParams, msg)
	}
	id, err := escrow.PurchaseID(params.Buyer, *params.ItemID)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	return okResponse(req.ID, map[string]string{"id": id.Hex()})
}

func (h *Handler) getPurchaseHistory(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	hist, err := escrow.History(h.state, params.ID)
	if err != nil {
		return lookupError(req.ID, err)
	}
	out := make([]purchaseView, len(hist))
	for i, p := range hist {
		out[i] = viewOf(p)
	}
	return okResponse(req.ID, out)
}

func (h *Handler) getPurchasesByParty(req Request) Response {
	var params struct {
		Party string `json:"party"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	party, err := crypto.CanonicalIdentity(params.Party)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "party: "+err.Error())
	}
	ids, err := h.indexer.PurchasesByParty(party)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if ids == nil {
		ids = []string{}
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getReceipt(req Request) Response {
	var params struct {
		TxID string `json:"tx_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.TxID == "" {
		return errResponse(req.ID, CodeInvalidParams, "tx_id is required")
	}
	r, err := h.indexer.Receipt(params.TxID)
	if errors.Is(err, core.ErrNotFound) {
		return errResponse(req.ID, CodeNotFound, "receipt not found")
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, r)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeRejected, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}
