package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/indexer"
	"github.com/tolelom/tolescrow/internal/testutil"
	"github.com/tolelom/tolescrow/storage"
	"github.com/tolelom/tolescrow/vm"
	"github.com/tolelom/tolescrow/vm/modules/escrow"
	"github.com/tolelom/tolescrow/wallet"
)

type fixture struct {
	t       *testing.T
	state   *storage.StateDB
	exec    *vm.Executor
	mempool *core.Mempool
	handler *Handler
	buyer   *wallet.Wallet
	seller  *wallet.Wallet
	arbiter *wallet.Wallet
	height  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := testutil.NewStateDB()
	em := events.NewEmitter(nil)
	idx := indexer.New(testutil.NewMemDB(), em, nil)

	reg := vm.NewRegistry()
	escrow.Register(reg, escrow.New(escrow.Config{}))

	bc := core.NewBlockchain(testutil.NewBlockStore())
	require.NoError(t, bc.Init())
	mempool := core.NewMempool(testutil.ChainID, 0)

	f := &fixture{
		t:       t,
		state:   state,
		exec:    vm.NewExecutor(state, em, vm.WithRegistry(reg)),
		mempool: mempool,
		handler: NewHandler(bc, mempool, state, idx, testutil.ChainID),
	}
	f.buyer = testutil.NewWallet(t, state, 5_000)
	f.seller = testutil.NewWallet(t, state, 0)
	f.arbiter = testutil.NewWallet(t, state, 0)
	return f
}

func (f *fixture) exec1(tx *core.Transaction, err error) *core.Receipt {
	f.t.Helper()
	require.NoError(f.t, err)
	f.height++
	r, err := f.exec.ExecuteTx(testutil.BlockAt(f.height, time.Now().UnixNano()), tx)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) call(method string, params any) Response {
	f.t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(f.t, err)
	return f.handler.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
}

func decodeResult(t *testing.T, resp Response, v any) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func (f *fixture) openPurchase(item uint64) *core.Receipt {
	return f.exec1(f.buyer.CreateEscrow(testutil.ChainID, escrow.CreateParams{
		Buyer:   f.buyer.PubKey(),
		Seller:  f.seller.PubKey(),
		Arbiter: f.arbiter.PubKey(),
		ItemID:  item,
		Price:   1_000,
	}, testutil.Nonce(f.t, f.state, f.buyer.PubKey()), 0))
}

func TestPurchaseQueries(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, core.ReceiptOK, f.openPurchase(3).Status)

	var derived map[string]string
	decodeResult(t, f.call("derivePurchaseId", map[string]any{"buyer": f.buyer.PubKey(), "item_id": 3}), &derived)
	want, err := escrow.PurchaseID(f.buyer.PubKey(), 3)
	require.NoError(t, err)
	assert.Equal(t, want.Hex(), derived["id"])

	var byID, byItem struct {
		ID         string `json:"id"`
		Status     int    `json:"status"`
		StatusName string `json:"status_name"`
		Price      uint64 `json:"price"`
	}
	decodeResult(t, f.call("getPurchase", map[string]string{"id": derived["id"]}), &byID)
	assert.Equal(t, derived["id"], byID.ID)
	assert.Equal(t, int(core.StatusCreated), byID.Status)
	assert.Equal(t, "created", byID.StatusName)
	assert.Equal(t, uint64(1_000), byID.Price)

	decodeResult(t, f.call("getPurchaseByItem", map[string]any{"buyer": f.buyer.PubKey(), "item_id": 3}), &byItem)
	assert.Equal(t, byID, byItem)

	var parties []string
	decodeResult(t, f.call("getPurchasesByParty", map[string]string{"party": f.arbiter.PubKey()}), &parties)
	assert.Equal(t, []string{derived["id"]}, parties)

	var hist []json.RawMessage
	decodeResult(t, f.call("getPurchaseHistory", map[string]string{"id": derived["id"]}), &hist)
	assert.Empty(t, hist)
}

func TestPurchaseQueryErrors(t *testing.T) {
	f := newFixture(t)

	resp := f.call("getPurchase", map[string]string{"id": "0xnope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	missing, err := escrow.PurchaseID(f.buyer.PubKey(), 1)
	require.NoError(t, err)
	resp = f.call("getPurchase", map[string]string{"id": missing.Hex()})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)

	resp = f.call("getPurchaseByItem", map[string]any{"buyer": f.buyer.PubKey()})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "item_id is required", resp.Error.Message)

	resp = f.call("derivePurchaseId", map[string]any{"buyer": "zz", "item_id": 1})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	resp = f.call("noSuchMethod", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestGetReceipt(t *testing.T) {
	f := newFixture(t)
	tx, err := f.buyer.Deposit(testutil.ChainID, 9, 10, 0, 0)
	r := f.exec1(tx, err)
	require.Equal(t, core.ReceiptFailed, r.Status)

	var got core.Receipt
	decodeResult(t, f.call("getReceipt", map[string]string{"tx_id": tx.ID}), &got)
	assert.Equal(t, core.ReceiptFailed, got.Status)
	assert.Equal(t, escrow.ErrOnlyBuyerDeposit.Msg, got.Error)

	resp := f.call("getReceipt", map[string]string{"tx_id": "unknown"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestSendTx(t *testing.T) {
	f := newFixture(t)

	foreign, err := f.buyer.Cancel("other-chain", 1, 0, 0)
	require.NoError(t, err)
	resp := f.call("sendTx", foreign)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	tx, err := f.buyer.Cancel(testutil.ChainID, 1, 0, 0)
	require.NoError(t, err)
	var out map[string]string
	decodeResult(t, f.call("sendTx", tx), &out)
	assert.Equal(t, tx.ID, out["tx_id"])
	assert.Equal(t, 1, f.mempool.Size())

	resp = f.call("sendTx", tx)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRejected, resp.Error.Code)
}

func TestGetBalance(t *testing.T) {
	f := newFixture(t)
	var out struct {
		Balance uint64 `json:"balance"`
	}
	decodeResult(t, f.call("getBalance", map[string]string{"address": f.buyer.PubKey()}), &out)
	assert.Equal(t, uint64(5_000), out.Balance)
}

func post(t *testing.T, s *Server, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestServerAuth(t *testing.T) {
	f := newFixture(t)
	s := NewServer(ServerConfig{Addr: "127.0.0.1:0", AuthToken: "secret"}, f.handler)
	body := `{"jsonrpc":"2.0","id":1,"method":"getMempoolSize"}`

	var resp Response
	require.NoError(t, json.Unmarshal(post(t, s, body, "wrong").Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnauthorized, resp.Error.Code)

	resp = Response{}
	require.NoError(t, json.Unmarshal(post(t, s, body, "secret").Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
	assert.EqualValues(t, 0, resp.Result)
}

func TestServerRateLimit(t *testing.T) {
	f := newFixture(t)
	s := NewServer(ServerConfig{Addr: "127.0.0.1:0", RateLimit: 1}, f.handler)
	body := `{"jsonrpc":"2.0","id":1,"method":"getBlockHeight"}`

	assert.Equal(t, http.StatusOK, post(t, s, body, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, post(t, s, body, "").Code)
}

func TestServerMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	s := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, f.handler)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
