package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/internal/testutil"
)

func TestPurchasesByParty(t *testing.T) {
	em := events.NewEmitter(nil)
	idx := New(testutil.NewMemDB(), em, nil)

	newPurchase := func(id string) events.Event {
		return events.Event{Type: events.EventEscrowNew, Data: map[string]any{
			"purchase_id": id, "buyer": "b1", "seller": "s1", "arbiter": "a1",
		}}
	}
	em.Emit(newPurchase("0x01"))
	em.Emit(newPurchase("0x02"))
	em.Emit(newPurchase("0x01"))

	for _, party := range []string{"b1", "s1", "a1"} {
		ids, err := idx.PurchasesByParty(party)
		require.NoError(t, err)
		assert.Equal(t, []string{"0x01", "0x02"}, ids, party)
	}
	ids, err := idx.PurchasesByParty("nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReceipts(t *testing.T) {
	em := events.NewEmitter(nil)
	idx := New(testutil.NewMemDB(), em, nil)

	em.Emit(events.Event{Type: events.EventTxExecuted, TxID: "t1", BlockHeight: 3})
	em.Emit(events.Event{Type: events.EventTxFailed, TxID: "t2", BlockHeight: 4,
		Data: map[string]any{"error": "deposit exceeds price"}})

	r, err := idx.Receipt("t1")
	require.NoError(t, err)
	assert.Equal(t, &core.Receipt{TxID: "t1", BlockHeight: 3, Status: core.ReceiptOK}, r)

	r, err = idx.Receipt("t2")
	require.NoError(t, err)
	assert.Equal(t, core.ReceiptFailed, r.Status)
	assert.Equal(t, "deposit exceeds price", r.Error)

	_, err = idx.Receipt("t3")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
