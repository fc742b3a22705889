package operations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/operations"
)

func TestSubmitOrder_FreshRun(t *testing.T) {
	runner := &fakeRunner{}
	runner.script("order.submit", `{
		"orderId": "ORD-17",
		"order": {"id":"ORD-17","status":"open"},
		"articles": [{"id":"L-1","data":{"qty":2}}]
	}`)
	ents := &fakeEntities{}
	rec := newFakeRecovery()
	reg := buildRegistry(t, runner, ents, &fakeSessions{}, t.TempDir())

	r := newInv(domain.OpSubmitOrder, "alice", `{"cartId":"cart-9","customerId":"C-1","articles":[{"articleId":"A-1","quantity":2}]}`, rec)
	res, err := handle(t, reg, domain.OpSubmitOrder, r)
	require.NoError(t, err)

	out, ok := res.(operations.OrderResult)
	require.True(t, ok)
	assert.Equal(t, "ORD-17", out.OrderID)

	require.Equal(t, 1, runner.count("order.submit"))
	assert.Equal(t, "sess-1", runner.calls[0].sessionID)

	// marker saved then cleared
	assert.Equal(t, 1, rec.saves)
	assert.Equal(t, 1, rec.clears)
	assert.Empty(t, rec.saved)

	// local mirror caught up: order row plus its lines
	require.Len(t, ents.upserts, 1)
	assert.Equal(t, "orders", ents.upserts[0].entity)
	assert.Equal(t, "ORD-17", ents.upserts[0].rows[0].ID)
	require.Len(t, ents.replaces, 1)
	assert.Equal(t, "ORD-17", ents.replaces[0].orderID)

	// first milestone is the one the office UI keys on
	require.NotEmpty(t, r.progress)
	assert.Equal(t, 10, r.progress[0].pct)
	assert.Equal(t, "Creazione ordine su Archibald", r.progress[0].label)
	last := r.progress[len(r.progress)-1]
	assert.Equal(t, 100, last.pct)
	assert.Equal(t, "Completato", last.label)
}

func TestSubmitOrder_BadPayloadIsUnrecoverable(t *testing.T) {
	runner := &fakeRunner{}
	reg := buildRegistry(t, runner, &fakeEntities{}, &fakeSessions{}, t.TempDir())

	r := newInv(domain.OpSubmitOrder, "alice", `{"customerId":"C-1"}`, newFakeRecovery())
	_, err := handle(t, reg, domain.OpSubmitOrder, r)
	require.Error(t, err)
	assert.True(t, domain.IsUnrecoverable(err))
	assert.Zero(t, runner.count("order.submit"), "browser must not be touched on a bad payload")
}

func TestSubmitOrder_RunnerResultMissingOrderID(t *testing.T) {
	runner := &fakeRunner{}
	runner.script("order.submit", `{"order":{}}`)
	rec := newFakeRecovery()
	reg := buildRegistry(t, runner, &fakeEntities{}, &fakeSessions{}, t.TempDir())

	r := newInv(domain.OpSubmitOrder, "alice", `{"cartId":"cart-9","customerId":"C-1","articles":[{"articleId":"A-1","quantity":1}]}`, rec)
	_, err := handle(t, reg, domain.OpSubmitOrder, r)
	require.Error(t, err)
	assert.True(t, domain.IsUnrecoverable(err))
	assert.Zero(t, rec.saves, "junk results must not become recovery markers")
}

// Bot succeeds, the local commit fails, the retry replays the saved result
// without a second browser call. Exactly one customer ends up in the ERP.
func TestCreateCustomer_CrashRecoveryReplay(t *testing.T) {
	runner := &fakeRunner{}
	runner.script("customer.create", `{"customerProfile":"CUST-001","customer":{"name":"New Corp S.r.l."}}`)
	ents := &fakeEntities{failUpserts: 1}
	rec := newFakeRecovery()
	reg := buildRegistry(t, runner, ents, &fakeSessions{}, t.TempDir())

	payload := `{"name":"New Corp S.r.l.","vatNumber":"IT01234567890"}`

	// first delivery: ERP write lands, local commit blows up
	r1 := newInv(domain.OpCreateCustomer, "alice", payload, rec)
	_, err := handle(t, reg, domain.OpCreateCustomer, r1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catch-up")
	require.Contains(t, rec.saved, "New Corp S.r.l.", "marker must survive the crash")
	assert.JSONEq(t,
		`{"customerProfile":"CUST-001","customer":{"name":"New Corp S.r.l."}}`,
		string(rec.saved["New Corp S.r.l."]))

	// retry: marker found, browser skipped, local commit succeeds
	r2 := newInv(domain.OpCreateCustomer, "alice", payload, rec)
	res, err := handle(t, reg, domain.OpCreateCustomer, r2)
	require.NoError(t, err)

	out := res.(operations.CustomerResult)
	assert.Equal(t, "CUST-001", out.CustomerProfile)
	assert.Equal(t, 1, runner.count("customer.create"), "ERP must see exactly one create")
	assert.Empty(t, rec.saved, "marker cleared after successful catch-up")
	require.Len(t, ents.upserts, 1)
	assert.Equal(t, "customers", ents.upserts[0].entity)
	assert.Equal(t, "CUST-001", ents.upserts[0].rows[0].ID)
	assert.Contains(t, r2.labels(), "Risultato precedente recuperato")
}

func TestUpdateCustomer_ProfileDefaultsToPayloadID(t *testing.T) {
	runner := &fakeRunner{}
	runner.script("customer.update", `{"customer":{"city":"Milano"}}`)
	ents := &fakeEntities{}
	reg := buildRegistry(t, runner, ents, &fakeSessions{}, t.TempDir())

	r := newInv(domain.OpUpdateCustomer, "alice", `{"customerId":"CUST-7","fields":{"city":"Milano"}}`, newFakeRecovery())
	res, err := handle(t, reg, domain.OpUpdateCustomer, r)
	require.NoError(t, err)

	out := res.(operations.CustomerResult)
	assert.Equal(t, "CUST-7", out.CustomerProfile)
	require.Len(t, ents.upserts, 1)
	assert.Equal(t, "CUST-7", ents.upserts[0].rows[0].ID)
}

func TestSendToVerona(t *testing.T) {
	runner := &fakeRunner{}
	runner.script("order.send_to_verona", `{"orderId":"ORD-17","order":{"status":"verona"}}`)
	ents := &fakeEntities{}
	reg := buildRegistry(t, runner, ents, &fakeSessions{}, t.TempDir())

	r := newInv(domain.OpSendToVerona, "alice", `{"orderId":"ORD-17"}`, newFakeRecovery())
	_, err := handle(t, reg, domain.OpSendToVerona, r)
	require.NoError(t, err)

	assert.Equal(t, 1, runner.count("order.send_to_verona"))
	require.Len(t, ents.upserts, 1)
	assert.Equal(t, "orders", ents.upserts[0].entity)
	assert.Contains(t, r.labels(), "Invio ordine a Verona")
}

func TestDeleteOrder_RemovesMirrorAndLines(t *testing.T) {
	runner := &fakeRunner{}
	runner.script("order.delete", `{"orderId":"ORD-17"}`)
	ents := &fakeEntities{}
	reg := buildRegistry(t, runner, ents, &fakeSessions{}, t.TempDir())

	r := newInv(domain.OpDeleteOrder, "alice", `{"orderId":"ORD-17"}`, newFakeRecovery())
	res, err := handle(t, reg, domain.OpDeleteOrder, r)
	require.NoError(t, err)

	out := res.(operations.DeleteOrderResult)
	assert.True(t, out.Deleted)
	assert.Equal(t, []string{"orders/alice/ORD-17"}, ents.deletes)
	require.Len(t, ents.replaces, 1)
	assert.Empty(t, ents.replaces[0].rows, "lines cleared, not replaced")
}

func TestWrite_SaveFailureStopsBeforeLocalWrites(t *testing.T) {
	runner := &fakeRunner{}
	runner.script("order.edit", `{"orderId":"ORD-17"}`)
	ents := &fakeEntities{}
	rec := newFakeRecovery()
	rec.saveErr = assert.AnError
	reg := buildRegistry(t, runner, ents, &fakeSessions{}, t.TempDir())

	r := newInv(domain.OpEditOrder, "alice", `{"orderId":"ORD-17","articles":[{"articleId":"A-1","quantity":3}]}`, rec)
	_, err := handle(t, reg, domain.OpEditOrder, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=operations.edit_order: save")
	assert.Empty(t, ents.upserts, "local mirror untouched when the marker cannot be saved")
	assert.Zero(t, rec.clears)
}
