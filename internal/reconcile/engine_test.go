package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/romaneios/internal/inventory"
	"github.com/odyssey-erp/romaneios/internal/locks"
	"github.com/odyssey-erp/romaneios/internal/romaneio"
	"github.com/odyssey-erp/romaneios/internal/shared"
)

type pushCall struct {
	externalID int64
	status     string
}

type fakeGateway struct {
	mu       sync.Mutex
	receipts map[string]*inventory.Receipt
	fetchErr map[string]error
	pushErr  error
	pushed   []pushCall
	fetches  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{receipts: make(map[string]*inventory.Receipt), fetchErr: make(map[string]error)}
}

func (g *fakeGateway) set(purchaseOrder string, externalID *int64, items ...inventory.Item) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.receipts[purchaseOrder] = &inventory.Receipt{PurchaseOrder: purchaseOrder, ExternalID: externalID, Items: items}
}

func (g *fakeGateway) FetchItems(ctx context.Context, purchaseOrder string) (*inventory.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if err := g.fetchErr[purchaseOrder]; err != nil {
		return nil, err
	}
	return g.receipts[purchaseOrder], nil
}

func (g *fakeGateway) Create(ctx context.Context, input inventory.CreateInput) (inventory.CreateResult, error) {
	return inventory.CreateResult{}, errors.New("not used")
}

func (g *fakeGateway) UpdateStatus(ctx context.Context, externalID int64, status string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushed = append(g.pushed, pushCall{externalID: externalID, status: status})
	return g.pushErr
}

func qty(v int64) *int64 { return &v }

func remoteItem(code string, invoiced int64, counted *int64) inventory.Item {
	return inventory.Item{Code: code, Description: "item " + code, QuantityInvoiced: invoiced, QuantityCounted: counted}
}

func seedRomaneio(t *testing.T, store romaneio.Store, r romaneio.Romaneio, items ...romaneio.Item) romaneio.Romaneio {
	t.Helper()
	if r.Status == "" {
		r.Status = romaneio.StatusPending
	}
	if r.AccessKey == "" {
		r.AccessKey = "35240112345678000199550010000012341000012345"
	}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r.CreatedAt, r.UpdatedAt = now, now
	err := store.WithTx(context.Background(), func(ctx context.Context, tx romaneio.TxStore) error {
		id, err := tx.InsertRomaneio(ctx, r)
		if err != nil {
			return err
		}
		r.ID = id
		for _, item := range items {
			item.RomaneioID = id
			if _, err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return r
}

func newTestEngine(store romaneio.Store, gateway inventory.Gateway, locker locks.Locker) *Engine {
	clock := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	return NewEngine(store, gateway, locker, 3, nil, WithClock(func() time.Time { return clock }))
}

func TestVerifyMatchedTransitionsToOpen(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"})
	gw.set("PO-1", qty(321), remoteItem("A", 100, qty(100)), remoteItem("B", 50, qty(50)))

	res, err := newTestEngine(store, gw, nil).Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeMatched, res.Outcome)
	require.Equal(t, romaneio.StatusOpen, res.Status)
	require.Equal(t, 1, res.Attempt)

	got, err := store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, romaneio.StatusOpen, got.Status)
	require.Equal(t, 1, got.AttemptCount)
	require.Equal(t, int64(321), *got.ExternalID)

	items, err := store.Items(context.Background(), r.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	logs, err := store.Logs(context.Background(), r.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, romaneio.ActionVerified, logs[0].Action)
	require.Equal(t, romaneio.StatusPending, *logs[0].PreviousStatus)
	require.Equal(t, romaneio.StatusOpen, *logs[0].NewStatus)
	require.Equal(t, 1, *logs[0].Attempt)
	require.Nil(t, logs[0].ActorID)

	require.Equal(t, []pushCall{{externalID: 321, status: "A"}}, gw.pushed)
}

func TestVerifyDivergentKeepsPending(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"})
	gw.set("PO-1", qty(321), remoteItem("A", 100, qty(100)), remoteItem("B", 50, qty(40)))

	res, err := newTestEngine(store, gw, nil).Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeDivergentRetry, res.Outcome)
	require.Equal(t, 1, res.Attempt)
	require.Len(t, res.Divergent, 1)

	got, _ := store.Get(context.Background(), r.ID)
	require.Equal(t, romaneio.StatusPending, got.Status)
	require.Equal(t, 1, got.AttemptCount)
	require.True(t, got.CanVerify(3))

	logs, _ := store.Logs(context.Background(), r.ID)
	require.Len(t, logs, 1)
	require.Equal(t, romaneio.ActionVerified, logs[0].Action)
	require.Equal(t, romaneio.StatusPending, *logs[0].NewStatus)
	require.Contains(t, logs[0].Details, "B: invoiced=50, counted=40 (diff: -10)")
	require.NotContains(t, logs[0].Details, "A:")
	require.Empty(t, gw.pushed)
}

func TestVerifyAwaitingCountBurnsNoAttempt(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1", AttemptCount: 1})
	gw.set("PO-1", qty(321), remoteItem("A", 100, qty(100)), remoteItem("B", 50, nil))

	res, err := newTestEngine(store, gw, nil).Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingCount, res.Outcome)
	require.Equal(t, 1, res.Attempt)

	got, _ := store.Get(context.Background(), r.ID)
	require.Equal(t, romaneio.StatusPending, got.Status)
	require.Equal(t, 1, got.AttemptCount)
	require.Equal(t, int64(321), *got.ExternalID)

	items, _ := store.Items(context.Background(), r.ID)
	require.Len(t, items, 2)
	byCode := map[string]romaneio.Item{}
	for _, item := range items {
		byCode[item.Code] = item
	}
	require.Equal(t, int64(100), *byCode["A"].QuantityCounted)
	require.Nil(t, byCode["B"].QuantityCounted)

	logs, _ := store.Logs(context.Background(), r.ID)
	require.Empty(t, logs)
}

func TestVerifyAllUncountedNeverChangesState(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"})
	gw.set("PO-1", nil, remoteItem("A", 100, nil), remoteItem("B", 50, nil))
	engine := newTestEngine(store, gw, nil)

	for i := 0; i < 5; i++ {
		res, err := engine.Verify(context.Background(), r.ID)
		require.NoError(t, err)
		require.Equal(t, OutcomeAwaitingCount, res.Outcome)
	}
	got, _ := store.Get(context.Background(), r.ID)
	require.Equal(t, romaneio.StatusPending, got.Status)
	require.Zero(t, got.AttemptCount)
	require.Nil(t, got.ExternalID)
}

func TestVerifyExhaustsAttempts(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"})
	gw.set("PO-1", qty(9), remoteItem("A", 100, qty(100)), remoteItem("B", 50, qty(40)))
	engine := newTestEngine(store, gw, nil)

	expected := []Outcome{OutcomeDivergentRetry, OutcomeDivergentRetry, OutcomeMaxAttemptsExhausted}
	for i, want := range expected {
		res, err := engine.Verify(context.Background(), r.ID)
		require.NoError(t, err)
		require.Equal(t, want, res.Outcome)
		require.Equal(t, i+1, res.Attempt)
	}

	got, _ := store.Get(context.Background(), r.ID)
	require.Equal(t, 3, got.AttemptCount)
	require.Equal(t, romaneio.StatusPending, got.Status)
	require.False(t, got.CanVerify(engine.MaxAttempts()))

	logs, _ := store.Logs(context.Background(), r.ID)
	require.Len(t, logs, 3)
	require.Equal(t, romaneio.ActionMaxAttemptsReached, logs[0].Action)
	require.Contains(t, logs[0].Details, "Maximum attempts reached (3).")
	require.Contains(t, logs[0].Details, "B: invoiced=50, counted=40 (diff: -10)")

	fetches := gw.fetches
	res, err := engine.Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeNotEligible, res.Outcome)
	require.Equal(t, fetches, gw.fetches)

	got, _ = store.Get(context.Background(), r.ID)
	require.Equal(t, 3, got.AttemptCount)
}

func TestVerifyAttemptNeverExceedsMax(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"})
	engine := newTestEngine(store, gw, nil)

	counts := []*int64{qty(1), nil, qty(2), nil, qty(3), qty(4), qty(5), qty(6)}
	for _, counted := range counts {
		gw.set("PO-1", nil, remoteItem("A", 10, counted))
		_, err := engine.Verify(context.Background(), r.ID)
		require.NoError(t, err)
		got, _ := store.Get(context.Background(), r.ID)
		require.LessOrEqual(t, got.AttemptCount, engine.MaxAttempts())
	}
}

func TestVerifyNoDataHasNoSideEffects(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"})
	engine := newTestEngine(store, gw, nil)

	res, err := engine.Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoData, res.Outcome)

	gw.set("PO-1", qty(5))
	res, err = engine.Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoData, res.Outcome)

	got, _ := store.Get(context.Background(), r.ID)
	require.Equal(t, r.UpdatedAt, got.UpdatedAt)
	require.Nil(t, got.ExternalID)
	logs, _ := store.Logs(context.Background(), r.ID)
	require.Empty(t, logs)
}

func TestVerifyFinalizedIsNotEligible(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1", Status: romaneio.StatusFinalized})
	gw.set("PO-1", nil, remoteItem("A", 1, qty(1)))

	res, err := newTestEngine(store, gw, nil).Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeNotEligible, res.Outcome)
	require.Zero(t, gw.fetches)
}

func TestVerifyRemoteErrorIsLogged(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1", AttemptCount: 2})
	remoteErr := &inventory.RemoteError{Op: "fetch items", StatusCode: 502, Err: errors.New("bad gateway")}
	gw.fetchErr["PO-1"] = remoteErr

	res, err := newTestEngine(store, gw, nil).Verify(context.Background(), r.ID)
	require.Error(t, err)
	var target *inventory.RemoteError
	require.ErrorAs(t, err, &target)
	require.Equal(t, OutcomeError, res.Outcome)

	got, _ := store.Get(context.Background(), r.ID)
	require.Equal(t, 2, got.AttemptCount)

	logs, _ := store.Logs(context.Background(), r.ID)
	require.Len(t, logs, 1)
	require.Equal(t, romaneio.ActionVerificationError, logs[0].Action)
	require.Equal(t, 2, *logs[0].Attempt)
	require.Contains(t, logs[0].Details, "bad gateway")
}

// failingStore fails the log insert so the whole unit must roll back.
type failingStore struct {
	*romaneio.MemoryStore
}

type failingTx struct {
	romaneio.TxStore
}

func (s failingStore) WithTx(ctx context.Context, fn func(context.Context, romaneio.TxStore) error) error {
	return s.MemoryStore.WithTx(ctx, func(ctx context.Context, tx romaneio.TxStore) error {
		return fn(ctx, failingTx{TxStore: tx})
	})
}

func (failingTx) InsertLog(ctx context.Context, log romaneio.Log) (int64, error) {
	return 0, errors.New("disk full")
}

func TestVerifyRollsBackOnStorageFailure(t *testing.T) {
	mem := romaneio.NewMemoryStore()
	store := failingStore{MemoryStore: mem}
	gw := newFakeGateway()
	r := seedRomaneio(t, mem, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"},
		romaneio.Item{Code: "A", QuantityInvoiced: 100})
	gw.set("PO-1", qty(7), remoteItem("A", 100, qty(100)), remoteItem("B", 50, qty(50)))

	_, err := newTestEngine(store, gw, nil).Verify(context.Background(), r.ID)
	require.ErrorContains(t, err, "disk full")

	got, _ := mem.Get(context.Background(), r.ID)
	require.Equal(t, romaneio.StatusPending, got.Status)
	require.Zero(t, got.AttemptCount)
	require.Nil(t, got.ExternalID)

	items, _ := mem.Items(context.Background(), r.ID)
	require.Len(t, items, 1)
	require.Nil(t, items[0].QuantityCounted)

	logs, _ := mem.Logs(context.Background(), r.ID)
	require.Len(t, logs, 1)
	require.Equal(t, romaneio.ActionVerificationError, logs[0].Action)
	require.Empty(t, gw.pushed)
}

func TestVerifyStatusPushFailureKeepsLocalState(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	gw.pushErr = errors.New("remote down")
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"})
	gw.set("PO-1", qty(11), remoteItem("A", 1, qty(1)))

	res, err := newTestEngine(store, gw, nil).Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeMatched, res.Outcome)
	require.Len(t, gw.pushed, 1)

	got, _ := store.Get(context.Background(), r.ID)
	require.Equal(t, romaneio.StatusOpen, got.Status)
}

func TestVerifyWithoutExternalIDSkipsPush(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"})
	gw.set("PO-1", nil, remoteItem("A", 1, qty(1)))

	res, err := newTestEngine(store, gw, nil).Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeMatched, res.Outcome)
	require.Empty(t, gw.pushed)
}

func TestVerifyKeepsUnreportedLocalItems(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"},
		romaneio.Item{Code: "OLD", QuantityInvoiced: 5, QuantityCounted: qty(5)},
		romaneio.Item{Code: "GONE", QuantityInvoiced: 3})
	gw.set("PO-1", nil, remoteItem("OLD", 5, qty(5)), remoteItem("NEW", 2, qty(2)))

	res, err := newTestEngine(store, gw, nil).Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeDivergentRetry, res.Outcome)
	require.Len(t, res.Divergent, 1)
	require.Equal(t, "GONE", res.Divergent[0].Code)

	items, _ := store.Items(context.Background(), r.ID)
	require.Len(t, items, 3)
}

func TestVerifySkipsBusyRecord(t *testing.T) {
	store := romaneio.NewMemoryStore()
	gw := newFakeGateway()
	locker := locks.NewLocal()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"})
	gw.set("PO-1", nil, remoteItem("A", 1, qty(1)))

	release, err := locker.Acquire(context.Background(), shared.RomaneioLockKey(r.ID))
	require.NoError(t, err)
	defer release()

	res, err := newTestEngine(store, gw, locker).Verify(context.Background(), r.ID)
	require.ErrorIs(t, err, locks.ErrBusy)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Zero(t, gw.fetches)

	logs, _ := store.Logs(context.Background(), r.ID)
	require.Empty(t, logs)
}

func TestVerifyMissingRecord(t *testing.T) {
	_, err := newTestEngine(romaneio.NewMemoryStore(), newFakeGateway(), nil).Verify(context.Background(), 404)
	require.ErrorIs(t, err, romaneio.ErrNotFound)
}

func TestVerifyOfflineGateway(t *testing.T) {
	store := romaneio.NewMemoryStore()
	r := seedRomaneio(t, store, romaneio.Romaneio{PurchaseOrder: "PO-1", InvoiceNumber: "NF-1"})

	res, err := newTestEngine(store, inventory.NewOffline(), nil).Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeMatched, res.Outcome)

	got, _ := store.Get(context.Background(), r.ID)
	require.Equal(t, inventory.OfflineExternalID, *got.ExternalID)
}
