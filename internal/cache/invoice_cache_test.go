package cache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hydrotreat/invoice-review/internal/capability"
	"github.com/hydrotreat/invoice-review/internal/record"
	"github.com/hydrotreat/invoice-review/pkg/database"
)

func newTestCache(t *testing.T) *InvoiceCache {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "cache.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c, err := New(db, zap.NewNop())
	require.NoError(t, err)
	return c
}

func cachedInvoice(division string, id int64, status string) *record.Invoice {
	return &record.Invoice{
		ID:            id,
		Division:      division,
		InvoiceNumber: "INV-" + division,
		Status:        status,
		LineItems: []record.LineItem{
			{Description: "Pump", Quantity: "1", UnitPrice: "10", LineTotal: "10"},
		},
	}
}

func TestCache_PutInvoicesAndListInOrder(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.PutInvoices("water", []*record.Invoice{
		cachedInvoice("water", 3, "pending"),
		cachedInvoice("water", 1, "pending"),
		cachedInvoice("water", 2, "approved"),
	}))

	listed, err := c.ListDivision("water", capability.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, listed, 3)

	// Backend listing order survives the round trip, not id order.
	var ids []int64
	for _, inv := range listed {
		ids = append(ids, inv.ID)
	}
	assert.Equal(t, []int64{3, 1, 2}, ids)
}

func TestCache_RefreshReplacesDivision(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.PutInvoices("water", []*record.Invoice{
		cachedInvoice("water", 1, "pending"),
		cachedInvoice("water", 2, "pending"),
	}))
	require.NoError(t, c.PutInvoices("water", []*record.Invoice{
		cachedInvoice("water", 2, "pending"),
	}))

	listed, err := c.ListDivision("water", capability.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(2), listed[0].ID)

	_, err = c.Get(record.Key{Division: "water", ID: 1})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCache_DivisionsAreIndependent(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.PutInvoices("water", []*record.Invoice{cachedInvoice("water", 1, "pending")}))
	require.NoError(t, c.PutInvoices("engineering", []*record.Invoice{cachedInvoice("engineering", 1, "pending")}))
	require.NoError(t, c.PutInvoices("water", nil))

	listed, err := c.ListDivision("engineering", capability.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestCache_GetRoundTripsTheRecord(t *testing.T) {
	c := newTestCache(t)
	inv := cachedInvoice("water", 42, "pending")
	inv.SupplierName = "Aqua Pumps Ltd"

	require.NoError(t, c.PutInvoices("water", []*record.Invoice{inv}))

	got, err := c.Get(record.Key{Division: "water", ID: 42})
	require.NoError(t, err)
	assert.Equal(t, "Aqua Pumps Ltd", got.SupplierName)
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, "10", got.LineItems[0].UnitPrice)
	assert.Equal(t, "water", got.Division)
}

func TestCache_RejectedHiddenFromNonAdmins(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.PutInvoices("water", []*record.Invoice{
		cachedInvoice("water", 1, "pending"),
		cachedInvoice("water", 2, "rejected"),
		cachedInvoice("water", 3, "approved"),
	}))

	for _, role := range []capability.Role{capability.RoleGate, capability.RoleStore, capability.RoleUser} {
		listed, err := c.ListDivision("water", role)
		require.NoError(t, err)
		require.Len(t, listed, 2, "role %s", role)
		assert.Equal(t, int64(1), listed[0].ID)
		assert.Equal(t, int64(3), listed[1].ID)
	}

	all, err := c.ListDivision("water", capability.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCache_PutUpdatesInPlace(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.PutInvoices("water", []*record.Invoice{
		cachedInvoice("water", 1, "pending"),
		cachedInvoice("water", 2, "pending"),
	}))

	updated := cachedInvoice("water", 1, "approved")
	updated.ApprovedBy = "store"
	require.NoError(t, c.Put(updated))

	listed, err := c.ListDivision("water", capability.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	// Position is stable across the update.
	assert.Equal(t, int64(1), listed[0].ID)
	assert.Equal(t, "approved", listed[0].Status)
	assert.Equal(t, "store", listed[0].ApprovedBy)
}

func TestCache_PutAppendsNewRow(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.PutInvoices("water", []*record.Invoice{cachedInvoice("water", 1, "pending")}))
	require.NoError(t, c.Put(cachedInvoice("water", 9, "pending")))

	listed, err := c.ListDivision("water", capability.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, int64(9), listed[1].ID)
}

func TestCache_Evict(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.PutInvoices("water", []*record.Invoice{cachedInvoice("water", 1, "pending")}))
	require.NoError(t, c.Evict(record.Key{Division: "water", ID: 1}))

	_, err := c.Get(record.Key{Division: "water", ID: 1})
	assert.True(t, errors.Is(err, ErrNotFound))
}
