package sendd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"payconfirm/core/invoice"
)

func TestSessionStoreRoundTripAndClear(t *testing.T) {
	store, err := OpenSessionStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ErrSessionEmpty)
	require.NoError(t, store.Clear(ctx))

	req := invoice.PaymentRequest{Invoice: "lnbc10u1", AmountSat: 1000, Description: "[Dana] tip"}
	require.NoError(t, store.Put(ctx, req))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, req, loaded)

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ErrSessionEmpty)
}

func TestSessionStorePersistsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session")
	store, err := OpenSessionStore(path)
	require.NoError(t, err)
	req := invoice.PaymentRequest{Invoice: "lnbc1persist", AmountSat: 5}
	require.NoError(t, store.Put(context.Background(), req))
	require.NoError(t, store.Close())

	reopened, err := OpenSessionStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	loaded, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, req, loaded)
}
