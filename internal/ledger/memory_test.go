package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestMemoryLedgerReserveCommit(t *testing.T) {
	l := NewMemoryLedger(time.Minute)
	quotaID := uuid.New()
	l.SetBalance(quotaID, dec("10"), dec("0"))

	ctx := context.Background()

	res, err := l.Reserve(ctx, quotaID, dec("0.01"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, quotaID, res.QuotaID)
	assert.True(t, res.ExpiresAt.After(res.CreatedAt))

	used, err := l.Commit(ctx, res, dec("0.004532"))
	require.NoError(t, err)
	assert.True(t, used.Equal(dec("0.004532")), "used = %s", used)

	got, ok := l.Used(quotaID)
	require.True(t, ok)
	assert.True(t, got.Equal(dec("0.004532")))
}

func TestMemoryLedgerUnknownQuota(t *testing.T) {
	l := NewMemoryLedger(time.Minute)
	_, err := l.Reserve(context.Background(), uuid.New(), dec("0.01"))
	assert.ErrorIs(t, err, ErrQuotaNotFound)
}

func TestMemoryLedgerRejectsWhenExhausted(t *testing.T) {
	l := NewMemoryLedger(time.Minute)
	quotaID := uuid.New()
	l.SetBalance(quotaID, dec("10"), dec("10"))

	_, err := l.Reserve(context.Background(), quotaID, dec("0.000001"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestMemoryLedgerPendingHoldsCount(t *testing.T) {
	l := NewMemoryLedger(time.Minute)
	quotaID := uuid.New()
	l.SetBalance(quotaID, dec("1"), dec("0"))

	ctx := context.Background()

	// Two holds of 0.6 cannot coexist on a balance of 1.
	res, err := l.Reserve(ctx, quotaID, dec("0.6"))
	require.NoError(t, err)

	_, err = l.Reserve(ctx, quotaID, dec("0.6"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Releasing the first hold frees the balance again.
	require.NoError(t, l.Release(ctx, res))
	_, err = l.Reserve(ctx, quotaID, dec("0.6"))
	assert.NoError(t, err)
}

func TestMemoryLedgerCommitAppliesOverage(t *testing.T) {
	l := NewMemoryLedger(time.Minute)
	quotaID := uuid.New()
	l.SetBalance(quotaID, dec("10"), dec("9.999998"))

	ctx := context.Background()

	res, err := l.Reserve(ctx, quotaID, dec("0.000001"))
	require.NoError(t, err)

	// The real cost overshoots the remaining balance. It is applied in
	// full; the quota lands past its total and the next hold fails.
	used, err := l.Commit(ctx, res, dec("0.000003"))
	require.NoError(t, err)
	assert.True(t, used.Equal(dec("10.000001")), "used = %s", used)

	_, err = l.Reserve(ctx, quotaID, dec("0.000001"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestMemoryLedgerNegativeCostClampedToZero(t *testing.T) {
	l := NewMemoryLedger(time.Minute)
	quotaID := uuid.New()
	l.SetBalance(quotaID, dec("10"), dec("5"))

	ctx := context.Background()
	res, err := l.Reserve(ctx, quotaID, dec("0.01"))
	require.NoError(t, err)

	used, err := l.Commit(ctx, res, dec("-1"))
	require.NoError(t, err)
	assert.True(t, used.Equal(dec("5")))
}

func TestMemoryLedgerDoubleSettle(t *testing.T) {
	l := NewMemoryLedger(time.Minute)
	quotaID := uuid.New()
	l.SetBalance(quotaID, dec("10"), dec("0"))

	ctx := context.Background()
	res, err := l.Reserve(ctx, quotaID, dec("0.01"))
	require.NoError(t, err)

	_, err = l.Commit(ctx, res, dec("0.005"))
	require.NoError(t, err)

	_, err = l.Commit(ctx, res, dec("0.005"))
	assert.ErrorIs(t, err, ErrReservationSettled)

	err = l.Release(ctx, res)
	assert.ErrorIs(t, err, ErrReservationSettled)
}

func TestMemoryLedgerReleaseLeavesUsedUntouched(t *testing.T) {
	l := NewMemoryLedger(time.Minute)
	quotaID := uuid.New()
	l.SetBalance(quotaID, dec("10"), dec("3"))

	ctx := context.Background()
	res, err := l.Reserve(ctx, quotaID, dec("1"))
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, res))

	used, ok := l.Used(quotaID)
	require.True(t, ok)
	assert.True(t, used.Equal(dec("3")))
}

func TestMemoryLedgerSweepExpiresHolds(t *testing.T) {
	l := NewMemoryLedger(10 * time.Millisecond)
	quotaID := uuid.New()
	l.SetBalance(quotaID, dec("1"), dec("0"))

	ctx := context.Background()
	res, err := l.Reserve(ctx, quotaID, dec("1"))
	require.NoError(t, err)

	// Balance is fully held; nothing else fits.
	_, err = l.Reserve(ctx, quotaID, dec("0.000001"))
	require.ErrorIs(t, err, ErrQuotaExceeded)

	swept := l.Sweep(res.ExpiresAt.Add(time.Millisecond))
	assert.Equal(t, 1, swept)

	// The swept hold returned its balance; a late settle is rejected.
	_, err = l.Reserve(ctx, quotaID, dec("0.000001"))
	assert.NoError(t, err)
	_, err = l.Commit(ctx, res, dec("0.5"))
	assert.ErrorIs(t, err, ErrReservationSettled)
}

func TestMemoryLedgerConcurrentCommitsSumExactly(t *testing.T) {
	l := NewMemoryLedger(time.Minute)
	quotaID := uuid.New()
	l.SetBalance(quotaID, dec("1000"), dec("0"))

	const workers = 50
	const perWorker = 20
	cost := dec("0.000123")

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				res, err := l.Reserve(ctx, quotaID, cost)
				if err != nil {
					t.Errorf("reserve: %v", err)
					return
				}
				if _, err := l.Commit(ctx, res, cost); err != nil {
					t.Errorf("commit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	want := cost.Mul(decimal.NewFromInt(workers * perWorker))
	used, ok := l.Used(quotaID)
	require.True(t, ok)
	assert.True(t, used.Equal(want), "used = %s, want %s", used, want)
}
