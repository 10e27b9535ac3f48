package application

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carehub/internal/domain"
)

func TestCodeGenerator_EmptyStoreSeedsFirstCode(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.codes.LastIssued(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	code, err := h.codes.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SUB-0001", code)
	assert.Equal(t, 1, h.metrics.get("code"))
}

func TestCodeGenerator_ContinuesAfterExistingCodes(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for i := 1; i <= 42; i++ {
		require.NoError(t, h.subs.Create(ctx, domain.Subscription{Code: fmt.Sprintf("SUB-%04d", i)}))
	}

	floor, err := h.codes.Reconcile(ctx, h.subs)
	require.NoError(t, err)
	assert.Equal(t, int64(42), floor)

	last, err := h.codes.LastIssued(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SUB-0042", last)

	code, err := h.codes.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SUB-0043", code)
}

func TestCodeGenerator_ReconcileSkipsForeignCodes(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for _, code := range []string{"SUB-0042", "SUBX-0001", "SUB-X7", "SUB-LEGACY"} {
		require.NoError(t, h.subs.Create(ctx, domain.Subscription{Code: code}))
	}

	floor, err := h.codes.Reconcile(ctx, h.subs)
	require.NoError(t, err)
	assert.Equal(t, int64(42), floor)

	code, err := h.codes.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SUB-0043", code)
}

func TestCodeGenerator_ReconcileWithOnlyForeignCodes(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.subs.Create(ctx, domain.Subscription{Code: "SUBX-0900"}))

	floor, err := h.codes.Reconcile(ctx, h.subs)
	require.NoError(t, err)
	assert.Zero(t, floor)

	code, err := h.codes.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SUB-0001", code)
}

func TestCodeGenerator_ReconcileNeverLowersCounter(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.seq.EnsureAtLeast(ctx, SubscriptionSequence, 100))
	require.NoError(t, h.subs.Create(ctx, domain.Subscription{Code: "SUB-0007"}))

	_, err := h.codes.Reconcile(ctx, h.subs)
	require.NoError(t, err)

	code, err := h.codes.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SUB-0101", code)
}

func TestCodeGenerator_LastIssuedIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, err := h.codes.Next(ctx)
	require.NoError(t, err)

	first, err := h.codes.LastIssued(ctx)
	require.NoError(t, err)
	second, err := h.codes.LastIssued(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	next, err := h.codes.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SUB-0002", next)
}

func TestCodeGenerator_ConcurrentAllocationIsGapFree(t *testing.T) {
	h := newHarness()
	const n = 100

	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := h.codes.Next(context.Background())
			assert.NoError(t, err)
			codes <- code
		}()
	}
	wg.Wait()
	close(codes)

	seen := map[string]bool{}
	for code := range codes {
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[h.codes.Format(int64(i))], "missing %d", i)
	}
}

func TestCodeGenerator_StoreFailureIsRetryable(t *testing.T) {
	seq := new(sequenceMock)
	seq.On("Next", mock.Anything, SubscriptionSequence).Return(int64(0), fmt.Errorf("%w: throttled", domain.ErrUnavailable))
	g, err := NewCodeGenerator(seq, SubscriptionSequence, "SUB-", 4, newFakeMetrics())
	require.NoError(t, err)

	_, err = g.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestCodeGenerator_FormatAndParse(t *testing.T) {
	h := newHarness()
	assert.Equal(t, "SUB-0007", h.codes.Format(7))
	assert.Equal(t, "SUB-10000", h.codes.Format(10000))

	n, err := h.codes.Parse("SUB-0042")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	for _, bad := range []string{"INV-0001", "SUB-", "SUB-00x1", "SUB-0000", "sub-0001"} {
		_, err := h.codes.Parse(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, bad)
	}
}

func TestNewCodeGenerator_Validates(t *testing.T) {
	_, err := NewCodeGenerator(new(sequenceMock), SubscriptionSequence, "", 4, newFakeMetrics())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
