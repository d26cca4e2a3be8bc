package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurumvault/metalex_unified/pkg/models"
)

func TestStore_ApplyTransitionIsConditional(t *testing.T) {
	store := newTestStore(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusPending)

	// Two writers read version 0; only one conditional write may win.
	first, err := store.ApplyTransition(t.Context(), record.ID, 0, models.StatusProcessing, nil)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.ApplyTransition(t.Context(), record.ID, 0, models.StatusCompleted, nil)
	require.NoError(t, err)
	assert.False(t, second)

	reloaded, err := store.GetRecord(t.Context(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, reloaded.Status)
	assert.Equal(t, int64(1), reloaded.StatusVersion)
}

func TestStore_ApplyTransitionSetsReferenceOnce(t *testing.T) {
	store := newTestStore(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusPending)

	ref := "tx-abc"
	applied, err := store.ApplyTransition(t.Context(), record.ID, 0, models.StatusProcessing, &ref)
	require.NoError(t, err)
	require.True(t, applied)

	reloaded, err := store.GetRecord(t.Context(), record.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.ExternalReference)
	assert.Equal(t, "tx-abc", *reloaded.ExternalReference)
}

func TestStore_ReferenceUniquePerKind(t *testing.T) {
	store := newTestStore(t)
	first := newTestRecord(t, store, models.KindPurchase, models.StatusPending)
	second := newTestRecord(t, store, models.KindPurchase, models.StatusPending)

	ref := "tx-dup"
	applied, err := store.ApplyTransition(t.Context(), first.ID, 0, models.StatusProcessing, &ref)
	require.NoError(t, err)
	require.True(t, applied)

	_, err = store.ApplyTransition(t.Context(), second.ID, 0, models.StatusProcessing, &ref)
	assert.ErrorIs(t, err, ErrReferenceTaken)
}

func TestStore_ReferenceAllowedAcrossKinds(t *testing.T) {
	store := newTestStore(t)
	purchase := newTestRecord(t, store, models.KindPurchase, models.StatusPending)
	gift := newTestRecord(t, store, models.KindGift, models.StatusPending)

	ref := "tx-shared"
	applied, err := store.ApplyTransition(t.Context(), purchase.ID, 0, models.StatusProcessing, &ref)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = store.ApplyTransition(t.Context(), gift.ID, 0, models.StatusProcessing, &ref)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestStore_MarkNotifiedWinsOnce(t *testing.T) {
	store := newTestStore(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusCompleted)

	won, err := store.MarkNotified(t.Context(), record.ID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.MarkNotified(t.Context(), record.ID)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestStore_ProcessedEventsDedup(t *testing.T) {
	store := newTestStore(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusPending)

	seen, err := store.WasProcessed(t.Context(), record.ID, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkProcessed(t.Context(), record.ID, "evt-1", SourceFiatProvider))
	// Marking twice must not fail.
	require.NoError(t, store.MarkProcessed(t.Context(), record.ID, "evt-1", SourceFiatProvider))

	seen, err = store.WasProcessed(t.Context(), record.ID, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Same event id against a different record is independent.
	other := newTestRecord(t, store, models.KindPurchase, models.StatusPending)
	seen, err = store.WasProcessed(t.Context(), other.ID, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestStore_FindHeuristicCandidates(t *testing.T) {
	store := newTestStore(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusPending)

	tolerance := decimal.RequireFromString("0.01")

	// Amount within tolerance of the record's monetary value.
	candidates, err := store.FindHeuristicCandidates(
		t.Context(), record.OwnerID,
		decimal.RequireFromString("100.005"), tolerance, 24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)

	// Amount outside tolerance.
	candidates, err = store.FindHeuristicCandidates(
		t.Context(), record.OwnerID,
		decimal.RequireFromString("101.00"), tolerance, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	// Different owner.
	other := newTestRecord(t, store, models.KindPurchase, models.StatusPending)
	candidates, err = store.FindHeuristicCandidates(
		t.Context(), other.OwnerID,
		decimal.RequireFromString("100.00"), tolerance, 24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
	assert.Equal(t, other.ID, candidates[0].ID)
}

func TestStore_FindWatchable(t *testing.T) {
	store := newTestStore(t)

	watched := newTestRecord(t, store, models.KindPurchase, models.StatusProcessing)
	ref := "0xdeadbeef"
	applied, err := store.ApplyTransition(t.Context(), watched.ID, 0, models.StatusProcessing, &ref)
	require.NoError(t, err)
	require.True(t, applied)

	// Pending without a reference: nothing to poll yet.
	newTestRecord(t, store, models.KindPurchase, models.StatusPending)

	records, err := store.FindWatchable(t.Context(), models.NetworkEVMPublic, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, watched.ID, records[0].ID)
}
