package reconcile

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/pkg/models"
)

func newTestResolver(t *testing.T) (*Store, *Resolver) {
	t.Helper()
	store := newTestStore(t)
	resolver := NewResolver(store, decimal.RequireFromString("0.01"), 24*time.Hour, zap.NewNop())
	return store, resolver
}

func heuristicEvent(eventID string, owner uuid.UUID, amount string) SettlementEvent {
	a := decimal.RequireFromString(amount)
	return SettlementEvent{
		SourceKind:     SourceFiatProvider,
		Provider:       "paystream",
		SourceEventID:  eventID,
		ReportedStatus: EventCreated,
		OwnerID:        &owner,
		Amount:         &a,
		ReceivedAt:     time.Now(),
	}
}

func TestResolver_ExactReferenceMatch(t *testing.T) {
	store, resolver := newTestResolver(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusPending)
	ref := "tx-exact"
	applied, err := store.ApplyTransition(t.Context(), record.ID, 0, models.StatusProcessing, &ref)
	require.NoError(t, err)
	require.True(t, applied)

	id, diag, found, err := resolver.Resolve(t.Context(), fiatEvent("evt-1", EventCompleted, "tx-exact"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.ID, id)
	assert.True(t, diag.ExactAttempted)
	assert.Equal(t, 1, diag.ExactMatches)
}

func TestResolver_HeuristicSingleCandidate(t *testing.T) {
	store, resolver := newTestResolver(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusPending)

	id, diag, found, err := resolver.Resolve(t.Context(), heuristicEvent("evt-1", record.OwnerID, "100.00"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.ID, id)
	assert.True(t, diag.HeuristicAttempted)
	assert.Equal(t, 1, diag.HeuristicCandidates)
}

func TestResolver_HeuristicAmbiguityRefusesToGuess(t *testing.T) {
	store, resolver := newTestResolver(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusPending)

	// Second pending record, same owner, same amount.
	twin := &models.SettlementRecord{
		ID:            uuid.New(),
		OwnerID:       record.OwnerID,
		Kind:          models.KindPurchase,
		Asset:         models.AssetGold,
		Network:       models.NetworkEVMPublic,
		Quantity:      record.Quantity,
		MonetaryValue: record.MonetaryValue,
		FeeValue:      record.FeeValue,
		Status:        models.StatusPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, store.CreateRecord(t.Context(), twin))

	_, diag, found, err := resolver.Resolve(t.Context(), heuristicEvent("evt-1", record.OwnerID, "100.00"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 2, diag.HeuristicCandidates)
	assert.Contains(t, diag.Reason, "refusing to guess")
}

func TestResolver_NoMatchWithoutOwnerAndAmount(t *testing.T) {
	store, resolver := newTestResolver(t)
	newTestRecord(t, store, models.KindPurchase, models.StatusPending)

	// No reference, no owner/amount: nothing to correlate on.
	_, diag, found, err := resolver.Resolve(t.Context(), fiatEvent("evt-1", EventCreated, ""))
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, diag.HeuristicAttempted)
}

func TestResolver_HeuristicMatchesInFlightRecord(t *testing.T) {
	// Providers may send their second event after the first already moved
	// the record to processing, still without a reference; the heuristic
	// must keep matching it.
	store, resolver := newTestResolver(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusPending)
	applied, err := store.ApplyTransition(t.Context(), record.ID, 0, models.StatusProcessing, nil)
	require.NoError(t, err)
	require.True(t, applied)

	id, _, found, err := resolver.Resolve(t.Context(), heuristicEvent("evt-1", record.OwnerID, "100.00"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.ID, id)
}

func TestResolver_HeuristicSkipsReferencedRecords(t *testing.T) {
	store, resolver := newTestResolver(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusPending)
	ref := "tx-owned"
	applied, err := store.ApplyTransition(t.Context(), record.ID, 0, models.StatusProcessing, &ref)
	require.NoError(t, err)
	require.True(t, applied)

	_, diag, found, err := resolver.Resolve(t.Context(), heuristicEvent("evt-1", record.OwnerID, "100.00"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, diag.HeuristicCandidates)
}

func TestResolver_HeuristicSkipsTerminalRecords(t *testing.T) {
	store, resolver := newTestResolver(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusPending)
	applied, err := store.ApplyTransition(t.Context(), record.ID, 0, models.StatusFailed, nil)
	require.NoError(t, err)
	require.True(t, applied)

	_, diag, found, err := resolver.Resolve(t.Context(), heuristicEvent("evt-1", record.OwnerID, "100.00"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, diag.HeuristicCandidates)
}

func TestResolver_UnmatchedReferenceFallsThroughToHeuristic(t *testing.T) {
	store, resolver := newTestResolver(t)
	record := newTestRecord(t, store, models.KindPurchase, models.StatusPending)

	// Reference unknown, but owner/amount identify the record. This is the
	// "event before reference" provider behavior the heuristic exists for.
	event := heuristicEvent("evt-1", record.OwnerID, "100.00")
	event.CandidateReference = "tx-unknown"

	id, diag, found, err := resolver.Resolve(t.Context(), event)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.ID, id)
	assert.True(t, diag.ExactAttempted)
	assert.Equal(t, 0, diag.ExactMatches)
	assert.True(t, diag.HeuristicAttempted)
}
