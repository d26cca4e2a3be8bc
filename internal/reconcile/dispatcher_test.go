package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/pkg/models"
)

type capturePublisher struct {
	messages []kafka.Message
	fail     bool
}

func (p *capturePublisher) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msgs...)
	return nil
}

func TestDispatcher_FiresAtMostOnce(t *testing.T) {
	store := newTestStore(t)
	pub := &capturePublisher{}
	dispatcher := NewDispatcher(store, pub, "settlement.notifications", zap.NewNop())

	record := newTestRecord(t, store, models.KindPurchase, models.StatusCompleted)

	require.NoError(t, dispatcher.Dispatch(t.Context(), record))
	require.NoError(t, dispatcher.Dispatch(t.Context(), record))

	require.Len(t, pub.messages, 1)

	var notice SettlementNotice
	require.NoError(t, json.Unmarshal(pub.messages[0].Value, &notice))
	assert.Equal(t, record.ID.String(), notice.RecordID)
	assert.Equal(t, models.StatusCompleted, notice.Status)
	assert.True(t, notice.MintRequired)
}

func TestDispatcher_RedemptionNeverMints(t *testing.T) {
	store := newTestStore(t)
	pub := &capturePublisher{}
	dispatcher := NewDispatcher(store, pub, "settlement.notifications", zap.NewNop())

	record := newTestRecord(t, store, models.KindRedemption, models.StatusCompleted)
	require.NoError(t, dispatcher.Dispatch(t.Context(), record))

	var notice SettlementNotice
	require.NoError(t, json.Unmarshal(pub.messages[0].Value, &notice))
	assert.False(t, notice.MintRequired)
}

func TestDispatcher_FailedPublishDoesNotRetry(t *testing.T) {
	store := newTestStore(t)
	pub := &capturePublisher{fail: true}
	dispatcher := NewDispatcher(store, pub, "settlement.notifications", zap.NewNop())

	record := newTestRecord(t, store, models.KindPurchase, models.StatusFailed)
	err := dispatcher.Dispatch(t.Context(), record)
	require.Error(t, err)

	// The notified flag is consumed: a second dispatch must not publish, a
	// duplicate side effect being worse than a lost one.
	pub.fail = false
	require.NoError(t, dispatcher.Dispatch(t.Context(), record))
	assert.Empty(t, pub.messages)
}
