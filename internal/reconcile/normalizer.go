package reconcile

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FiatProviderSpec describes one fiat provider's webhook dialect as data:
// where each field lives in the payload and how its status vocabulary maps
// onto the canonical set. The mapping table is total over the statuses the
// provider documents; anything else falls back to EventProcessing.
type FiatProviderSpec struct {
	Name           string
	Secret         []byte
	EventIDField   string
	ReferenceField string
	StatusField    string
	OwnerField     string
	AmountField    string
	StatusMap      map[string]CanonicalStatus
}

// PaystreamSpec returns the webhook dialect of the Paystream card provider.
func PaystreamSpec(secret []byte) FiatProviderSpec {
	return FiatProviderSpec{
		Name:           "paystream",
		Secret:         secret,
		EventIDField:   "event_id",
		ReferenceField: "order_ref",
		StatusField:    "state",
		OwnerField:     "customer_id",
		AmountField:    "amount",
		StatusMap: map[string]CanonicalStatus{
			"order.created":  EventCreated,
			"order.pending":  EventProcessing,
			"order.settled":  EventCompleted,
			"order.rejected": EventFailed,
			"order.expired":  EventFailed,
		},
	}
}

// BanklineSpec returns the webhook dialect of the Bankline transfer provider.
func BanklineSpec(secret []byte) FiatProviderSpec {
	return FiatProviderSpec{
		Name:           "bankline",
		Secret:         secret,
		EventIDField:   "id",
		ReferenceField: "reference",
		StatusField:    "status",
		OwnerField:     "user",
		AmountField:    "value",
		StatusMap: map[string]CanonicalStatus{
			"NEW":         EventCreated,
			"IN_PROGRESS": EventProcessing,
			"SETTLED":     EventCompleted,
			"DECLINED":    EventFailed,
			"RETURNED":    EventFailed,
		},
	}
}

// ConfirmationUpdate is what a ledger confirmation source reports for one
// watched transaction hash.
type ConfirmationUpdate struct {
	TxHash      string
	Status      string // pending | confirmed | failed
	BlockOrSlot uint64
}

var ledgerStatusMap = map[string]CanonicalStatus{
	"pending":   EventProcessing,
	"confirmed": EventCompleted,
	"failed":    EventFailed,
}

// Normalizer turns provider-native payloads into canonical SettlementEvents.
// It is pure apart from the signature check and carries no state beyond the
// injected provider specs.
type Normalizer struct {
	providers map[string]FiatProviderSpec
	skew      time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewNormalizer creates a normalizer for the given provider registry. skew
// bounds how old a webhook signing timestamp may be before the delivery is
// rejected as unauthenticated.
func NewNormalizer(providers map[string]FiatProviderSpec, skew time.Duration, logger *zap.Logger) *Normalizer {
	return &Normalizer{
		providers: providers,
		skew:      skew,
		logger:    logger,
		now:       time.Now,
	}
}

// NormalizeFiat verifies the webhook signature and maps the provider payload
// into a canonical event. It never mutates state.
func (n *Normalizer) NormalizeFiat(provider string, payload []byte, signatureHeader string) (SettlementEvent, error) {
	spec, ok := n.providers[provider]
	if !ok {
		return SettlementEvent{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	if err := n.verifySignature(spec.Secret, payload, signatureHeader); err != nil {
		return SettlementEvent{}, err
	}

	// UseNumber keeps numeric amounts as their decimal text instead of
	// forcing them through float64.
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		return SettlementEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	eventID, _ := body[spec.EventIDField].(string)
	if eventID == "" {
		return SettlementEvent{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, spec.EventIDField)
	}
	rawStatus, _ := body[spec.StatusField].(string)
	if rawStatus == "" {
		return SettlementEvent{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, spec.StatusField)
	}

	status, ok := spec.StatusMap[rawStatus]
	if !ok {
		// Fail open: an unknown provider status must not strand the record
		// in pending, so it is treated as an in-flight signal.
		n.logger.Warn("unrecognized provider status, mapping to processing",
			zap.String("provider", provider),
			zap.String("status", rawStatus))
		status = EventProcessing
	}

	event := SettlementEvent{
		SourceKind:     SourceFiatProvider,
		Provider:       provider,
		SourceEventID:  eventID,
		ReportedStatus: status,
		RawStatus:      rawStatus,
		ReceivedAt:     n.now(),
	}

	if ref, _ := body[spec.ReferenceField].(string); ref != "" {
		event.CandidateReference = ref
	}
	if ownerStr, _ := body[spec.OwnerField].(string); ownerStr != "" {
		if owner, err := uuid.Parse(ownerStr); err == nil {
			event.OwnerID = &owner
		}
	}
	if amount, ok := parseAmount(body[spec.AmountField]); ok {
		event.Amount = &amount
	}

	return event, nil
}

// NormalizeLedger maps a confirmation feed update into a canonical event.
// Ledger confirmations always carry the transaction hash, so the candidate
// reference is always present. The source event id folds in the reported
// status so each distinct observation deduplicates independently.
func (n *Normalizer) NormalizeLedger(network string, update ConfirmationUpdate) (SettlementEvent, error) {
	if update.TxHash == "" {
		return SettlementEvent{}, fmt.Errorf("%w: missing transaction hash", ErrMalformedPayload)
	}

	status, ok := ledgerStatusMap[update.Status]
	if !ok {
		n.logger.Warn("unrecognized ledger status, mapping to processing",
			zap.String("network", network),
			zap.String("status", update.Status))
		status = EventProcessing
	}

	return SettlementEvent{
		SourceKind:         SourceLedgerConfirmation,
		Provider:           network,
		SourceEventID:      update.TxHash + ":" + update.Status,
		CandidateReference: update.TxHash,
		ReportedStatus:     status,
		RawStatus:          update.Status,
		ReceivedAt:         n.now(),
	}, nil
}

// verifySignature checks a Stripe-style "t=<unix>,v1=<hex>" header where the
// hex value is HMAC-SHA256(secret, "<t>.<body>"). Deliveries whose signing
// timestamp falls outside the skew window are rejected outright.
func (n *Normalizer) verifySignature(secret, payload []byte, header string) error {
	if header == "" {
		return fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			ts = parsed
		case "v1":
			sig = kv[1]
		}
	}
	if ts == 0 || sig == "" {
		return fmt.Errorf("%w: incomplete signature header", ErrInvalidSignature)
	}

	age := n.now().Sub(time.Unix(ts, 0))
	if age > n.skew || age < -n.skew {
		return fmt.Errorf("%w: signing timestamp outside tolerance", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
	}
	return nil
}

func parseAmount(raw interface{}) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	}
	return decimal.Decimal{}, false
}
