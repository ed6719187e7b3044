package credit

import (
	"context"

	"github.com/google/uuid"

	"github.com/pretyflaco/openagents-sub005/pkg/canon"
)

// Engine is the fail-closed entry point callers use instead of talking to
// a Store directly: it computes fingerprints from request fields, fills
// in generated ids where the caller left them blank, and builds/puts
// receipts through the shared canonical-hash convention.
type Engine struct {
	store  Store
	signer canon.Signer // nil: receipts are written unsigned
}

// NewEngine binds an Engine to store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// WithSigner attaches signer so PutReceipt signs every receipt it writes.
func (e *Engine) WithSigner(signer canon.Signer) *Engine {
	e.signer = signer
	return e
}

// OfferRequest carries the caller-significant fields of an offer; OfferID
// is the idempotency key and must be supplied by the caller.
type OfferRequest struct {
	OfferID          string
	AgentID          string
	PoolID           string
	ScopeType        string
	ScopeID          string
	MaxSats          int64
	FeeBps           int64
	RequiresVerifier bool
	ExpiresAtMs      int64
	IssuedAtMs       int64
}

// CreateOrGetOffer fingerprints req and delegates to the store.
func (e *Engine) CreateOrGetOffer(ctx context.Context, req OfferRequest) (Offer, error) {
	fingerprint, err := OfferFingerprint(req.AgentID, req.PoolID, req.ScopeType, req.ScopeID, req.MaxSats, req.FeeBps, req.RequiresVerifier, req.ExpiresAtMs)
	if err != nil {
		return Offer{}, err
	}
	offer := Offer{
		OfferID:          req.OfferID,
		AgentID:          req.AgentID,
		PoolID:           req.PoolID,
		ScopeType:        req.ScopeType,
		ScopeID:          req.ScopeID,
		MaxSats:          req.MaxSats,
		FeeBps:           req.FeeBps,
		RequiresVerifier: req.RequiresVerifier,
		ExpiresAtMs:      req.ExpiresAtMs,
		Status:           OfferActive,
		IssuedAtMs:       req.IssuedAtMs,
	}
	return e.store.CreateOrGetOffer(ctx, offer, fingerprint)
}

// EnvelopeRequest carries the caller-significant fields of an envelope
// draw; EnvelopeID is the idempotency key and must be supplied.
type EnvelopeRequest struct {
	EnvelopeID  string
	OfferID     string
	AgentID     string
	PoolID      string
	ProviderID  string
	ScopeType   string
	ScopeID     string
	MaxSats     int64
	FeeBps      int64
	ExpiresAtMs int64
	IssuedAtMs  int64
}

// CreateOrGetEnvelope fingerprints req and delegates to the store.
func (e *Engine) CreateOrGetEnvelope(ctx context.Context, req EnvelopeRequest) (Envelope, error) {
	fingerprint, err := EnvelopeFingerprint(req.OfferID, req.AgentID, req.PoolID, req.ProviderID, req.ScopeType, req.ScopeID, req.MaxSats, req.FeeBps, req.ExpiresAtMs)
	if err != nil {
		return Envelope{}, err
	}
	envelope := Envelope{
		EnvelopeID:  req.EnvelopeID,
		OfferID:     req.OfferID,
		AgentID:     req.AgentID,
		PoolID:      req.PoolID,
		ProviderID:  req.ProviderID,
		ScopeType:   req.ScopeType,
		ScopeID:     req.ScopeID,
		MaxSats:     req.MaxSats,
		FeeBps:      req.FeeBps,
		ExpiresAtMs: req.ExpiresAtMs,
		Status:      EnvelopeOpen,
		IssuedAtMs:  req.IssuedAtMs,
	}
	return e.store.CreateOrGetEnvelope(ctx, envelope, fingerprint)
}

// SettlementRequest carries the caller-significant fields of a
// settlement. SettlementID is generated if left blank.
type SettlementRequest struct {
	SettlementID              string
	EnvelopeID                string
	Outcome                   SettlementOutcome
	SpentSats                 int64
	FeeSats                   int64
	VerificationReceiptSHA256 string
	LiquidityReceiptSHA256    string
	CreatedAtMs               int64
}

// CreateOrGetSettlement fingerprints req and delegates to the store,
// generating a settlement id if the caller left one blank.
func (e *Engine) CreateOrGetSettlement(ctx context.Context, req SettlementRequest) (Settlement, bool, error) {
	fingerprint, err := SettlementFingerprint(req.EnvelopeID, req.Outcome, req.SpentSats, req.FeeSats, req.VerificationReceiptSHA256)
	if err != nil {
		return Settlement{}, false, err
	}
	settlementID := req.SettlementID
	if settlementID == "" {
		settlementID = "cset_" + uuid.NewString()
	}
	settlement := Settlement{
		SettlementID:              settlementID,
		EnvelopeID:                req.EnvelopeID,
		Outcome:                   req.Outcome,
		SpentSats:                 req.SpentSats,
		FeeSats:                   req.FeeSats,
		VerificationReceiptSHA256: req.VerificationReceiptSHA256,
		LiquidityReceiptSHA256:    req.LiquidityReceiptSHA256,
		CreatedAtMs:               req.CreatedAtMs,
	}
	return e.store.CreateOrGetSettlement(ctx, settlement, fingerprint)
}

// PutReceipt canonicalizes payload, stamps its digest (and signature, if
// a signer is configured) onto the receipt record, and puts it through
// the store's uniqueness gate. receipt_id is "crcpt_" + digest[:24],
// mirroring the liquidity receipt's "lipr_" + digest[:24] convention.
func (e *Engine) PutReceipt(ctx context.Context, entityKind, entityID, schema string, payload any, createdAtMs int64) error {
	canonicalBytes, err := canon.Canonical(payload)
	if err != nil {
		return err
	}
	digest := canon.HashBytes(canonicalBytes)
	signature, err := canon.SignReceiptSHA256(e.signer, digest)
	if err != nil {
		return err
	}
	return e.store.PutReceipt(ctx, Receipt{
		ReceiptID:           "crcpt_" + digest[:24],
		EntityKind:          entityKind,
		EntityID:            entityID,
		Schema:              schema,
		CanonicalJSONSHA256: digest,
		Signature:           signature,
		PayloadJSON:         canonicalBytes,
		CreatedAtMs:         createdAtMs,
	})
}

// UpdateOfferStatus transitions offer.Status with no fingerprint gate.
func (e *Engine) UpdateOfferStatus(ctx context.Context, offerID string, status OfferStatus) (Offer, error) {
	return e.store.UpdateOfferStatus(ctx, offerID, status)
}

// UpdateEnvelopeStatus transitions envelope.Status with no fingerprint gate.
func (e *Engine) UpdateEnvelopeStatus(ctx context.Context, envelopeID string, status EnvelopeStatus) (Envelope, error) {
	return e.store.UpdateEnvelopeStatus(ctx, envelopeID, status)
}
