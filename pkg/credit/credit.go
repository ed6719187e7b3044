// Package credit defines the credit engine's contract: an idempotent
// offer/envelope/settlement state machine keyed by request fingerprint,
// plus a shared receipt sink. Two stores implement it: pkg/store/memcredit
// (coarse mutex, process-local) and pkg/store/sqlcredit (durable,
// transactional).
package credit

import "context"

// OfferStatus is one of CreditOffer's lifecycle states.
type OfferStatus string

const (
	OfferActive   OfferStatus = "active"
	OfferConsumed OfferStatus = "consumed"
	OfferExpired  OfferStatus = "expired"
	OfferRevoked  OfferStatus = "revoked"
)

// EnvelopeStatus is one of CreditEnvelope's lifecycle states.
type EnvelopeStatus string

const (
	EnvelopeOpen     EnvelopeStatus = "open"
	EnvelopeReserved EnvelopeStatus = "reserved"
	EnvelopeSettled  EnvelopeStatus = "settled"
	EnvelopeExpired  EnvelopeStatus = "expired"
)

// SettlementOutcome is the terminal result recorded against an envelope.
type SettlementOutcome string

const (
	SettlementSuccess  SettlementOutcome = "success"
	SettlementWithheld SettlementOutcome = "withheld"
	SettlementFailed   SettlementOutcome = "failed"
)

// Offer is a scoped authorization an agent can draw an envelope against.
type Offer struct {
	OfferID                  string
	AgentID                  string
	PoolID                   string
	ScopeType                string
	ScopeID                  string
	MaxSats                  int64
	FeeBps                   int64
	RequiresVerifier         bool
	ExpiresAtMs              int64
	Status                   OfferStatus
	IssuedAtMs               int64
	RequestFingerprintSHA256 string
}

// Envelope is a provider-bound, time-bounded authorization to spend up to
// MaxSats sats on an agent's behalf, drawn from an Offer.
type Envelope struct {
	EnvelopeID               string
	OfferID                  string
	AgentID                  string
	PoolID                   string
	ProviderID               string
	ScopeType                string
	ScopeID                  string
	MaxSats                  int64
	FeeBps                   int64
	ExpiresAtMs              int64
	Status                   EnvelopeStatus
	IssuedAtMs               int64
	RequestFingerprintSHA256 string
}

// Settlement is the single terminal outcome recorded against an envelope.
type Settlement struct {
	SettlementID              string
	EnvelopeID                string
	Outcome                   SettlementOutcome
	SpentSats                 int64
	FeeSats                   int64
	VerificationReceiptSHA256 string
	LiquidityReceiptSHA256    string // empty if no liquidity settlement occurred
	CreatedAtMs               int64
	RequestFingerprintSHA256  string
}

// Receipt is a generic signed record attached to an offer, envelope, or
// settlement, uniqued by (EntityKind, EntityID, Schema).
type Receipt struct {
	ReceiptID           string
	EntityKind          string
	EntityID            string
	Schema              string
	CanonicalJSONSHA256 string
	Signature           string // empty if no signing key is configured
	PayloadJSON         []byte
	CreatedAtMs         int64
}

// Store is the credit engine's storage contract. Implementations own all
// synchronization for their backing storage, matching the "shared mutable
// state" design note governing this component: in-memory implementations
// use a single coarse mutex, SQL implementations use per-row transactions
// with read-then-write atomicity.
type Store interface {
	// CreateOrGetOffer inserts offer keyed by OfferID, or returns the
	// stored row if OfferID exists with a matching fingerprint. Returns
	// an errs.KindConflict error if OfferID exists with a different
	// fingerprint.
	CreateOrGetOffer(ctx context.Context, offer Offer, fingerprint string) (Offer, error)

	// UpdateOfferStatus transitions offer.Status with no fingerprint gate.
	UpdateOfferStatus(ctx context.Context, offerID string, status OfferStatus) (Offer, error)

	// GetOffer looks up an offer by id.
	GetOffer(ctx context.Context, offerID string) (Offer, error)

	// CreateOrGetEnvelope inserts envelope keyed by EnvelopeID, or returns
	// the stored row if EnvelopeID exists with a matching fingerprint.
	// Returns an errs.KindConflict error on fingerprint mismatch.
	CreateOrGetEnvelope(ctx context.Context, envelope Envelope, fingerprint string) (Envelope, error)

	// UpdateEnvelopeStatus transitions envelope.Status with no
	// fingerprint gate.
	UpdateEnvelopeStatus(ctx context.Context, envelopeID string, status EnvelopeStatus) (Envelope, error)

	// GetEnvelope looks up an envelope by id.
	GetEnvelope(ctx context.Context, envelopeID string) (Envelope, error)

	// CreateOrGetSettlement inserts settlement keyed by EnvelopeID (one
	// settlement per envelope), or returns the stored row with
	// created=false if EnvelopeID exists with a matching fingerprint.
	// Returns an errs.KindConflict error on fingerprint mismatch.
	CreateOrGetSettlement(ctx context.Context, settlement Settlement, fingerprint string) (Settlement, bool, error)

	// PutReceipt inserts receipt keyed by (EntityKind, EntityID, Schema),
	// or no-ops if an identical CanonicalJSONSHA256 is already stored.
	// Returns an errs.KindConflict error if the stored digest differs.
	PutReceipt(ctx context.Context, receipt Receipt) error

	// GetReceipt looks up a receipt by its uniqueness key.
	GetReceipt(ctx context.Context, entityKind, entityID, schema string) (Receipt, error)
}
