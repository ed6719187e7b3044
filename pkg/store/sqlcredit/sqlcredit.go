// Package sqlcredit is a durable credit.Store backed by database/sql,
// using per-row transactions for read-then-write atomicity on every
// create-or-get operation. Targets Postgres (lib/pq): queries use $N
// placeholders and Postgres-only syntax such as SELECT ... FOR UPDATE,
// which SQLite does not accept.
package sqlcredit

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/credit"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS credit_offers (
	offer_id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	pool_id TEXT NOT NULL,
	scope_type TEXT NOT NULL,
	scope_id TEXT NOT NULL,
	max_sats BIGINT NOT NULL,
	fee_bps BIGINT NOT NULL,
	requires_verifier BOOLEAN NOT NULL,
	exp_ms BIGINT NOT NULL,
	status TEXT NOT NULL,
	issued_at_ms BIGINT NOT NULL,
	request_fingerprint_sha256 TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_envelopes (
	envelope_id TEXT PRIMARY KEY,
	offer_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	pool_id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	scope_type TEXT NOT NULL,
	scope_id TEXT NOT NULL,
	max_sats BIGINT NOT NULL,
	fee_bps BIGINT NOT NULL,
	exp_ms BIGINT NOT NULL,
	status TEXT NOT NULL,
	issued_at_ms BIGINT NOT NULL,
	request_fingerprint_sha256 TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_settlements (
	envelope_id TEXT PRIMARY KEY,
	settlement_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	spent_sats BIGINT NOT NULL,
	fee_sats BIGINT NOT NULL,
	verification_receipt_sha256 TEXT NOT NULL,
	liquidity_receipt_sha256 TEXT NOT NULL DEFAULT '',
	created_at_ms BIGINT NOT NULL,
	request_fingerprint_sha256 TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_receipts (
	receipt_id TEXT NOT NULL,
	entity_kind TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	schema TEXT NOT NULL,
	canonical_json_sha256 TEXT NOT NULL,
	signature TEXT NOT NULL DEFAULT '',
	payload_json BYTEA NOT NULL,
	created_at_ms BIGINT NOT NULL,
	PRIMARY KEY (entity_kind, entity_id, schema)
);
`

// Init creates the schema if it does not already exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: schema init failed")
	}
	return nil
}

func (s *Store) CreateOrGetOffer(ctx context.Context, offer credit.Offer, fingerprint string) (credit.Offer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return credit.Offer{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanOffer(tx.QueryRowContext(ctx, `
		SELECT offer_id, agent_id, pool_id, scope_type, scope_id, max_sats, fee_bps, requires_verifier, exp_ms, status, issued_at_ms, request_fingerprint_sha256
		FROM credit_offers WHERE offer_id = $1 FOR UPDATE`, offer.OfferID))
	switch {
	case err == nil:
		if existing.RequestFingerprintSHA256 == fingerprint {
			return existing, nil
		}
		return credit.Offer{}, errs.New(errs.KindConflict,
			"sqlcredit: offer_id reused with a different fingerprint").
			WithDetails(map[string]any{"offer_id": offer.OfferID})
	case !errors.Is(err, sql.ErrNoRows):
		return credit.Offer{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: offer lookup")
	}

	offer.RequestFingerprintSHA256 = fingerprint
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_offers (offer_id, agent_id, pool_id, scope_type, scope_id, max_sats, fee_bps, requires_verifier, exp_ms, status, issued_at_ms, request_fingerprint_sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		offer.OfferID, offer.AgentID, offer.PoolID, offer.ScopeType, offer.ScopeID, offer.MaxSats, offer.FeeBps,
		offer.RequiresVerifier, offer.ExpiresAtMs, offer.Status, offer.IssuedAtMs, offer.RequestFingerprintSHA256,
	); err != nil {
		return credit.Offer{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: insert offer")
	}

	if err := tx.Commit(); err != nil {
		return credit.Offer{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: commit")
	}
	return offer, nil
}

func scanOffer(row *sql.Row) (credit.Offer, error) {
	var o credit.Offer
	err := row.Scan(&o.OfferID, &o.AgentID, &o.PoolID, &o.ScopeType, &o.ScopeID, &o.MaxSats, &o.FeeBps,
		&o.RequiresVerifier, &o.ExpiresAtMs, &o.Status, &o.IssuedAtMs, &o.RequestFingerprintSHA256)
	return o, err
}

func (s *Store) UpdateOfferStatus(ctx context.Context, offerID string, status credit.OfferStatus) (credit.Offer, error) {
	if _, err := s.db.ExecContext(ctx, `UPDATE credit_offers SET status = $1 WHERE offer_id = $2`, status, offerID); err != nil {
		return credit.Offer{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: update offer status")
	}
	return s.GetOffer(ctx, offerID)
}

func (s *Store) GetOffer(ctx context.Context, offerID string) (credit.Offer, error) {
	o, err := scanOffer(s.db.QueryRowContext(ctx, `
		SELECT offer_id, agent_id, pool_id, scope_type, scope_id, max_sats, fee_bps, requires_verifier, exp_ms, status, issued_at_ms, request_fingerprint_sha256
		FROM credit_offers WHERE offer_id = $1`, offerID))
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Offer{}, errs.New(errs.KindInvalidRequest, "sqlcredit: offer not found").WithDetails(map[string]any{"offer_id": offerID})
	}
	if err != nil {
		return credit.Offer{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: offer lookup")
	}
	return o, nil
}

func (s *Store) CreateOrGetEnvelope(ctx context.Context, envelope credit.Envelope, fingerprint string) (credit.Envelope, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return credit.Envelope{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanEnvelope(tx.QueryRowContext(ctx, `
		SELECT envelope_id, offer_id, agent_id, pool_id, provider_id, scope_type, scope_id, max_sats, fee_bps, exp_ms, status, issued_at_ms, request_fingerprint_sha256
		FROM credit_envelopes WHERE envelope_id = $1 FOR UPDATE`, envelope.EnvelopeID))
	switch {
	case err == nil:
		if existing.RequestFingerprintSHA256 == fingerprint {
			return existing, nil
		}
		return credit.Envelope{}, errs.New(errs.KindConflict,
			"sqlcredit: envelope_id reused with a different fingerprint").
			WithDetails(map[string]any{"envelope_id": envelope.EnvelopeID})
	case !errors.Is(err, sql.ErrNoRows):
		return credit.Envelope{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: envelope lookup")
	}

	envelope.RequestFingerprintSHA256 = fingerprint
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_envelopes (envelope_id, offer_id, agent_id, pool_id, provider_id, scope_type, scope_id, max_sats, fee_bps, exp_ms, status, issued_at_ms, request_fingerprint_sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		envelope.EnvelopeID, envelope.OfferID, envelope.AgentID, envelope.PoolID, envelope.ProviderID,
		envelope.ScopeType, envelope.ScopeID, envelope.MaxSats, envelope.FeeBps, envelope.ExpiresAtMs,
		envelope.Status, envelope.IssuedAtMs, envelope.RequestFingerprintSHA256,
	); err != nil {
		return credit.Envelope{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: insert envelope")
	}

	if err := tx.Commit(); err != nil {
		return credit.Envelope{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: commit")
	}
	return envelope, nil
}

func scanEnvelope(row *sql.Row) (credit.Envelope, error) {
	var e credit.Envelope
	err := row.Scan(&e.EnvelopeID, &e.OfferID, &e.AgentID, &e.PoolID, &e.ProviderID, &e.ScopeType, &e.ScopeID,
		&e.MaxSats, &e.FeeBps, &e.ExpiresAtMs, &e.Status, &e.IssuedAtMs, &e.RequestFingerprintSHA256)
	return e, err
}

func (s *Store) UpdateEnvelopeStatus(ctx context.Context, envelopeID string, status credit.EnvelopeStatus) (credit.Envelope, error) {
	if _, err := s.db.ExecContext(ctx, `UPDATE credit_envelopes SET status = $1 WHERE envelope_id = $2`, status, envelopeID); err != nil {
		return credit.Envelope{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: update envelope status")
	}
	return s.GetEnvelope(ctx, envelopeID)
}

func (s *Store) GetEnvelope(ctx context.Context, envelopeID string) (credit.Envelope, error) {
	e, err := scanEnvelope(s.db.QueryRowContext(ctx, `
		SELECT envelope_id, offer_id, agent_id, pool_id, provider_id, scope_type, scope_id, max_sats, fee_bps, exp_ms, status, issued_at_ms, request_fingerprint_sha256
		FROM credit_envelopes WHERE envelope_id = $1`, envelopeID))
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Envelope{}, errs.New(errs.KindInvalidRequest, "sqlcredit: envelope not found").WithDetails(map[string]any{"envelope_id": envelopeID})
	}
	if err != nil {
		return credit.Envelope{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: envelope lookup")
	}
	return e, nil
}

func (s *Store) CreateOrGetSettlement(ctx context.Context, settlement credit.Settlement, fingerprint string) (credit.Settlement, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return credit.Settlement{}, false, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var existingFp string
	existing, scanErr := scanSettlement(tx.QueryRowContext(ctx, `
		SELECT envelope_id, settlement_id, outcome, spent_sats, fee_sats, verification_receipt_sha256, liquidity_receipt_sha256, created_at_ms, request_fingerprint_sha256
		FROM credit_settlements WHERE envelope_id = $1 FOR UPDATE`, settlement.EnvelopeID))
	switch {
	case scanErr == nil:
		existingFp = existing.RequestFingerprintSHA256
		if existingFp == fingerprint {
			return existing, false, nil
		}
		return credit.Settlement{}, false, errs.New(errs.KindConflict,
			"sqlcredit: envelope already settled with a different fingerprint").
			WithDetails(map[string]any{"envelope_id": settlement.EnvelopeID})
	case !errors.Is(scanErr, sql.ErrNoRows):
		return credit.Settlement{}, false, errs.Wrap(errs.KindDependencyUnavailable, scanErr, "sqlcredit: settlement lookup")
	}

	settlement.RequestFingerprintSHA256 = fingerprint
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_settlements (envelope_id, settlement_id, outcome, spent_sats, fee_sats, verification_receipt_sha256, liquidity_receipt_sha256, created_at_ms, request_fingerprint_sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		settlement.EnvelopeID, settlement.SettlementID, settlement.Outcome, settlement.SpentSats, settlement.FeeSats,
		settlement.VerificationReceiptSHA256, settlement.LiquidityReceiptSHA256, settlement.CreatedAtMs, settlement.RequestFingerprintSHA256,
	); err != nil {
		return credit.Settlement{}, false, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: insert settlement")
	}

	if err := tx.Commit(); err != nil {
		return credit.Settlement{}, false, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: commit")
	}
	return settlement, true, nil
}

func scanSettlement(row *sql.Row) (credit.Settlement, error) {
	var st credit.Settlement
	err := row.Scan(&st.EnvelopeID, &st.SettlementID, &st.Outcome, &st.SpentSats, &st.FeeSats,
		&st.VerificationReceiptSHA256, &st.LiquidityReceiptSHA256, &st.CreatedAtMs, &st.RequestFingerprintSHA256)
	return st, err
}

func (s *Store) PutReceipt(ctx context.Context, receipt credit.Receipt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var existingDigest string
	scanErr := tx.QueryRowContext(ctx, `
		SELECT canonical_json_sha256 FROM credit_receipts
		WHERE entity_kind = $1 AND entity_id = $2 AND schema = $3 FOR UPDATE`,
		receipt.EntityKind, receipt.EntityID, receipt.Schema).Scan(&existingDigest)
	switch {
	case scanErr == nil:
		if existingDigest == receipt.CanonicalJSONSHA256 {
			return nil
		}
		return errs.New(errs.KindConflict,
			"sqlcredit: receipt reused with a different canonical digest").
			WithDetails(map[string]any{"entity_kind": receipt.EntityKind, "entity_id": receipt.EntityID, "schema": receipt.Schema})
	case !errors.Is(scanErr, sql.ErrNoRows):
		return errs.Wrap(errs.KindDependencyUnavailable, scanErr, "sqlcredit: receipt lookup")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_receipts (receipt_id, entity_kind, entity_id, schema, canonical_json_sha256, signature, payload_json, created_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		receipt.ReceiptID, receipt.EntityKind, receipt.EntityID, receipt.Schema, receipt.CanonicalJSONSHA256,
		receipt.Signature, receipt.PayloadJSON, receipt.CreatedAtMs,
	); err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: insert receipt")
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: commit")
	}
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, entityKind, entityID, schema string) (credit.Receipt, error) {
	var r credit.Receipt
	r.EntityKind, r.EntityID, r.Schema = entityKind, entityID, schema
	err := s.db.QueryRowContext(ctx, `
		SELECT receipt_id, canonical_json_sha256, signature, payload_json, created_at_ms FROM credit_receipts
		WHERE entity_kind = $1 AND entity_id = $2 AND schema = $3`,
		entityKind, entityID, schema).Scan(&r.ReceiptID, &r.CanonicalJSONSHA256, &r.Signature, &r.PayloadJSON, &r.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Receipt{}, errs.New(errs.KindInvalidRequest, "sqlcredit: receipt not found").
			WithDetails(map[string]any{"entity_kind": entityKind, "entity_id": entityID, "schema": schema})
	}
	if err != nil {
		return credit.Receipt{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlcredit: receipt lookup")
	}
	return r, nil
}
