// Package sqlliquidity is a durable liquidity.Store backed by
// database/sql, using per-row transactions for read-then-write
// atomicity on every create-or-get operation. Targets Postgres (lib/pq):
// queries use $N placeholders and Postgres-only syntax such as
// SELECT ... FOR UPDATE, which SQLite does not accept.
package sqlliquidity

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/liquidity"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS liquidity_quotes (
	quote_id TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL,
	invoice TEXT NOT NULL,
	invoice_hash TEXT NOT NULL,
	host TEXT NOT NULL,
	quoted_amount_msats BIGINT NOT NULL,
	max_amount_msats BIGINT NOT NULL,
	max_fee_msats BIGINT NOT NULL,
	urgency TEXT NOT NULL DEFAULT '',
	policy_context_json BYTEA NOT NULL,
	policy_context_sha256 TEXT NOT NULL,
	valid_until_ms BIGINT NOT NULL,
	created_at_ms BIGINT NOT NULL,
	request_fingerprint_sha256 TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS liquidity_payments (
	quote_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	request_fingerprint_sha256 TEXT NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	trajectory_hash TEXT NOT NULL DEFAULT '',
	wallet_request_id TEXT NOT NULL,
	wallet_response_json BYTEA,
	wallet_receipt_sha256 TEXT NOT NULL DEFAULT '',
	preimage_sha256 TEXT NOT NULL DEFAULT '',
	paid_at_ms BIGINT NOT NULL DEFAULT 0,
	error_code TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	completed_at_ms BIGINT NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS liquidity_receipts (
	receipt_id TEXT NOT NULL,
	quote_id TEXT NOT NULL,
	schema TEXT NOT NULL,
	outcome TEXT NOT NULL,
	preimage_sha256 TEXT NOT NULL DEFAULT '',
	wallet_receipt_sha256 TEXT NOT NULL DEFAULT '',
	paid_at_ms BIGINT NOT NULL DEFAULT 0,
	canonical_json_sha256 TEXT NOT NULL,
	signature TEXT NOT NULL DEFAULT '',
	created_at_ms BIGINT NOT NULL,
	PRIMARY KEY (quote_id, schema)
);
`

// Init creates the schema if it does not already exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: schema init failed")
	}
	return nil
}

func (s *Store) CreateOrGetQuote(ctx context.Context, quote liquidity.Quote, fingerprint string) (liquidity.Quote, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return liquidity.Quote{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanQuote(tx.QueryRowContext(ctx, `
		SELECT quote_id, idempotency_key, invoice, invoice_hash, host, quoted_amount_msats, max_amount_msats, max_fee_msats, urgency, policy_context_json, policy_context_sha256, valid_until_ms, created_at_ms, request_fingerprint_sha256
		FROM liquidity_quotes WHERE quote_id = $1 FOR UPDATE`, quote.QuoteID))
	switch {
	case err == nil:
		if existing.RequestFingerprintSHA256 == fingerprint {
			return existing, nil
		}
		return liquidity.Quote{}, errs.New(errs.KindConflict,
			"sqlliquidity: quote_id reused with a different fingerprint").
			WithDetails(map[string]any{"quote_id": quote.QuoteID})
	case !errors.Is(err, sql.ErrNoRows):
		return liquidity.Quote{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: quote lookup")
	}

	quote.RequestFingerprintSHA256 = fingerprint
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO liquidity_quotes (quote_id, idempotency_key, invoice, invoice_hash, host, quoted_amount_msats, max_amount_msats, max_fee_msats, urgency, policy_context_json, policy_context_sha256, valid_until_ms, created_at_ms, request_fingerprint_sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		quote.QuoteID, quote.IdempotencyKey, quote.Invoice, quote.InvoiceHash, quote.Host, quote.QuotedAmountMsats,
		quote.MaxAmountMsats, quote.MaxFeeMsats, quote.Urgency, quote.PolicyContextJSON, quote.PolicyContextSHA256,
		quote.ValidUntilMs, quote.CreatedAtMs, quote.RequestFingerprintSHA256,
	); err != nil {
		return liquidity.Quote{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: insert quote")
	}

	if err := tx.Commit(); err != nil {
		return liquidity.Quote{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: commit")
	}
	return quote, nil
}

func scanQuote(row *sql.Row) (liquidity.Quote, error) {
	var q liquidity.Quote
	err := row.Scan(&q.QuoteID, &q.IdempotencyKey, &q.Invoice, &q.InvoiceHash, &q.Host, &q.QuotedAmountMsats,
		&q.MaxAmountMsats, &q.MaxFeeMsats, &q.Urgency, &q.PolicyContextJSON, &q.PolicyContextSHA256,
		&q.ValidUntilMs, &q.CreatedAtMs, &q.RequestFingerprintSHA256)
	return q, err
}

func (s *Store) GetQuote(ctx context.Context, quoteID string) (liquidity.Quote, error) {
	q, err := scanQuote(s.db.QueryRowContext(ctx, `
		SELECT quote_id, idempotency_key, invoice, invoice_hash, host, quoted_amount_msats, max_amount_msats, max_fee_msats, urgency, policy_context_json, policy_context_sha256, valid_until_ms, created_at_ms, request_fingerprint_sha256
		FROM liquidity_quotes WHERE quote_id = $1`, quoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return liquidity.Quote{}, errs.New(errs.KindInvalidRequest, "sqlliquidity: quote not found").WithDetails(map[string]any{"quote_id": quoteID})
	}
	if err != nil {
		return liquidity.Quote{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: quote lookup")
	}
	return q, nil
}

func (s *Store) CreateOrGetPaymentInFlight(ctx context.Context, quoteID, fingerprint, runID, trajectoryHash, walletRequestID string) (liquidity.Payment, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return liquidity.Payment{}, false, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	existing, scanErr := scanPayment(tx.QueryRowContext(ctx, `
		SELECT quote_id, status, request_fingerprint_sha256, run_id, trajectory_hash, wallet_request_id, wallet_response_json, wallet_receipt_sha256, preimage_sha256, paid_at_ms, error_code, error_message, completed_at_ms, latency_ms
		FROM liquidity_payments WHERE quote_id = $1 FOR UPDATE`, quoteID))
	switch {
	case scanErr == nil:
		return existing, false, nil
	case !errors.Is(scanErr, sql.ErrNoRows):
		return liquidity.Payment{}, false, errs.Wrap(errs.KindDependencyUnavailable, scanErr, "sqlliquidity: payment lookup")
	}

	payment := liquidity.Payment{
		QuoteID:                  quoteID,
		Status:                   liquidity.PaymentInFlight,
		RequestFingerprintSHA256: fingerprint,
		RunID:                    runID,
		TrajectoryHash:           trajectoryHash,
		WalletRequestID:          walletRequestID,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO liquidity_payments (quote_id, status, request_fingerprint_sha256, run_id, trajectory_hash, wallet_request_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		payment.QuoteID, payment.Status, payment.RequestFingerprintSHA256, payment.RunID, payment.TrajectoryHash, payment.WalletRequestID,
	); err != nil {
		return liquidity.Payment{}, false, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: insert payment")
	}

	if err := tx.Commit(); err != nil {
		return liquidity.Payment{}, false, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: commit")
	}
	return payment, true, nil
}

func scanPayment(row *sql.Row) (liquidity.Payment, error) {
	var p liquidity.Payment
	var walletResponse []byte
	err := row.Scan(&p.QuoteID, &p.Status, &p.RequestFingerprintSHA256, &p.RunID, &p.TrajectoryHash, &p.WalletRequestID,
		&walletResponse, &p.WalletReceiptSHA256, &p.PreimageSHA256, &p.PaidAtMs, &p.ErrorCode, &p.ErrorMessage,
		&p.CompletedAtMs, &p.LatencyMs)
	p.WalletResponseJSON = walletResponse
	return p, err
}

func (s *Store) GetPayment(ctx context.Context, quoteID string) (liquidity.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `
		SELECT quote_id, status, request_fingerprint_sha256, run_id, trajectory_hash, wallet_request_id, wallet_response_json, wallet_receipt_sha256, preimage_sha256, paid_at_ms, error_code, error_message, completed_at_ms, latency_ms
		FROM liquidity_payments WHERE quote_id = $1`, quoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return liquidity.Payment{}, errs.New(errs.KindInvalidRequest, "sqlliquidity: payment not found").WithDetails(map[string]any{"quote_id": quoteID})
	}
	if err != nil {
		return liquidity.Payment{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: payment lookup")
	}
	return p, nil
}

func (s *Store) FinalizePayment(ctx context.Context, payment liquidity.Payment, receipt liquidity.InvoicePayReceipt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var existingDigest string
	scanErr := tx.QueryRowContext(ctx, `
		SELECT canonical_json_sha256 FROM liquidity_receipts
		WHERE quote_id = $1 AND schema = $2 FOR UPDATE`,
		receipt.QuoteID, receipt.Schema).Scan(&existingDigest)
	switch {
	case scanErr == nil:
		if existingDigest == receipt.CanonicalJSONSHA256 {
			return nil
		}
		return errs.New(errs.KindConflict,
			"sqlliquidity: receipt reused with a different canonical digest").
			WithDetails(map[string]any{"quote_id": receipt.QuoteID, "schema": receipt.Schema})
	case !errors.Is(scanErr, sql.ErrNoRows):
		return errs.Wrap(errs.KindDependencyUnavailable, scanErr, "sqlliquidity: receipt lookup")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE liquidity_payments SET status = $1, wallet_response_json = $2, wallet_receipt_sha256 = $3, preimage_sha256 = $4, paid_at_ms = $5, error_code = $6, error_message = $7, completed_at_ms = $8, latency_ms = $9
		WHERE quote_id = $10`,
		payment.Status, payment.WalletResponseJSON, payment.WalletReceiptSHA256, payment.PreimageSHA256, payment.PaidAtMs,
		payment.ErrorCode, payment.ErrorMessage, payment.CompletedAtMs, payment.LatencyMs, payment.QuoteID,
	); err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: update payment")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO liquidity_receipts (receipt_id, quote_id, schema, outcome, preimage_sha256, wallet_receipt_sha256, paid_at_ms, canonical_json_sha256, signature, created_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		receipt.ReceiptID, receipt.QuoteID, receipt.Schema, receipt.Outcome, receipt.PreimageSHA256, receipt.WalletReceiptSHA256,
		receipt.PaidAtMs, receipt.CanonicalJSONSHA256, receipt.Signature, receipt.CreatedAtMs,
	); err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: insert receipt")
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: commit")
	}
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, quoteID, schema string) (liquidity.InvoicePayReceipt, error) {
	var r liquidity.InvoicePayReceipt
	r.QuoteID, r.Schema = quoteID, schema
	err := s.db.QueryRowContext(ctx, `
		SELECT receipt_id, outcome, preimage_sha256, wallet_receipt_sha256, paid_at_ms, canonical_json_sha256, signature, created_at_ms
		FROM liquidity_receipts WHERE quote_id = $1 AND schema = $2`,
		quoteID, schema).Scan(&r.ReceiptID, &r.Outcome, &r.PreimageSHA256, &r.WalletReceiptSHA256, &r.PaidAtMs, &r.CanonicalJSONSHA256, &r.Signature, &r.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return liquidity.InvoicePayReceipt{}, errs.New(errs.KindInvalidRequest, "sqlliquidity: receipt not found").
			WithDetails(map[string]any{"quote_id": quoteID, "schema": schema})
	}
	if err != nil {
		return liquidity.InvoicePayReceipt{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlliquidity: receipt lookup")
	}
	return r, nil
}
