package liquidity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/canon"
)

const (
	quotePayRequestSchema   = "openagents.liquidity.quote_pay_request.v1"
	invoicePayReceiptSchema = "openagents.liquidity.invoice_pay_receipt.v1"

	minQuoteTTLSeconds = 5
	maxQuoteTTLSeconds = 3600
)

// Service implements the quote/pay/status trio described by the package
// doc, wiring the Store, the wallet executor client, and an optional
// receipt signer together.
type Service struct {
	store       Store
	wallet      *WalletExecutorClient
	signer      canon.Signer
	quoteTTL    time.Duration
	nostrMirror func(ctx context.Context, receipt InvoicePayReceipt)
	nowMs       func() int64
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithSigner configures receipt signing. Without it, receipts carry an
// empty signature.
func WithSigner(signer canon.Signer) Option {
	return func(s *Service) { s.signer = signer }
}

// WithQuoteTTL overrides the default quote TTL, still clamped to
// [5s, 3600s].
func WithQuoteTTL(ttl time.Duration) Option {
	return func(s *Service) { s.quoteTTL = ttl }
}

// WithNostrMirror registers a fire-and-forget sink invoked after every
// finalized payment. Implementations must not block or return an error;
// publish failures are the mirror's own concern to log.
func WithNostrMirror(mirror func(ctx context.Context, receipt InvoicePayReceipt)) Option {
	return func(s *Service) { s.nostrMirror = mirror }
}

// WithClock overrides the wall clock, for tests.
func WithClock(nowMs func() int64) Option {
	return func(s *Service) { s.nowMs = nowMs }
}

// NewService wires a Store and a wallet executor client into a Service.
func NewService(store Store, wallet *WalletExecutorClient, opts ...Option) *Service {
	s := &Service{
		store:    store,
		wallet:   wallet,
		quoteTTL: 300 * time.Second,
		nowMs:    func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QuotePayRequest is the caller-facing request to QuotePay.
type QuotePayRequest struct {
	Schema            string
	IdempotencyKey    string
	Invoice           string
	Host              string
	MaxAmountMsats    int64
	MaxFeeMsats       int64
	Urgency           string
	PolicyContextJSON []byte
}

// QuotePay validates req, derives the request fingerprint, and
// create-or-gets the quote row.
func (s *Service) QuotePay(ctx context.Context, req QuotePayRequest) (Quote, error) {
	if req.Schema != quotePayRequestSchema {
		return Quote{}, errs.Newf(errs.KindInvalidRequest, "liquidity: unexpected schema %q", req.Schema)
	}
	if req.IdempotencyKey == "" {
		return Quote{}, errs.New(errs.KindMissingField, "liquidity: idempotency_key is required")
	}
	if req.Invoice == "" {
		return Quote{}, errs.New(errs.KindMissingField, "liquidity: invoice is required")
	}
	if req.Host == "" {
		return Quote{}, errs.New(errs.KindMissingField, "liquidity: host is required")
	}

	quotedAmountMsats, ok, err := ParseInvoiceAmountMsats(req.Invoice)
	if err != nil {
		return Quote{}, err
	}
	if !ok {
		return Quote{}, errs.New(errs.KindInvalidRequest, "liquidity: invoice does not encode an amount")
	}
	if quotedAmountMsats > req.MaxAmountMsats {
		return Quote{}, errs.Newf(errs.KindInvalidRequest, "liquidity: quoted amount %d exceeds max_amount_msats %d", quotedAmountMsats, req.MaxAmountMsats)
	}

	policyContext, err := decodePolicyContext(req.PolicyContextJSON)
	if err != nil {
		return Quote{}, errs.Wrap(errs.KindInvalidRequest, err, "liquidity: decode policy_context")
	}
	policyCanonical, err := canon.Canonical(policyContext)
	if err != nil {
		return Quote{}, errs.Wrap(errs.KindInvalidRequest, err, "liquidity: canonicalize policy_context")
	}
	policyContextSHA256 := canon.HashBytes(policyCanonical)

	invoiceHash := canon.HashBytes([]byte(req.Invoice))

	fingerprint, err := canon.CanonicalSHA256(map[string]any{
		"schema":                quotePayRequestSchema,
		"invoice_hash":          invoiceHash,
		"host":                  req.Host,
		"quoted_amount_msats":   quotedAmountMsats,
		"max_amount_msats":      req.MaxAmountMsats,
		"max_fee_msats":         req.MaxFeeMsats,
		"urgency":               req.Urgency,
		"policy_context_sha256": policyContextSHA256,
	})
	if err != nil {
		return Quote{}, errs.Wrap(errs.KindInternal, err, "liquidity: compute quote fingerprint")
	}

	now := s.nowMs()
	ttlSeconds := clampSeconds(int64(s.quoteTTL.Seconds()), minQuoteTTLSeconds, maxQuoteTTLSeconds)

	// QuoteID is derived from idempotency_key, not randomly generated, so
	// a retried quote_pay call with the same idempotency_key looks up the
	// same row instead of minting a new one every time.
	quote := Quote{
		QuoteID:                  "lqt_" + canon.HashBytes([]byte(req.IdempotencyKey))[:24],
		IdempotencyKey:           req.IdempotencyKey,
		RequestFingerprintSHA256: fingerprint,
		Invoice:                  req.Invoice,
		InvoiceHash:              invoiceHash,
		Host:                     req.Host,
		QuotedAmountMsats:        quotedAmountMsats,
		MaxAmountMsats:           req.MaxAmountMsats,
		MaxFeeMsats:              req.MaxFeeMsats,
		Urgency:                  req.Urgency,
		PolicyContextJSON:        policyCanonical,
		PolicyContextSHA256:      policyContextSHA256,
		ValidUntilMs:             now + ttlSeconds*1000,
		CreatedAtMs:              now,
	}

	stored, err := s.store.CreateOrGetQuote(ctx, quote, fingerprint)
	if err != nil {
		return Quote{}, err
	}
	return stored, nil
}

// PayRequest is the caller-facing request to Pay.
type PayRequest struct {
	Schema         string
	QuoteID        string
	RunID          string
	TrajectoryHash string
}

// Pay looks up the quote, gates concurrent attempts to a single in-flight
// row, and either replays a terminal outcome or drives a fresh payment
// through the wallet executor.
func (s *Service) Pay(ctx context.Context, req PayRequest) (Payment, InvoicePayReceipt, error) {
	quote, err := s.store.GetQuote(ctx, req.QuoteID)
	if err != nil {
		return Payment{}, InvoicePayReceipt{}, err
	}

	now := s.nowMs()
	if now > quote.ValidUntilMs {
		return Payment{}, InvoicePayReceipt{}, errs.New(errs.KindInvalidRequest, "liquidity: quote expired")
	}

	fingerprint, err := canon.CanonicalSHA256(map[string]any{
		"schema":          "openagents.liquidity.pay_request.v1",
		"quote_id":        req.QuoteID,
		"run_id":          req.RunID,
		"trajectory_hash": req.TrajectoryHash,
	})
	if err != nil {
		return Payment{}, InvoicePayReceipt{}, errs.Wrap(errs.KindInternal, err, "liquidity: compute pay fingerprint")
	}

	walletRequestID := "lwr_" + uuid.NewString()
	payment, created, err := s.store.CreateOrGetPaymentInFlight(ctx, req.QuoteID, fingerprint, req.RunID, req.TrajectoryHash, walletRequestID)
	if err != nil {
		return Payment{}, InvoicePayReceipt{}, err
	}

	if !created {
		if payment.Status == PaymentInFlight {
			return Payment{}, InvoicePayReceipt{}, errs.New(errs.KindConflict, "liquidity: payment already in flight")
		}
		receipt, err := s.store.GetReceipt(ctx, req.QuoteID, invoicePayReceiptSchema)
		if err != nil {
			return Payment{}, InvoicePayReceipt{}, err
		}
		return payment, receipt, nil
	}

	return s.runPayment(ctx, quote, payment)
}

func (s *Service) runPayment(ctx context.Context, quote Quote, payment Payment) (Payment, InvoicePayReceipt, error) {
	start := s.nowMs()

	maxAmountMsats := quote.QuotedAmountMsats + quote.MaxFeeMsats
	if quote.MaxAmountMsats < maxAmountMsats {
		maxAmountMsats = quote.MaxAmountMsats
	}
	if maxAmountMsats < quote.QuotedAmountMsats {
		return s.failPayment(ctx, quote, payment, "liquidity_max_fee_exhausted", "computed max amount is below quoted amount", start)
	}

	if s.wallet == nil || !s.wallet.Configured() {
		return s.failPayment(ctx, quote, payment, "wallet_executor_not_configured", "no wallet executor base URL configured", start)
	}

	walletReq := PayBolt11Request{RequestID: payment.WalletRequestID}
	walletReq.Payment.Invoice = quote.Invoice
	walletReq.Payment.MaxAmountMsats = maxAmountMsats
	walletReq.Payment.Host = quote.Host

	resp, err := s.wallet.PayBolt11(ctx, walletReq)
	if err != nil {
		if walletErr, ok := err.(*WalletExecutorError); ok {
			return s.failPayment(ctx, quote, payment, walletErr.Code, walletErr.Message, start)
		}
		return s.failPayment(ctx, quote, payment, "wallet_executor_transport_error", err.Error(), start)
	}

	now := s.nowMs()
	payment.Status = PaymentSucceeded
	payment.PreimageSHA256 = resp.PreimageSHA256
	payment.WalletReceiptSHA256 = resp.WalletReceiptSHA256
	payment.PaidAtMs = resp.PaidAtMs
	payment.CompletedAtMs = now
	payment.LatencyMs = now - start

	receipt, err := s.buildReceipt(quote.QuoteID, "succeeded", resp.PreimageSHA256, resp.WalletReceiptSHA256, resp.PaidAtMs, now)
	if err != nil {
		return Payment{}, InvoicePayReceipt{}, err
	}

	if err := s.store.FinalizePayment(ctx, payment, receipt); err != nil {
		return Payment{}, InvoicePayReceipt{}, err
	}

	s.mirror(ctx, receipt)
	return payment, receipt, nil
}

func (s *Service) failPayment(ctx context.Context, quote Quote, payment Payment, code, message string, start int64) (Payment, InvoicePayReceipt, error) {
	now := s.nowMs()
	payment.Status = PaymentFailed
	payment.ErrorCode = code
	payment.ErrorMessage = message
	payment.CompletedAtMs = now
	payment.LatencyMs = now - start

	receipt, err := s.buildReceipt(quote.QuoteID, "failed", "", "", 0, now)
	if err != nil {
		return Payment{}, InvoicePayReceipt{}, err
	}

	if err := s.store.FinalizePayment(ctx, payment, receipt); err != nil {
		return Payment{}, InvoicePayReceipt{}, err
	}

	s.mirror(ctx, receipt)
	return payment, receipt, nil
}

func (s *Service) buildReceipt(quoteID, outcome, preimageSHA256, walletReceiptSHA256 string, paidAtMs, createdAtMs int64) (InvoicePayReceipt, error) {
	digest, err := canon.CanonicalSHA256(map[string]any{
		"schema":                 invoicePayReceiptSchema,
		"quote_id":               quoteID,
		"outcome":                outcome,
		"preimage_sha256":        preimageSHA256,
		"wallet_receipt_sha256":  walletReceiptSHA256,
		"paid_at_ms":             paidAtMs,
	})
	if err != nil {
		return InvoicePayReceipt{}, errs.Wrap(errs.KindInternal, err, "liquidity: hash receipt")
	}

	signature, err := canon.SignReceiptSHA256(s.signer, digest)
	if err != nil {
		return InvoicePayReceipt{}, errs.Wrap(errs.KindInternal, err, "liquidity: sign receipt")
	}

	return InvoicePayReceipt{
		ReceiptID:           "lipr_" + digest[:24],
		Schema:              invoicePayReceiptSchema,
		QuoteID:             quoteID,
		Outcome:             outcome,
		PreimageSHA256:      preimageSHA256,
		WalletReceiptSHA256: walletReceiptSHA256,
		PaidAtMs:            paidAtMs,
		CanonicalJSONSHA256: digest,
		Signature:           signature,
		CreatedAtMs:         createdAtMs,
	}, nil
}

func (s *Service) mirror(ctx context.Context, receipt InvoicePayReceipt) {
	if s.nostrMirror == nil {
		return
	}
	go s.nostrMirror(ctx, receipt)
}

// StatusReport is the structured response from Status.
type StatusReport struct {
	WalletExecutorConfigured bool
	WalletExecutorReachable  bool
	ReceiptSigningEnabled    bool
	QuoteTTLSeconds          int64
	WalletStatus             *WalletStatus
	ErrorCode                string
	ErrorMessage             string
}

// Status reports the service's operational health without touching the store.
func (s *Service) Status(ctx context.Context) StatusReport {
	report := StatusReport{
		ReceiptSigningEnabled: s.signer != nil,
		QuoteTTLSeconds:       clampSeconds(int64(s.quoteTTL.Seconds()), minQuoteTTLSeconds, maxQuoteTTLSeconds),
	}

	if s.wallet == nil || !s.wallet.Configured() {
		return report
	}
	report.WalletExecutorConfigured = true

	walletStatus := s.wallet.Status(ctx)
	report.WalletStatus = &walletStatus
	report.WalletExecutorReachable = walletStatus.Reachable
	if !walletStatus.Reachable {
		report.ErrorCode = walletStatus.ErrorCode
		report.ErrorMessage = walletStatus.ErrorMsg
	}
	return report
}

func clampSeconds(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func decodePolicyContext(raw []byte) (any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
