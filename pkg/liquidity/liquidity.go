// Package liquidity implements the quote -> pay -> receipt lane: quoting
// a Lightning invoice payment, gating concurrent pay attempts on a single
// in-flight row per quote, calling out to an external wallet executor,
// and producing a signed InvoicePayReceipt. Two Store implementations
// live alongside it: pkg/store/memliquidity (coarse mutex, process-local)
// and pkg/store/sqlliquidity (durable, transactional).
package liquidity

import "context"

// PaymentStatus is one of LiquidityPayment's lifecycle states.
type PaymentStatus string

const (
	PaymentInFlight  PaymentStatus = "in_flight"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Quote is a priced, fingerprinted offer to pay a specific invoice.
type Quote struct {
	QuoteID                  string
	IdempotencyKey           string
	RequestFingerprintSHA256 string
	Invoice                  string
	InvoiceHash              string
	Host                     string
	QuotedAmountMsats        int64
	MaxAmountMsats           int64
	MaxFeeMsats              int64
	Urgency                  string // optional
	PolicyContextJSON        []byte
	PolicyContextSHA256      string
	ValidUntilMs             int64
	CreatedAtMs              int64
}

// Payment is the single row tracking a quote's pay attempt, at most one
// per QuoteID.
type Payment struct {
	QuoteID                  string
	Status                   PaymentStatus
	RequestFingerprintSHA256 string
	RunID                    string // optional
	TrajectoryHash           string // optional
	WalletRequestID          string
	WalletResponseJSON       []byte
	WalletReceiptSHA256      string
	PreimageSHA256           string
	PaidAtMs                 int64
	ErrorCode                string
	ErrorMessage             string
	CompletedAtMs            int64
	LatencyMs                int64
}

// InvoicePayReceipt is the signed record of a completed (or failed) pay
// attempt, pointing back at the quote it settles.
type InvoicePayReceipt struct {
	ReceiptID           string
	Schema              string
	QuoteID             string
	Outcome             string // "succeeded" | "failed"
	PreimageSHA256      string
	WalletReceiptSHA256 string
	PaidAtMs            int64
	CanonicalJSONSHA256 string
	Signature           string
	CreatedAtMs         int64
}

// Store is the liquidity service's storage contract. Implementations own
// all synchronization for their backing storage, matching the "shared
// mutable state" design note governing this component.
type Store interface {
	// CreateOrGetQuote inserts quote keyed by QuoteID, or returns the
	// stored row if QuoteID exists with a matching fingerprint. Returns
	// an errs.KindConflict error on fingerprint mismatch.
	CreateOrGetQuote(ctx context.Context, quote Quote, fingerprint string) (Quote, error)

	// GetQuote looks up a quote by id.
	GetQuote(ctx context.Context, quoteID string) (Quote, error)

	// CreateOrGetPaymentInFlight inserts a Payment{Status: PaymentInFlight}
	// row for quoteID if none exists, returning (row, created=true). If a
	// row already exists, returns (row, created=false) regardless of its
	// status; the caller decides what to do with a non-in-flight or
	// still-in-flight existing row.
	CreateOrGetPaymentInFlight(ctx context.Context, quoteID, fingerprint string, runID, trajectoryHash, walletRequestID string) (Payment, bool, error)

	// GetPayment looks up a payment by quote id.
	GetPayment(ctx context.Context, quoteID string) (Payment, error)

	// FinalizePayment atomically updates payment to a terminal status and
	// writes receipt under (quoteID, receipt.Schema, digest), matching if
	// a matching digest already exists there.
	FinalizePayment(ctx context.Context, payment Payment, receipt InvoicePayReceipt) error

	// GetReceipt looks up a receipt by quote id and schema.
	GetReceipt(ctx context.Context, quoteID, schema string) (InvoicePayReceipt, error)
}
