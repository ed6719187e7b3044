// Package memliquidity is a process-local, coarse-mutex implementation of
// liquidity.Store, for single-process deployments and tests.
package memliquidity

import (
	"context"
	"sync"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/liquidity"
)

type receiptKey struct {
	quoteID string
	schema  string
}

// Store implements liquidity.Store behind a single mutex.
type Store struct {
	mu       sync.Mutex
	quotes   map[string]liquidity.Quote
	quoteFp  map[string]string
	payments map[string]liquidity.Payment
	receipts map[receiptKey]liquidity.InvoicePayReceipt
}

func New() *Store {
	return &Store{
		quotes:   make(map[string]liquidity.Quote),
		quoteFp:  make(map[string]string),
		payments: make(map[string]liquidity.Payment),
		receipts: make(map[receiptKey]liquidity.InvoicePayReceipt),
	}
}

func (s *Store) CreateOrGetQuote(ctx context.Context, quote liquidity.Quote, fingerprint string) (liquidity.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.quotes[quote.QuoteID]; ok {
		if s.quoteFp[quote.QuoteID] == fingerprint {
			return existing, nil
		}
		return liquidity.Quote{}, errs.New(errs.KindConflict,
			"memliquidity: quote_id reused with a different fingerprint").
			WithDetails(map[string]any{"quote_id": quote.QuoteID})
	}

	quote.RequestFingerprintSHA256 = fingerprint
	s.quotes[quote.QuoteID] = quote
	s.quoteFp[quote.QuoteID] = fingerprint
	return quote, nil
}

func (s *Store) GetQuote(ctx context.Context, quoteID string) (liquidity.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quote, ok := s.quotes[quoteID]
	if !ok {
		return liquidity.Quote{}, errs.New(errs.KindInvalidRequest, "memliquidity: quote not found").
			WithDetails(map[string]any{"quote_id": quoteID})
	}
	return quote, nil
}

func (s *Store) CreateOrGetPaymentInFlight(ctx context.Context, quoteID, fingerprint, runID, trajectoryHash, walletRequestID string) (liquidity.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.payments[quoteID]; ok {
		return existing, false, nil
	}

	payment := liquidity.Payment{
		QuoteID:                  quoteID,
		Status:                   liquidity.PaymentInFlight,
		RequestFingerprintSHA256: fingerprint,
		RunID:                    runID,
		TrajectoryHash:           trajectoryHash,
		WalletRequestID:          walletRequestID,
	}
	s.payments[quoteID] = payment
	return payment, true, nil
}

func (s *Store) GetPayment(ctx context.Context, quoteID string) (liquidity.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[quoteID]
	if !ok {
		return liquidity.Payment{}, errs.New(errs.KindInvalidRequest, "memliquidity: payment not found").
			WithDetails(map[string]any{"quote_id": quoteID})
	}
	return payment, nil
}

func (s *Store) FinalizePayment(ctx context.Context, payment liquidity.Payment, receipt liquidity.InvoicePayReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := receiptKey{quoteID: receipt.QuoteID, schema: receipt.Schema}
	if existing, ok := s.receipts[key]; ok {
		if existing.CanonicalJSONSHA256 != receipt.CanonicalJSONSHA256 {
			return errs.New(errs.KindConflict,
				"memliquidity: receipt reused with a different canonical digest").
				WithDetails(map[string]any{"quote_id": receipt.QuoteID, "schema": receipt.Schema})
		}
		return nil
	}

	s.payments[payment.QuoteID] = payment
	s.receipts[key] = receipt
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, quoteID, schema string) (liquidity.InvoicePayReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[receiptKey{quoteID: quoteID, schema: schema}]
	if !ok {
		return liquidity.InvoicePayReceipt{}, errs.New(errs.KindInvalidRequest, "memliquidity: receipt not found").
			WithDetails(map[string]any{"quote_id": quoteID, "schema": schema})
	}
	return receipt, nil
}
