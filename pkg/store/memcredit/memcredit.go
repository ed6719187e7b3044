// Package memcredit is a process-local, coarse-mutex implementation of
// credit.Store, for single-process deployments and tests.
package memcredit

import (
	"context"
	"sync"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/credit"
)

type settlementRow struct {
	settlement  credit.Settlement
	fingerprint string
}

type receiptKey struct {
	entityKind string
	entityID   string
	schema     string
}

// Store implements credit.Store behind a single mutex, matching the
// "coarse mutex for in-memory implementations" design note.
type Store struct {
	mu          sync.Mutex
	offers      map[string]credit.Offer
	offerFp     map[string]string
	envelopes   map[string]credit.Envelope
	envelopeFp  map[string]string
	settlements map[string]settlementRow // keyed by envelope id
	receipts    map[receiptKey]credit.Receipt
}

func New() *Store {
	return &Store{
		offers:      make(map[string]credit.Offer),
		offerFp:     make(map[string]string),
		envelopes:   make(map[string]credit.Envelope),
		envelopeFp:  make(map[string]string),
		settlements: make(map[string]settlementRow),
		receipts:    make(map[receiptKey]credit.Receipt),
	}
}

func (s *Store) CreateOrGetOffer(ctx context.Context, offer credit.Offer, fingerprint string) (credit.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.offers[offer.OfferID]; ok {
		if s.offerFp[offer.OfferID] == fingerprint {
			return existing, nil
		}
		return credit.Offer{}, errs.New(errs.KindConflict,
			"memcredit: offer_id reused with a different fingerprint").
			WithDetails(map[string]any{"offer_id": offer.OfferID})
	}

	offer.RequestFingerprintSHA256 = fingerprint
	s.offers[offer.OfferID] = offer
	s.offerFp[offer.OfferID] = fingerprint
	return offer, nil
}

func (s *Store) UpdateOfferStatus(ctx context.Context, offerID string, status credit.OfferStatus) (credit.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[offerID]
	if !ok {
		return credit.Offer{}, errs.New(errs.KindInvalidRequest, "memcredit: offer not found").
			WithDetails(map[string]any{"offer_id": offerID})
	}
	offer.Status = status
	s.offers[offerID] = offer
	return offer, nil
}

func (s *Store) GetOffer(ctx context.Context, offerID string) (credit.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[offerID]
	if !ok {
		return credit.Offer{}, errs.New(errs.KindInvalidRequest, "memcredit: offer not found").
			WithDetails(map[string]any{"offer_id": offerID})
	}
	return offer, nil
}

func (s *Store) CreateOrGetEnvelope(ctx context.Context, envelope credit.Envelope, fingerprint string) (credit.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.envelopes[envelope.EnvelopeID]; ok {
		if s.envelopeFp[envelope.EnvelopeID] == fingerprint {
			return existing, nil
		}
		return credit.Envelope{}, errs.New(errs.KindConflict,
			"memcredit: envelope_id reused with a different fingerprint").
			WithDetails(map[string]any{"envelope_id": envelope.EnvelopeID})
	}

	envelope.RequestFingerprintSHA256 = fingerprint
	s.envelopes[envelope.EnvelopeID] = envelope
	s.envelopeFp[envelope.EnvelopeID] = fingerprint
	return envelope, nil
}

func (s *Store) UpdateEnvelopeStatus(ctx context.Context, envelopeID string, status credit.EnvelopeStatus) (credit.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, ok := s.envelopes[envelopeID]
	if !ok {
		return credit.Envelope{}, errs.New(errs.KindInvalidRequest, "memcredit: envelope not found").
			WithDetails(map[string]any{"envelope_id": envelopeID})
	}
	envelope.Status = status
	s.envelopes[envelopeID] = envelope
	return envelope, nil
}

func (s *Store) GetEnvelope(ctx context.Context, envelopeID string) (credit.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, ok := s.envelopes[envelopeID]
	if !ok {
		return credit.Envelope{}, errs.New(errs.KindInvalidRequest, "memcredit: envelope not found").
			WithDetails(map[string]any{"envelope_id": envelopeID})
	}
	return envelope, nil
}

func (s *Store) CreateOrGetSettlement(ctx context.Context, settlement credit.Settlement, fingerprint string) (credit.Settlement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.settlements[settlement.EnvelopeID]; ok {
		if existing.fingerprint == fingerprint {
			return existing.settlement, false, nil
		}
		return credit.Settlement{}, false, errs.New(errs.KindConflict,
			"memcredit: envelope already settled with a different fingerprint").
			WithDetails(map[string]any{"envelope_id": settlement.EnvelopeID})
	}

	settlement.RequestFingerprintSHA256 = fingerprint
	s.settlements[settlement.EnvelopeID] = settlementRow{settlement: settlement, fingerprint: fingerprint}
	return settlement, true, nil
}

func (s *Store) PutReceipt(ctx context.Context, receipt credit.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := receiptKey{entityKind: receipt.EntityKind, entityID: receipt.EntityID, schema: receipt.Schema}
	if existing, ok := s.receipts[key]; ok {
		if existing.CanonicalJSONSHA256 == receipt.CanonicalJSONSHA256 {
			return nil
		}
		return errs.New(errs.KindConflict,
			"memcredit: receipt reused with a different canonical digest").
			WithDetails(map[string]any{"entity_kind": receipt.EntityKind, "entity_id": receipt.EntityID, "schema": receipt.Schema})
	}

	s.receipts[key] = receipt
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, entityKind, entityID, schema string) (credit.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[receiptKey{entityKind: entityKind, entityID: entityID, schema: schema}]
	if !ok {
		return credit.Receipt{}, errs.New(errs.KindInvalidRequest, "memcredit: receipt not found").
			WithDetails(map[string]any{"entity_kind": entityKind, "entity_id": entityID, "schema": schema})
	}
	return receipt, nil
}
