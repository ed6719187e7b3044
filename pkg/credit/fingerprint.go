package credit

import "github.com/pretyflaco/openagents-sub005/pkg/canon"

// OfferFingerprint hashes the logically significant fields of an offer
// request: everything that must match on replay for two calls to be
// considered the same idempotent request rather than a key reuse.
func OfferFingerprint(agentID, poolID, scopeType, scopeID string, maxSats, feeBps int64, requiresVerifier bool, expiresAtMs int64) (string, error) {
	return canon.CanonicalSHA256(map[string]any{
		"agent_id":          agentID,
		"pool_id":           poolID,
		"scope_type":        scopeType,
		"scope_id":          scopeID,
		"max_sats":          maxSats,
		"fee_bps":           feeBps,
		"requires_verifier": requiresVerifier,
		"exp":               expiresAtMs,
	})
}

// EnvelopeFingerprint hashes the logically significant fields of an
// envelope draw request.
func EnvelopeFingerprint(offerID, agentID, poolID, providerID, scopeType, scopeID string, maxSats, feeBps, expiresAtMs int64) (string, error) {
	return canon.CanonicalSHA256(map[string]any{
		"offer_id":    offerID,
		"agent_id":    agentID,
		"pool_id":     poolID,
		"provider_id": providerID,
		"scope_type":  scopeType,
		"scope_id":    scopeID,
		"max_sats":    maxSats,
		"fee_bps":     feeBps,
		"exp":         expiresAtMs,
	})
}

// SettlementFingerprint hashes the logically significant fields of a
// settlement request.
func SettlementFingerprint(envelopeID string, outcome SettlementOutcome, spentSats, feeSats int64, verificationReceiptSHA256 string) (string, error) {
	return canon.CanonicalSHA256(map[string]any{
		"envelope_id":                 envelopeID,
		"outcome":                     outcome,
		"spent_sats":                  spentSats,
		"fee_sats":                    feeSats,
		"verification_receipt_sha256": verificationReceiptSHA256,
	})
}
