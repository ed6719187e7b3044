package canon

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

// Signer produces detached signatures over a receipt's canonical hash.
// Matches spec.md §4.1: "signature is optional — when no signing key is
// configured, receipts are unsigned but still carry the hash."
type Signer interface {
	// SignHexDigest signs the hex-encoded SHA-256 digest of a canonical
	// receipt and returns a hex-encoded detached signature.
	SignHexDigest(hexDigest string) (string, error)
	PublicKeyHex() string
}

// Ed25519Signer is the default in-process signer, analogous to the
// teacher's MemoryKeyProvider.
type Ed25519Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewEd25519Signer generates a fresh Ed25519 keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "canon: key generation failed")
	}
	return &Ed25519Signer{pub: pub, priv: priv}, nil
}

// NewEd25519SignerFromSeed constructs a signer from an existing 32-byte
// seed, e.g. loaded from an OS keychain by the external process (out of
// scope for this module per spec.md §1).
func NewEd25519SignerFromSeed(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errs.Newf(errs.KindInvalidRequest, "canon: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

func (s *Ed25519Signer) SignHexDigest(hexDigest string) (string, error) {
	digest, err := hex.DecodeString(hexDigest)
	if err != nil {
		return "", errs.Wrap(errs.KindInvalidRequest, err, "canon: digest is not valid hex")
	}
	sig := ed25519.Sign(s.priv, digest)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// Seed returns the 32-byte seed this signer was derived from, for
// callers that need to persist a generated key across restarts (e.g. to
// a local file or an external keychain process).
func (s *Ed25519Signer) Seed() []byte {
	return s.priv.Seed()
}

// SignReceiptSHA256 signs a receipt's canonical hex digest with signer, if
// signer is non-nil. When signer is nil it returns "" with no error —
// unsigned receipts still carry the hash per spec.md §4.1.
func SignReceiptSHA256(signer Signer, hexDigest string) (string, error) {
	if signer == nil {
		return "", nil
	}
	return signer.SignHexDigest(hexDigest)
}
