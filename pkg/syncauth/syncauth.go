// Package syncauth issues and verifies the JWTs that carry
// syncclient.SyncSessionClaims across the wire, so a sync session's
// scopes and stream allowlist travel as a signed, tamper-evident token
// rather than a bare struct the caller could forge.
//
// Grounded on the teacher's pkg/identity: KeySet's Ed25519-over-JWT
// rotation shape (keyset.go) and TokenManager's sign/validate pair
// (token.go), narrowed to the one claim shape this system needs.
package syncauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/syncclient"
)

// Claims embeds the wire SyncSessionClaims in a jwt.RegisteredClaims
// envelope so standard JWT tooling can parse the token shape.
type Claims struct {
	jwt.RegisteredClaims
	Scopes         []string `json:"scopes,omitempty"`
	AllowedStreams []string `json:"allowed_streams,omitempty"`
}

// KeySet manages the active Ed25519 signing key and verification of past
// keys, matching the teacher's rotation-without-downtime contract.
type KeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]ed25519.PrivateKey
}

// NewKeySet generates an initial signing key.
func NewKeySet() (*KeySet, error) {
	ks := &KeySet{keys: make(map[string]ed25519.PrivateKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates a fresh key and makes it current, retaining prior keys
// for verification of tokens signed before the rotation.
func (ks *KeySet) Rotate() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "syncauth: generate key")
	}

	kid := fmt.Sprintf("key-%d", len(ks.keys)+1)
	ks.keys[kid] = privateKey
	ks.currentKID = kid
	return nil
}

func (ks *KeySet) keyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("syncauth: unexpected signing method %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("syncauth: missing kid in header")
		}
		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("syncauth: key not found: %s", kid)
		}
		return key.Public(), nil
	}
}

// TokenManager issues and verifies SyncSessionClaims-carrying JWTs.
type TokenManager struct {
	keySet *KeySet
}

// NewTokenManager binds a TokenManager to keySet.
func NewTokenManager(keySet *KeySet) *TokenManager {
	return &TokenManager{keySet: keySet}
}

// Issue signs a token encoding claims, valid from notBefore through expiresAt.
func (tm *TokenManager) Issue(claims syncclient.SyncSessionClaims) (string, error) {
	wrapped := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.SessionID,
			Subject:   claims.SessionID,
			IssuedAt:  jwt.NewNumericDate(msToTime(claims.IssuedAtMs)),
			NotBefore: jwt.NewNumericDate(msToTime(claims.NotBeforeMs)),
			ExpiresAt: jwt.NewNumericDate(msToTime(claims.ExpiresAtMs)),
			Issuer:    "openagentsd/syncauth",
		},
		Scopes:         claims.Scopes,
		AllowedStreams: claims.AllowedStreams,
	}

	tm.keySet.mu.RLock()
	key := tm.keySet.keys[tm.keySet.currentKID]
	kid := tm.keySet.currentKID
	tm.keySet.mu.RUnlock()

	if key == nil {
		return "", errs.New(errs.KindInternal, "syncauth: no active signing key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, wrapped)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "syncauth: sign token")
	}
	return signed, nil
}

// Verify parses tokenString, checks its Ed25519 signature against the key
// named by its kid header, and returns the wire SyncSessionClaims it
// carries. Registered claims (exp, nbf, iat) are not validated here: the
// token is parsed with jwt.WithoutClaimsValidation, and callers run
// syncclient's own authorize check, which evaluates NotBeforeMs/
// ExpiresAtMs against the caller-supplied request clock, not wall time.
func (tm *TokenManager) Verify(tokenString string) (syncclient.SyncSessionClaims, error) {
	parsed := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, parsed, tm.keySet.keyFunc(), jwt.WithoutClaimsValidation())
	if err != nil {
		return syncclient.SyncSessionClaims{}, errs.Wrap(errs.KindAuth, err, "syncauth: parse token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return syncclient.SyncSessionClaims{}, errs.New(errs.KindAuth, "syncauth: unexpected claims type")
	}

	return syncclient.SyncSessionClaims{
		SessionID:      claims.Subject,
		Scopes:         claims.Scopes,
		AllowedStreams: claims.AllowedStreams,
		IssuedAtMs:     timeToMs(claims.IssuedAt),
		NotBeforeMs:    timeToMs(claims.NotBefore),
		ExpiresAtMs:    timeToMs(claims.ExpiresAt),
	}, nil
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timeToMs(t *jwt.NumericDate) int64 {
	if t == nil {
		return 0
	}
	return t.Time.UnixMilli()
}
