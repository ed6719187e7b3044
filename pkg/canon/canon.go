// Package canon provides the deterministic JSON canonicalization and
// hashing used throughout the control plane for fingerprints, idempotency
// keys, and receipt signatures.
//
// Canonical(v) produces byte-identical output regardless of map insertion
// order: object keys sorted ascending, no insignificant whitespace,
// integers preserved exactly, and strings escaped without HTML escaping.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

// Canonical returns the canonical JSON byte representation of v.
//
// Strategy mirrors the teacher's JCS implementation: marshal through the
// standard encoder first (so struct tags are honored), decode into a
// generic tree with json.Number preserved, then re-marshal recursively
// with sorted keys and HTML escaping disabled.
func Canonical(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidRequest, err, "canon: pre-marshal failed")
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, errs.Wrap(errs.KindInvalidRequest, err, "canon: intermediate decode failed")
	}

	return marshalRecursive(generic)
}

// CanonicalSHA256 returns the SHA-256 hex digest of Canonical(v).
func CanonicalSHA256(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func marshalRecursive(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		return encodeString(t)
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalRecursive(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := encodeString(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')

			vb, err := marshalRecursive(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, errs.Newf(errs.KindInvalidRequest, "canon: value of type %T cannot be canonically encoded", v)
	}
}

func encodeString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, errs.Wrap(errs.KindInvalidRequest, err, "canon: string encode failed")
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Fingerprint computes the canonical SHA-256 digest of the logically
// significant fields of a request, used across the credit engine and
// liquidity service to detect benign retries vs idempotency-key reuse
// with different parameters.
func Fingerprint(fields any) (string, error) {
	digest, err := CanonicalSHA256(fields)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return digest, nil
}
