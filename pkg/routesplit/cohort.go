package routesplit

import (
	"crypto/sha256"
	"encoding/base64"
)

// stableBucket deterministically maps a cohort key into [0, 100) given a
// salt, stable across process restarts and independent of map/slice
// iteration order: SHA-256(salt + ":" + cohortKey), base64url-no-pad
// encode the digest, fold the first four bytes of that encoded string.
func stableBucket(cohortKey, salt string) int {
	sum := sha256.Sum256([]byte(salt + ":" + cohortKey))
	encoded := base64.RawURLEncoding.EncodeToString(sum[:])

	x := uint32(0)
	n := len(encoded)
	if n > 4 {
		n = 4
	}
	for i := 0; i < n; i++ {
		x = x*131 + uint32(encoded[i])
	}
	return int(x % 100)
}
