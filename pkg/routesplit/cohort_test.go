package routesplit

import "testing"

func TestStableBucket_DeterministicAndInRange(t *testing.T) {
	a := stableBucket("user-1", "salt-a")
	b := stableBucket("user-1", "salt-a")
	if a != b {
		t.Fatalf("expected stable bucket, got %d then %d", a, b)
	}
	if a < 0 || a >= 100 {
		t.Fatalf("bucket out of range: %d", a)
	}
}

func TestStableBucket_DifferentSaltChangesBucketSet(t *testing.T) {
	changed := false
	for i := 0; i < 20; i++ {
		key := string(rune('a' + i))
		if stableBucket(key, "salt-a") != stableBucket(key, "salt-b") {
			changed = true
			break
		}
	}
	if !changed {
		t.Fatal("expected at least one key to land in a different bucket under a different salt")
	}
}
