package cache

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Canonical normalizes an id before hashing. For http(s) ids the query string
// and a single trailing slash are dropped so trivially different URLs share a key.
func Canonical(id string) string {
	lower := strings.ToLower(id)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return id
	}
	if i := strings.IndexByte(id, '?'); i >= 0 {
		id = id[:i]
	}
	return strings.TrimSuffix(id, "/")
}

// Key returns the storage key for id
func Key(id string) string {
	sum := md5.Sum([]byte(Canonical(id)))
	return hex.EncodeToString(sum[:])
}
