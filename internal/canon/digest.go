package canon

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestLength is the length of a hex-encoded SHA-256 digest.
const DigestLength = 64

// EmptyDigest is the digest of the zero-length payload. Spans with no
// meaningful arguments or result (human approvals) reference it.
var EmptyDigest = Digest(nil)

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MarshalDigest canonicalizes v and returns both the bytes and their digest.
func MarshalDigest(v any) (data []byte, digest string, err error) {
	data, err = Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return data, Digest(data), nil
}

// ValidDigest reports whether s looks like a digest produced by Digest.
func ValidDigest(s string) bool {
	if len(s) != DigestLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
