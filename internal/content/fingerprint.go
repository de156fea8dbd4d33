package content

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const fieldSeparator = "|||"

// Fingerprint returns the first 16 hex characters of the SHA-256 of the
// item's narratable fields joined in fixed order. It is a change detector,
// not a security primitive.
func Fingerprint(it Item) string {
	joined := strings.Join([]string{
		it.Title,
		it.ScriptureRef,
		it.ScripturePassage,
		it.Teaching,
		it.ReflectionQuestion,
		it.ActionStep,
		it.Prayer,
	}, fieldSeparator)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:16]
}
