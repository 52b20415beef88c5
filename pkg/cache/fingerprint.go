package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// normalizeQuestion lowercases, trims, and collapses whitespace runs so that
// trivially reworded submissions share a fingerprint.
func normalizeQuestion(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Fingerprint derives the stable cache key for a question against one agent
// at one schema snapshot version.
func Fingerprint(question, agentID, schemaVersion string) string {
	h := sha256.New()
	h.Write([]byte(normalizeQuestion(question)))
	h.Write([]byte{0})
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write([]byte(schemaVersion))
	return hex.EncodeToString(h.Sum(nil))
}
