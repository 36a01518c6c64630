package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key fingerprints one protected fragment text for a language pair under a
// specific terminology version. The version is part of the key so a hit is
// only ever served for the protection scheme it was produced under.
func Key(protectedText, sourceLang, targetLang, termVersion string) string {
	h := sha256.New()
	h.Write([]byte(normalizeText(protectedText)))
	h.Write([]byte{0})
	h.Write([]byte(sourceLang))
	h.Write([]byte{0})
	h.Write([]byte(targetLang))
	h.Write([]byte{0})
	h.Write([]byte(termVersion))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeText trims whitespace and applies Unicode NFC normalization so
// byte-level encoding differences do not defeat cache lookups.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}
