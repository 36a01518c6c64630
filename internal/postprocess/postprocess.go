// Package postprocess removes common LLM artifacts from raw translation
// output before it is split, restored, and cached.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean strips model artifacts from text and returns the trimmed result:
// leaked reasoning blocks, echoed instructions ("Translation: …"), and a
// matching pair of wrapping quotes.
func Clean(text string) string {
	text = removeThinkingBlocks(text)
	text = removePrefixEchoes(text)
	text = removeQuoteWrapping(text)
	return strings.TrimSpace(text)
}

// thinkingBlockRe matches complete <think>…</think> style reasoning blocks.
// Tag variants are listed explicitly; RE2 has no backreferences.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>`,
)

// truncatedThinkingRe matches an opened reasoning tag that never closes
// (the model was cut off mid-thought).
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// echoPrefixes are introductory phrases models prepend even when told not
// to. Matched case-insensitively at the start of the output only.
var echoPrefixes = []string{
	"translation:",
	"translated text:",
	"here's the translation:",
	"here is the translation:",
}

func removePrefixEchoes(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, prefix := range echoPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return trimmed
}

// removeQuoteWrapping strips one matching pair of outer quotes when the
// entire text is wrapped in them.
func removeQuoteWrapping(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	first, last := runes[0], runes[n-1]
	if (first == '"' && last == '"') ||
		(first == '\'' && last == '\'') ||
		(first == '«' && last == '»') ||
		(first == '“' && last == '”') ||
		(first == '‘' && last == '’') {
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return text
}
