// Package langcheck detects the language of document text. The pipeline
// uses it to resolve an "auto" source language from a document sample and
// to flag translated fragments that came back in the wrong language.
package langcheck

import (
	"fmt"
	"strings"

	lingua "github.com/pemistahl/lingua-go"
)

// minCheckRunes is the minimum rune count for a reliable detection.
// Shorter texts pass unchecked.
const minCheckRunes = 20

// Checker wraps a language detector. Building the detector loads the
// language models and is expensive; construct once per run.
type Checker struct {
	det lingua.LanguageDetector
}

func New() *Checker {
	return &Checker{
		det: lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build(),
	}
}

// DetectISO returns the ISO 639-1 code of text's language, if it can be
// determined.
func (c *Checker) DetectISO(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	lang, ok := c.det.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// Check reports whether text appears to be written in targetLang. Texts
// too short to detect reliably and texts of undeterminable language pass;
// a mismatch error names both codes.
func (c *Checker) Check(text, targetLang string) error {
	if targetLang == "" {
		return nil
	}
	text = strings.TrimSpace(text)
	if len([]rune(text)) < minCheckRunes {
		return nil
	}
	detected, ok := c.DetectISO(text)
	if !ok {
		return nil
	}
	if !strings.EqualFold(detected, baseLang(targetLang)) {
		return fmt.Errorf("expected %s but detected %s", targetLang, detected)
	}
	return nil
}

// baseLang reduces a region-qualified tag like "zh-CN" to its primary
// subtag for comparison against detector output.
func baseLang(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return tag[:i]
	}
	return tag
}
