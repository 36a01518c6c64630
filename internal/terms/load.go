package terms

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadCustomTerms reads a user terminology file. Two formats are accepted,
// one entry per line:
//
//	TensorFlow                  preserve the term untranslated
//	gradient descent<TAB>梯度下降   pin the translation of the term
//
// A comma also separates the two columns when the line contains no tab.
// Blank lines and lines starting with '#' are skipped.
func LoadCustomTerms(path string) ([]Term, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open terminology file: %w", err)
	}
	defer f.Close()

	var out []Term
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		surface, translation := splitColumns(line)
		if surface == "" {
			return nil, fmt.Errorf("terminology file %s: line %d has an empty term", path, lineNo)
		}
		out = append(out, Term{
			Surface:     surface,
			Translation: translation,
			FirstSeen:   -1,
			UserTerm:    true,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read terminology file: %w", err)
	}
	return out, nil
}

// splitColumns splits a line into (term, translation). Tab wins over comma
// so terms containing commas can still be expressed in tab-separated files.
func splitColumns(line string) (string, string) {
	if i := strings.IndexByte(line, '\t'); i >= 0 {
		return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
	}
	if i := strings.IndexByte(line, ','); i >= 0 {
		return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
	}
	return line, ""
}
