// Package dedup detects near-duplicate practice content.
//
// Three views of a text are compared: its normalized form, its structural
// signature (numbers and names abstracted away) and an order-insensitive
// token fingerprint. The Gate combines them with edit-distance similarity
// and a cross-run canonical store.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const (
	numberPlaceholder = "#"
	namePlaceholder   = "@"
)

var (
	digitRun    = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	numberLitRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// Normalize lowercases text, replaces punctuation with spaces and collapses whitespace
func Normalize(text string) string {
	return normalizeKeeping(text, "")
}

func normalizeKeeping(text, keep string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case strings.ContainsRune(keep, r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// StructuralSignature abstracts digit runs and apparent proper nouns into
// placeholders and normalizes the result, so that "same template, different
// numbers or names" texts share a signature.
func StructuralSignature(text string) string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	sentenceStart := true
	for _, tok := range fields {
		core := strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		switch {
		case core == "":
			out = append(out, tok)
		case digitRun.MatchString(core):
			out = append(out, digitRun.ReplaceAllString(tok, numberPlaceholder))
		case !sentenceStart && isProperNoun(core):
			out = append(out, namePlaceholder)
		default:
			out = append(out, tok)
		}
		sentenceStart = endsSentence(tok)
	}
	return normalizeKeeping(strings.Join(out, " "), numberPlaceholder+namePlaceholder)
}

func isProperNoun(word string) bool {
	runes := []rune(word)
	if len(runes) < 2 {
		return false
	}
	return unicode.IsUpper(runes[0])
}

func endsSentence(tok string) bool {
	tok = strings.TrimRight(tok, `"')]`)
	return strings.HasSuffix(tok, ".") || strings.HasSuffix(tok, "?") ||
		strings.HasSuffix(tok, "!") || strings.HasSuffix(tok, ":")
}

// TokenFingerprint returns a digest of the sorted set of normalized tokens.
// Texts that differ only in word order share a fingerprint.
func TokenFingerprint(text string) string {
	tokens := strings.Fields(Normalize(text))
	if len(tokens) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(tokens))
	uniq := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		uniq = append(uniq, t)
	}
	sort.Strings(uniq)
	sum := sha256.Sum256([]byte(strings.Join(uniq, " ")))
	return hex.EncodeToString(sum[:16])
}

// Numbers extracts numeric literals in order of appearance
func Numbers(text string) []string {
	return numberLitRe.FindAllString(text, -1)
}
