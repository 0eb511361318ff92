package rewrite

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrDiverged means a rewrite changed too much of the transcription to be
// trusted.
var ErrDiverged = errors.New("rewrite diverged from transcription")

// Divergence returns the word-level edit distance between reference and
// candidate divided by the reference word count. Case and punctuation are
// ignored. 0 means the same words; filler removal on a short sentence
// typically lands between 0.2 and 0.4.
func Divergence(reference, candidate string) float64 {
	ref := words(reference)
	cand := words(candidate)
	if len(ref) == 0 {
		if len(cand) == 0 {
			return 0
		}
		return 1
	}

	// Two-row Levenshtein over words.
	prev := make([]int, len(cand)+1)
	cur := make([]int, len(cand)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ref); i++ {
		cur[0] = i
		for j := 1; j <= len(cand); j++ {
			cost := 1
			if ref[i-1] == cand[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j-1]+cost, prev[j]+1, cur[j-1]+1)
		}
		prev, cur = cur, prev
	}
	return float64(prev[len(cand)]) / float64(len(ref))
}

// Guard returns ErrDiverged when candidate's divergence from raw exceeds max.
// A max of 0 or less disables the check.
func Guard(raw, candidate string, max float64) error {
	if max <= 0 {
		return nil
	}
	if d := Divergence(raw, candidate); d > max {
		return fmt.Errorf("%w: %.2f exceeds %.2f", ErrDiverged, d, max)
	}
	return nil
}

func words(s string) []string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Fields(s)
}
